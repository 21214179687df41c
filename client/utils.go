package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

// Flags represents the command-line flags that are passed to mirrorpad's client.
type Flags struct {
	Server string
	Secure bool
	File   string
	Emacs  bool
	Debug  bool
}

// parseFlags parses command-line flags.
func parseFlags() Flags {
	serverAddr := flag.String("server", "localhost:9000", "The network address of the server")
	useSecureConn := flag.Bool("secure", false, "Enable a secure WebSocket connection (wss://)")
	enableDebug := flag.Bool("debug", false, "Enable debugging mode to show more verbose logs")
	emacs := flag.Bool("emacs", false, "Start with the emacs keybindings (toggle with Ctrl+T)")
	file := flag.String("file", "", "The file to save the document to and load it from")

	flag.Parse()

	return Flags{
		Server: *serverAddr,
		Secure: *useSecureConn,
		Debug:  *enableDebug,
		Emacs:  *emacs,
		File:   *file,
	}
}

// ensureDirExists ensures that a directory exists, and if it isn't present, it tries to create a new one.
func ensureDirExists(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return true, nil
	}

	if err := os.Mkdir(path, 0700); err != nil {
		return false, err
	}
	return true, nil
}

// setupLogger routes the client's logs to files, since the terminal is
// taken by the editor. Warnings and errors go to mirrorpad.log, everything
// else to mirrorpad-debug.log, both under ~/.mirrorpad when it exists.
func setupLogger(logger *logrus.Logger, debug bool) (*os.File, *os.File, error) {
	logPath := "mirrorpad.log"
	debugLogPath := "mirrorpad-debug.log"

	homeDir, err := os.UserHomeDir()
	if err == nil {
		dir := filepath.Join(homeDir, ".mirrorpad")
		if ok, err := ensureDirExists(dir); err != nil {
			return nil, nil, err
		} else if ok {
			logPath = filepath.Join(dir, logPath)
			debugLogPath = filepath.Join(dir, debugLogPath)
		}
	}

	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) // skipcq: GSC-G302
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	debugLogFile, err := os.OpenFile(debugLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) // skipcq: GSC-G302
	if err != nil {
		logFile.Close()
		return nil, nil, fmt.Errorf("open debug log file: %w", err)
	}

	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.JSONFormatter{})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.AddHook(&writer.Hook{
		Writer: logFile,
		LogLevels: []logrus.Level{
			logrus.WarnLevel,
			logrus.ErrorLevel,
			logrus.FatalLevel,
			logrus.PanicLevel,
		},
	})
	logger.AddHook(&writer.Hook{
		Writer: debugLogFile,
		LogLevels: []logrus.Level{
			logrus.TraceLevel,
			logrus.DebugLevel,
			logrus.InfoLevel,
		},
	})

	return logFile, debugLogFile, nil
}

// closeLogFiles closes the log files created by the client.
// closeLogFiles is meant to be used for defer calls.
func closeLogFiles(logFile, debugLogFile *os.File) {
	if err := logFile.Close(); err != nil {
		fmt.Printf("Failed to close log file: %s", err)
		return
	}

	if err := debugLogFile.Close(); err != nil {
		fmt.Printf("Failed to close debug log file: %s", err)
		return
	}
}
