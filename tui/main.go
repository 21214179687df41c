package main

import (
	"context"
	"flag"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/collab"
)

// Flags represents the command-line flags that are passed to the bubbletea editor.
type Flags struct {
	Server  string
	Secure  bool
	LogFile string
	Debug   bool
}

// parseFlags parses command-line flags.
func parseFlags() Flags {
	serverAddr := flag.String("server", "localhost:9000", "The network address of the server")
	useSecureConn := flag.Bool("secure", false, "Enable a secure WebSocket connection (wss://)")
	logFile := flag.String("log", "mirrorpad-tui.log", "The file to write logs to")
	enableDebug := flag.Bool("debug", false, "Enable debugging mode to show more verbose logs")

	flag.Parse()

	return Flags{
		Server:  *serverAddr,
		Secure:  *useSecureConn,
		LogFile: *logFile,
		Debug:   *enableDebug,
	}
}

func main() {
	flags := parseFlags()

	// The terminal belongs to the editor, so logs go to a file.
	f, err := os.OpenFile(flags.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) // skipcq: GSC-G302
	if err != nil {
		color.Red("Logger error, exiting: %s", err)
		os.Exit(1)
	}
	defer f.Close()

	logger := logrus.New()
	logger.SetOutput(f)
	logger.SetFormatter(&logrus.JSONFormatter{})
	if flags.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := collab.Dial(ctx, flags.Server, flags.Secure, collab.WithLogger(logger))
	if err != nil {
		color.Red("Connection error, exiting: %s", err)
		return
	}
	defer conn.Close()

	if err := UI(ctx, conn, logger); err != nil {
		logger.WithError(err).Error("editor failed")
		color.Red("Error: %s", err)
	}
}
