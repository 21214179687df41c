package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/client/editor"
	"github.com/burntcarrot/mirrorpad/collab"
	"github.com/burntcarrot/mirrorpad/host"
)

func main() {
	flags := parseFlags()

	logger := logrus.New()
	logFile, debugLogFile, err := setupLogger(logger, flags.Debug)
	if err != nil {
		color.Red("Logger error, exiting: %s", err)
		os.Exit(1)
	}
	defer closeLogFiles(logFile, debugLogFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := collab.Dial(ctx, flags.Server, flags.Secure, collab.WithLogger(logger))
	if err != nil {
		color.Red("Connection error, exiting: %s", err)
		return
	}
	defer conn.Close()

	h, err := collab.Join(ctx, conn, host.WithLogger(logger), host.WithAltKeymap(flags.Emacs))
	if err != nil {
		color.Red("Failed to fetch the document, exiting: %s", err)
		return
	}
	logger.WithFields(logrus.Fields{
		"client":  h.ClientID(),
		"version": h.Version(),
	}).Info("joined")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- collab.Sync(ctx, h, conn, collab.WithLogger(logger))
	}()

	s := &session{
		host:     h,
		editor:   editor.NewEditor(editor.EditorConfig{ScrollEnabled: true}),
		fileName: flags.File,
		log:      logger,
	}
	if err := s.UI(syncErr); err != nil && !errors.Is(err, errExit) {
		fmt.Printf("mirrorpad: %s\n", err)
		cancel()
		os.Exit(1)
	}
}
