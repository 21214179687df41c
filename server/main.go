package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/relay"
)

// Flags represents the command-line flags that are passed to the relay server.
type Flags struct {
	Addr  string
	Seed  string
	Debug bool
}

// parseFlags parses command-line flags.
func parseFlags() Flags {
	addr := flag.String("addr", ":9000", "Server's network address")
	seed := flag.String("seed", "Start document", "The initial document text")
	enableDebug := flag.Bool("debug", false, "Enable debugging mode to show more verbose logs")

	flag.Parse()

	return Flags{
		Addr:  *addr,
		Seed:  *seed,
		Debug: *enableDebug,
	}
}

func main() {
	flags := parseFlags()

	logger := logrus.New()
	if flags.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	s := newServer(relay.New(flags.Seed, relay.WithLogger(logger)), logger)
	httpServer := &http.Server{Addr: flags.Addr, Handler: s.routes()}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	color.Green("Starting server on %s", flags.Addr)

	// Buffered so the notifier is never blocked.
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-exit:
		logger.WithField("signal", sig).Info("shutting down")
	case err := <-errChan:
		logger.WithError(err).Fatal("Error starting server, exiting.")
	}

	// Websocket connections are hijacked and not tracked by Shutdown; closing
	// the server ends their pulls through the connection contexts.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
	s.closeConns()
}
