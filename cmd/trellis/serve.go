package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/HendryAvila/trellis/internal/logging"
	trellisserver "github.com/HendryAvila/trellis/internal/server"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(flags)
			if err != nil {
				return err
			}
			// stdout carries the MCP transport; logs go to stderr.
			logger := logging.New(os.Stderr, settings.Log.Level, settings.Log.Format)

			s, cleanup, err := trellisserver.New(settings, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()

			// Graceful shutdown on interrupt.
			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("serving", "version", trellisserver.Version, "root", settings.ProjectRoot, "config", settings.Source)
			err = server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

// contextOrBackground returns ctx or a background context when ctx is nil.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
