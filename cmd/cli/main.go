package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/rastermosaic/internal/app"
	"github.com/vk/rastermosaic/internal/cli"
)

// main is the entrypoint for the rastermosaic application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW io.Writer, args []string) error {
	inv, shouldExit, err := cli.Parse(ctx, args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	switch inv.Command {
	case cli.CommandConvert:
		path, err := app.Convert(ctx, outW, inv.Convert)
		if err != nil {
			return err
		}
		fmt.Fprintln(outW, path)
		return nil
	case cli.CommandHistory:
		return app.History(ctx, outW, inv.History)
	default:
		_, err := app.NewApp(outW, inv.Run).Run(ctx)
		return err
	}
}
