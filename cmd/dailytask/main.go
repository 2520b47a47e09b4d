package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"dailytask/internal/app"
)

// Populated at build time via -ldflags.
var (
	version = "dev"
	commit  = "HEAD"
)

func build() string {
	v, c := version, commit
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
				}
			}
		}
	}
	if len(c) > 7 {
		c = c[:7]
	}
	return fmt.Sprintf("%s (%s)", v, c)
}

func main() {
	var cfgPath string

	cmd := &cli.Command{
		Name:    "dailytask",
		Usage:   "Run scheduled daily check-ins and answer remote commands",
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file (.json, .yaml or .yml)",
				Sources:     cli.EnvVars("DAILYTASK_CONFIG"),
				Value:       "./config.yaml",
				Destination: &cfgPath,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error { return run(ctx, cfgPath) },
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the service (default)",
				Action: func(ctx context.Context, _ *cli.Command) error { return run(ctx, cfgPath) },
			},
			classifyCommand(&cfgPath),
			calendarCommand(&cfgPath),
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(_ context.Context, c *cli.Command) error {
					_, err := fmt.Fprintln(c.Root().Writer, build())
					return err
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(parent context.Context, cfgPath string) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, build())
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	case <-a.RestartRequested():
		reason = app.StopRestart
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	switch reason {
	case app.StopRestart:
		return app.Reexec()
	case app.StopFatalError:
		if err := a.Err(); err != nil {
			return err
		}
	}
	return nil
}
