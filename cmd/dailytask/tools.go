package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"dailytask/internal/calendar"
	"dailytask/internal/classifier"
	"dailytask/internal/config"
)

// loadOptional returns an empty config when path does not exist, so the
// tools also work without a config file.
func loadOptional(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Load()
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return &config.Config{}, nil
	}
	return nil, err
}

func classifyCommand(cfgPath *string) *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify a notification text with the configured rules",
		UsageText: "dailytask classify <text>",
		Action: func(_ context.Context, c *cli.Command) error {
			text := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				return errors.New("text is required")
			}
			cfg, err := loadOptional(*cfgPath)
			if err != nil {
				return err
			}
			cls := classifier.Default()
			if cfg.Classifier != nil {
				cls = classifier.New(*cfg.Classifier)
			}
			enc := json.NewEncoder(c.Root().Writer)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(cls.Classify(text))
		},
	}
}

func calendarCommand(cfgPath *string) *cli.Command {
	return &cli.Command{
		Name:      "calendar",
		Usage:     "Describe a date (default today) against the configured overrides",
		UsageText: "dailytask calendar [yyyy-MM-dd]",
		Action: func(_ context.Context, c *cli.Command) error {
			day := time.Now()
			if arg := strings.TrimSpace(c.Args().First()); arg != "" {
				d, err := time.ParseInLocation(calendar.DateLayout, arg, time.Local)
				if err != nil {
					return fmt.Errorf("invalid date %q: %w", arg, err)
				}
				day = d
			}
			cfg, err := loadOptional(*cfgPath)
			if err != nil {
				return err
			}
			r, _, err := cfg.Resolver(time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.Root().Writer, "%s %s (%s)\n", day.Format(calendar.DateLayout), r.Describe(day), r.Classify(day))
			return err
		},
	}
}
