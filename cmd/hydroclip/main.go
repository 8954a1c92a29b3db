/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/hydroclip/internal/config"
	"github.com/friendsincode/hydroclip/internal/logbuffer"
	"github.com/friendsincode/hydroclip/internal/logging"
)

var (
	logger zerolog.Logger
	cfg    *config.Config

	configPath string
	logFile    string
	logOut     *os.File

	// recentLogs backs the /logs endpoint of the metrics server.
	recentLogs = logbuffer.New(2000)
)

var rootCmd = &cobra.Command{
	Use:   "hydroclip",
	Short: "Cut hydrophone HLS streams into audio clips",
	Long: `hydroclip rebuilds fixed-length audio clips from the segmented HLS streams
hydrophones publish to S3, for any UTC time window.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logOut != nil {
			logOut.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file overlaid on environment settings")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also append JSON logs to this file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var extra io.Writer = recentLogs
	if logFile != "" {
		logOut, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		extra = io.MultiWriter(recentLogs, logOut)
	}
	logger = logging.SetupWithWriter(cfg.Environment, extra)
	return nil
}

// parseInstant accepts RFC 3339 or unix seconds.
func parseInstant(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("time is required")
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: want RFC 3339 or unix seconds", value)
	}
	return t.UTC(), nil
}

func parseWindow(start, end string) (time.Time, time.Time, error) {
	s, err := parseInstant(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
	}
	e, err := parseInstant(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
	}
	if !s.Before(e) {
		return time.Time{}, time.Time{}, fmt.Errorf("--start must be before --end")
	}
	return s, e, nil
}
