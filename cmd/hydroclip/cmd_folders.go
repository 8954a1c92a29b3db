/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/hydroclip/internal/folders"
	"github.com/friendsincode/hydroclip/internal/storage"
	"github.com/friendsincode/hydroclip/internal/telemetry"
)

var (
	foldersStart  string
	foldersEnd    string
	foldersStream string
)

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List the stream folders overlapping a window",
	Long: `Lists the hydrophone's HLS folders and prints the ones a fetch over the
same window would read, one per line as "<id> <start time>".

Examples:
  hydroclip folders --start 2020-09-27T00:00:00Z --end 2020-09-27T01:00:00Z`,
	RunE: runFolders,
}

func init() {
	rootCmd.AddCommand(foldersCmd)

	foldersCmd.Flags().StringVar(&foldersStart, "start", "", "Window start, RFC 3339 or unix seconds (required)")
	foldersCmd.Flags().StringVar(&foldersEnd, "end", "", "Window end, RFC 3339 or unix seconds (required)")
	foldersCmd.Flags().StringVar(&foldersStream, "stream", "", "Stream base URL (default from config)")
	_ = foldersCmd.MarkFlagRequired("start")
	_ = foldersCmd.MarkFlagRequired("end")
}

func runFolders(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	start, end, err := parseWindow(foldersStart, foldersEnd)
	if err != nil {
		return err
	}
	if foldersStream != "" {
		cfg.StreamBase = foldersStream
	}

	root, err := folders.ParseStreamBase(cfg.StreamBase)
	if err != nil {
		return err
	}

	s3cfg := storage.S3ConfigFrom(cfg)
	s3cfg.HTTPClient = telemetry.NewHTTPClient(cfg.HTTPTimeout)
	client, err := storage.NewS3Client(cmd.Context(), s3cfg)
	if err != nil {
		return err
	}

	all, err := folders.NewS3Index(client, root, logger).ListFolders(cmd.Context())
	if err != nil {
		return err
	}
	inWindow := folders.FilterWindow(all, start, end)
	logger.Info().Int("folders", len(inWindow)).Msg("found folders in date range")

	out := cmd.OutOrStdout()
	for _, id := range inWindow {
		fmt.Fprintf(out, "%s %s\n", id, id.Time().Format(time.RFC3339))
	}
	return nil
}
