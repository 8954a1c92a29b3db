/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/friendsincode/hydroclip/internal/clipname"
)

// Window is the half-open UTC interval [Start, End) clips are cut from.
type Window struct {
	Start time.Time
	End   time.Time
}

// Validate checks that the window is non-empty.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("window start and end are required")
	}
	if !w.Start.Before(w.End) {
		return fmt.Errorf("window start %s must be before end %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// Config is the immutable setup of one scheduler.
type Config struct {
	// StreamBase locates the hydrophone, e.g.
	// https://s3-us-west-2.amazonaws.com/streaming-orcasound-net/rpi_orcasound_lab
	StreamBase string
	// PollingInterval is the nominal clip duration.
	PollingInterval time.Duration
	Window          Window

	OutputDir  string
	ScratchDir string // defaults to the OS temp dir
	FailedDir  string // defaults to <OutputDir>/failed
	Format     string // output extension handed to the transcoder
	Location   *time.Location

	OverwriteOutput bool
	Quiet           bool
	RealTime        bool
}

func (c Config) withDefaults() Config {
	c.Window.Start = c.Window.Start.UTC()
	c.Window.End = c.Window.End.UTC()
	if c.ScratchDir == "" {
		c.ScratchDir = os.TempDir()
	}
	if c.FailedDir == "" && c.OutputDir != "" {
		c.FailedDir = filepath.Join(c.OutputDir, "failed")
	}
	c.Format = strings.TrimPrefix(c.Format, ".")
	if c.Format == "" {
		c.Format = "wav"
	}
	if c.Location == nil {
		c.Location = clipname.DefaultLocation()
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.StreamBase) == "" {
		return fmt.Errorf("stream base is required")
	}
	if c.PollingInterval <= 0 {
		return fmt.Errorf("polling interval must be positive, got %s", c.PollingInterval)
	}
	if err := c.Window.Validate(); err != nil {
		return err
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir is required")
	}
	if strings.ContainsAny(c.Format, `/\`) {
		return fmt.Errorf("format %q is not a file extension", c.Format)
	}
	return nil
}
