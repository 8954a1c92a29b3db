/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transcode joins downloaded MPEG-TS segments and converts the result
// to the clip's audio container with ffmpeg.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Options control a single transcode run.
type Options struct {
	// Overwrite replaces an existing output file instead of failing.
	Overwrite bool
	// Quiet suppresses ffmpeg's diagnostic output.
	Quiet bool
}

// Error reports a failed ffmpeg run together with its diagnostics.
type Error struct {
	Output string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("transcode %s: %v: %s", e.Output, e.Err, lastLine(e.Stderr))
	}
	return fmt.Sprintf("transcode %s: %v", e.Output, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Assembler concatenates segments and runs ffmpeg.
type Assembler struct {
	ffmpegBin string
	logger    zerolog.Logger
}

// NewAssembler creates an assembler that invokes ffmpegBin.
func NewAssembler(ffmpegBin string, logger zerolog.Logger) *Assembler {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &Assembler{
		ffmpegBin: ffmpegBin,
		logger:    logger.With().Str("component", "assembler").Logger(),
	}
}

// Concat writes files, in order, into dst. MPEG-TS is a packet stream, so a
// plain byte concatenation is a valid transport stream.
func (a *Assembler) Concat(ctx context.Context, files []string, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create concat file: %w", err)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		if err := appendFile(out, f); err != nil {
			out.Close()
			return err
		}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("sync concat file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close concat file: %w", err)
	}
	return nil
}

func appendFile(w io.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	defer in.Close()

	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("append segment %s: %w", path, err)
	}
	return nil
}

// Transcode converts input to output; the container follows output's extension.
func (a *Assembler) Transcode(ctx context.Context, input, output string, opts Options) error {
	args := ffmpegArgs(input, output, opts)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.ffmpegBin, args...)
	if opts.Quiet {
		cmd.Stderr = &stderr
	} else {
		cmd.Stderr = io.MultiWriter(&stderr, os.Stderr)
	}

	a.logger.Debug().Str("input", input).Str("output", output).Strs("args", args).Msg("running ffmpeg")

	if err := cmd.Run(); err != nil {
		return &Error{
			Output: output,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return nil
}

// ffmpegArgs builds the argument list for one transcode.
func ffmpegArgs(input, output string, opts Options) []string {
	args := []string{"-hide_banner", "-nostdin"}
	if opts.Quiet {
		args = append(args, "-loglevel", "error")
	}
	if opts.Overwrite {
		args = append(args, "-y")
	} else {
		args = append(args, "-n")
	}
	args = append(args, "-i", input, "-vn", output)
	return args
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
