/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import "fmt"

// Version is the current version of hydroclip.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/hydroclip/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// UserAgent is sent on every playlist and segment request.
func UserAgent() string {
	return fmt.Sprintf("hydroclip/%s", Version)
}
