/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version exposes the build version reported by the CLI,
// the tracer and the health endpoint.
package version

import (
	"fmt"
	"runtime/debug"
)

// Version is the current version of memequeue.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/memequeue/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// Info returns the version plus the VCS revision baked into the binary
// by the Go toolchain, when available.
func Info() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}

	var revision, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			if setting.Value == "true" {
				modified = "-dirty"
			}
		}
	}
	if revision == "" {
		return Version
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	return fmt.Sprintf("%s (%s%s)", Version, revision, modified)
}
