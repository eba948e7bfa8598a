/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build information.
package version

import "fmt"

// Version is the current release. Set at build time via ldflags:
//
//	-X github.com/friendsincode/slotmarket/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the source revision, set at build time.
var Commit = "dev"

// String renders version and commit for logs and the CLI.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
