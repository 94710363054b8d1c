// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package buildinfo carries the version information stamped in at build
// time via -ldflags.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""

	// UserAgent identifies this build in outgoing HTTP requests.
	UserAgent string
)

func init() {
	UserAgent = fmt.Sprintf("kapowarr/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String renders the build info for the version command.
func String() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\n", Version, Commit, Date)
}

// JSON renders the build info for the API.
func JSON() ([]byte, error) {
	return json.Marshal(struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
		Date    string `json:"date"`
	}{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	})
}
