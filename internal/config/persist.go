// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// UpdateLogSettings persists new log settings to config.toml, editing the
// existing (possibly commented) keys in place so the file keeps its layout
// and comments, and applies them to the in-memory config.
func (c *AppConfig) UpdateLogSettings(logLevel, logPath string, maxSize, maxBackups int) error {
	file := c.viper.ConfigFileUsed()
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	updated := updateLogSettingsInTOML(string(content), logLevel, logPath, maxSize, maxBackups)
	if err := os.WriteFile(file, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	c.mu.Lock()
	c.config.LogLevel = logLevel
	if logPath != "" {
		c.config.LogPath = logPath
	}
	c.config.LogMaxSize = maxSize
	c.config.LogMaxBackups = maxBackups
	c.mu.Unlock()
	return nil
}

// updateLogSettingsInTOML replaces the log keys in the TOML content in
// place. A commented-out key counts as the key's location. Keys that do not
// appear anywhere are inserted before the first table header so they stay in
// the top-level section.
func updateLogSettingsInTOML(content, logLevel, logPath string, maxSize, maxBackups int) string {
	lines := strings.Split(content, "\n")

	set := func(key, value string) {
		entry := key + " = " + value
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if strings.HasPrefix(trimmed, key+" ") || strings.HasPrefix(trimmed, key+"=") {
				lines[i] = entry
				return
			}
		}
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "[") {
				lines = append(lines[:i], append([]string{entry, ""}, lines[i:]...)...)
				return
			}
		}
		lines = append(lines, entry)
	}

	set("logLevel", strconv.Quote(logLevel))
	if logPath != "" {
		set("logPath", strconv.Quote(logPath))
	}
	set("logMaxSize", strconv.Itoa(maxSize))
	set("logMaxBackups", strconv.Itoa(maxBackups))

	return strings.Join(lines, "\n")
}
