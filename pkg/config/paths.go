// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the tokenwatch data directory.
//
// Priority:
// 1. TOKENWATCH_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.tokenwatch (default)
//
// The returned path is always absolute. Tilde (~) in TOKENWATCH_DATA_DIR is
// expanded to the user's home directory; relative paths are made absolute.
//
// This is called during bootstrap, before the config file is loaded, to
// locate the config file itself. It reads os.Getenv directly rather than
// viper to avoid a circular dependency during config initialization.
func DataDir() string {
	if dataDir := os.Getenv("TOKENWATCH_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir cannot be determined
		return ".tokenwatch"
	}
	return filepath.Join(homeDir, ".tokenwatch")
}

// SubDir returns a subdirectory within the data directory.
// Example: SubDir("logs") returns ~/.tokenwatch/logs
func SubDir(subdir string) string {
	return filepath.Join(DataDir(), subdir)
}

// expandPath expands ~ and resolves to absolute path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path // Return as-is if we can't get home dir
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
