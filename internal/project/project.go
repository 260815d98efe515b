// Package project locates per-repository forge files.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Dir holds per-repository forge files.
	Dir = ".forge"
	// ConfigFile is the repository config picked up when no --config is given.
	ConfigFile = "config.yaml"
	// RulesFile holds custom instructions appended to every system prompt.
	RulesFile = "rules.md"
)

// ConfigPath returns the repository config file, or "" when there is none.
func ConfigPath(repoRoot string) string {
	path := filepath.Join(repoRoot, Dir, ConfigFile)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return ""
	}
	return path
}

// LoadRules reads the custom rules file from dir.
// Returns empty string and no error if the file does not exist.
func LoadRules(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, RulesFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read rules file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RulesSection renders rules for a system prompt.
func RulesSection(rules string) string {
	if rules == "" {
		return ""
	}
	return "## Project rules\n\n" + rules
}
