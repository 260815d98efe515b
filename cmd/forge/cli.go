// Package main defines the forge command line using kong.
package main

import "github.com/alecthomas/kong"

var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config  string           `short:"c" type:"path" env:"FORGE_CONFIG" help:"Config file path (YAML)"`
	Repo    string           `short:"r" type:"path" help:"Repository root (default: current directory)"`
	Budget  float64          `default:"-1" help:"Per-task budget in USD; negative keeps the configured value"`
	Verbose bool             `short:"v" help:"Log loop transitions and trace events"`
	Version kong.VersionFlag `help:"Show version information"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Run    RunCmd    `cmd:"" help:"Run one task and exit"`
	Repl   ReplCmd   `cmd:"" default:"1" help:"Read tasks from stdin, one per line"`
	Cache  CacheCmd  `cmd:"" help:"Inspect the tool-chain cache"`
	Memory MemoryCmd `cmd:"" help:"Query the episodic memory"`
	Conf   ConfigCmd `cmd:"" name:"config" help:"Inspect the effective configuration"`
}

// RunCmd executes a single task.
type RunCmd struct {
	Task []string `arg:"" help:"Task description"`
}

// ReplCmd is the interactive loop.
type ReplCmd struct{}

type CacheCmd struct {
	Stats CacheStatsCmd `cmd:"" help:"Show cache statistics"`
	Clear CacheClearCmd `cmd:"" help:"Remove every cached chain"`
}

type CacheStatsCmd struct{}

type CacheClearCmd struct{}

type MemoryCmd struct {
	Search MemorySearchCmd `cmd:"" help:"Search past episodes"`
}

type MemorySearchCmd struct {
	Query []string `arg:"" help:"Search terms"`
	Limit int      `short:"n" default:"5" help:"Maximum episodes to show"`
}

type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" help:"Print the effective configuration with secrets redacted"`
}

type ConfigShowCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
