package main

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string // optional TOML config file
	Debug      bool   // verbose slog output
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	JSON bool
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	Listen   string
	BasePath string
}

// HistoryFlags holds flags for the history command.
type HistoryFlags struct {
	Limit int
	JSON  bool
}
