package main

import (
	"bytes"
	"testing"
)

func TestBuildRootHasSubcommands(t *testing.T) {
	root := buildRoot()
	want := []string{"start", "stop", "restart", "status", "tailscale", "history", "serve"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestRootRejectsUnknownArgs(t *testing.T) {
	root := buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"bogus"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error for unknown subcommand")
	}
}

func TestPersistentFlagsRegistered(t *testing.T) {
	root := buildRoot()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("missing --config flag")
	}
	if root.PersistentFlags().Lookup("debug") == nil {
		t.Fatalf("missing --debug flag")
	}
}

func TestStatusCommandFlags(t *testing.T) {
	root := buildRoot()
	status, _, err := root.Find([]string{"status"})
	if err != nil {
		t.Fatalf("find status: %v", err)
	}
	if status.Flags().Lookup("json") == nil {
		t.Fatalf("status missing --json flag")
	}
}

func TestHelpRunsWithoutStarting(t *testing.T) {
	root := buildRoot()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("stackctl")) {
		t.Fatalf("help output missing command name:\n%s", out.String())
	}
}
