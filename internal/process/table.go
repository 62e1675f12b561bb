package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Table is the in-memory record of PIDs launched by the most recent start,
// with an explicit load/save boundary to a flat one-PID-per-line file.
// Ordering is positional only; entries carry no association back to the
// spec that produced them. Saves are atomic (write temp, rename) so a
// crashed write never leaves a truncated table behind.
type Table struct {
	path string
	pids []int
}

// NewTable creates an empty table persisted at path.
func NewTable(path string) *Table {
	return &Table{path: path}
}

// Path returns the durable location of the table.
func (t *Table) Path() string { return t.path }

// PIDs returns a copy of the recorded PIDs in append order.
func (t *Table) PIDs() []int {
	return append([]int(nil), t.pids...)
}

// Reset clears the in-memory table. The file is not touched until Save.
func (t *Table) Reset() { t.pids = nil }

// Append records one launched PID.
func (t *Table) Append(pid int) { t.pids = append(t.pids, pid) }

// Load reads the persisted table. A missing file yields an empty table and
// no error: stop must succeed even when nothing was ever started. Malformed
// lines are skipped rather than failing the whole read.
func (t *Table) Load() error {
	b, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.pids = nil
			return nil
		}
		return err
	}
	var pids []int
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	t.pids = pids
	return nil
}

// Save writes the table atomically: the temp file is written next to the
// destination and renamed over it.
func (t *Table) Save() error {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	var sb strings.Builder
	for _, pid := range t.pids {
		fmt.Fprintf(&sb, "%d\n", pid)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(t.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(sb.String()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, t.path)
}

// Remove deletes the persisted table. A missing file is not an error.
func (t *Table) Remove() error {
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
