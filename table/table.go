// Package table holds the translation table mapping tag codes to the shell
// commands they trigger.
package table

import (
	"sort"
)

// Entry is a single tag code to command mapping.
type Entry struct {
	Code    string
	Command string
}

// Table is an immutable exact-match lookup from tag code to command.
// It is safe for concurrent reads.
type Table struct {
	commands map[string]string
}

// New builds a Table from entries. When a code appears more than once the
// last entry wins.
func New(entries []Entry) *Table {
	t := &Table{commands: make(map[string]string, len(entries))}
	for _, e := range entries {
		t.commands[e.Code] = e.Command
	}
	return t
}

// Lookup returns the command configured for code.
func (t *Table) Lookup(code string) (string, bool) {
	if t == nil {
		return "", false
	}
	cmd, ok := t.commands[code]
	return cmd, ok
}

// Len returns the number of distinct codes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.commands)
}

// Codes returns the configured codes in ascending order.
func (t *Table) Codes() []string {
	if t == nil {
		return nil
	}
	codes := make([]string, 0, len(t.commands))
	for c := range t.commands {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
