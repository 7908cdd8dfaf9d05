package table

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseError reports a malformed line in a translation table file.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// LoadFile reads a translation table file.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open translation table: %w", err)
	}
	defer f.Close()

	return Load(f, path)
}

// Load parses translation table entries from r. Each line holds a tag code
// and the command to run, separated by whitespace or '=':
//
//	# front door
//	0098765432 /usr/bin/unlock-door
//	0012345678=/usr/local/bin/notify "garage opened"
//
// Blank lines and lines starting with '#' are skipped. Entries are returned
// in file order; name is only used in errors.
func Load(r io.Reader, name string) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var entries []Entry
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		code, command, err := parseLine(line)
		if err != nil {
			return nil, &ParseError{File: name, Line: lineno, Msg: err.Error()}
		}
		entries = append(entries, Entry{Code: code, Command: command})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return entries, nil
}

func parseLine(line string) (string, string, error) {
	end := strings.IndexAny(line, " \t=")
	if end < 0 {
		return "", "", fmt.Errorf("missing command for %q", line)
	}

	code := line[:end]
	rest := strings.TrimSpace(line[end:])
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "="))

	if err := ValidateEntry(code, rest); err != nil {
		return "", "", err
	}

	return code, rest, nil
}

// ValidateEntry checks that code is a non-empty decimal tag code and
// command is not blank.
func ValidateEntry(code, command string) error {
	if code == "" {
		return fmt.Errorf("missing tag code")
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return fmt.Errorf("tag code %q is not decimal", code)
		}
	}
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("missing command for %s", code)
	}
	return nil
}
