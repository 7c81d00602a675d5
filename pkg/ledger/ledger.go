// Package ledger keeps the append-only record of downloaded files.
//
// The ledger file holds one key per line in the form "<courseFolder>/<fileName>".
// It is loaded once at startup and appended to after each confirmed download;
// it is never rewritten, so corrections are made by editing the file by hand.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Ledger is the in-memory set of downloaded keys backed by an append-only file.
// It is not safe for concurrent use.
type Ledger struct {
	path string
	keys map[string]bool

	// unterminated is set while the file's last line lacks a trailing newline.
	unterminated bool
}

// Open loads the ledger at path. A missing file yields an empty ledger.
func Open(path string) (*Ledger, error) {
	keys, unterminated, err := load(path)
	if err != nil {
		return nil, err
	}
	return &Ledger{path: path, keys: keys, unterminated: unterminated}, nil
}

// load reads the ledger file, one key per line, skipping empty lines.
// It also reports whether the file ends without a newline.
func load(path string) (map[string]bool, bool, error) {
	keys := make(map[string]bool)

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return keys, false, nil
		}
		return nil, false, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		keys[line] = true
	}

	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("error reading ledger at line %d: %w", lineNum, err)
	}

	unterminated, err := endsWithoutNewline(file)
	if err != nil {
		return nil, false, err
	}
	return keys, unterminated, nil
}

// endsWithoutNewline reports whether a non-empty file's last byte is not '\n'
func endsWithoutNewline(file *os.File) (bool, error) {
	info, err := file.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat ledger: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("failed to read ledger tail: %w", err)
	}
	return last[0] != '\n', nil
}

// Contains reports whether key has been recorded.
func (l *Ledger) Contains(key string) bool {
	return l.keys[key]
}

// Record appends key to the ledger file and adds it to the in-memory set.
// The write is synced to disk before Record returns. Call it only after the
// corresponding file has been completely written.
func (l *Ledger) Record(key string) error {
	if key == "" || strings.ContainsAny(key, "\r\n") {
		return fmt.Errorf("invalid ledger key %q", key)
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger for append: %w", err)
	}

	line := key + "\n"
	if l.unterminated {
		line = "\n" + line
	}
	if _, err := file.WriteString(line); err != nil {
		file.Close()
		return fmt.Errorf("failed to append to ledger: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}

	l.unterminated = false
	l.keys[key] = true
	return nil
}

// Len returns the number of distinct recorded keys.
func (l *Ledger) Len() int {
	return len(l.keys)
}

// Path returns the backing file path.
func (l *Ledger) Path() string {
	return l.path
}
