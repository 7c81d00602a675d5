package session

import (
	"fmt"
	"strconv"
	"strings"
)

// SelectionError explains why a course selection was rejected
type SelectionError struct {
	Input  string
	Count  int
	Reason string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid selection %q: %s (choose 1-%d)", e.Input, e.Reason, e.Count)
}

// ParseSelection validates a 1-based menu answer against n entries and
// returns the 0-based index it selects.
func ParseSelection(input string, n int) (int, error) {
	trimmed := strings.TrimSpace(input)

	num, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, &SelectionError{Input: input, Count: n, Reason: "not a number"}
	}
	if num < 1 || num > n {
		return 0, &SelectionError{Input: input, Count: n, Reason: "out of range"}
	}
	return num - 1, nil
}
