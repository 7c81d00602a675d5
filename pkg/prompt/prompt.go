// Package prompt asks line-based questions on a terminal or any reader/writer pair.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrClosed is returned by Ask after Close.
var ErrClosed = errors.New("prompt is closed")

// Line reads one answer per line from in and writes questions to out.
type Line struct {
	in     io.Reader
	reader *bufio.Reader
	out    io.Writer
	closed bool
}

// New creates a Line prompt. in may be os.Stdin, in which case AskSecret
// disables echo when stdin is a terminal.
func New(in io.Reader, out io.Writer) *Line {
	return &Line{
		in:     in,
		reader: bufio.NewReader(in),
		out:    out,
	}
}

type lineResult struct {
	text string
	err  error
}

// Ask writes question and returns the next input line without its line
// terminator. A final line without a newline is returned as is; an exhausted
// input returns io.EOF. A cancelled ctx returns immediately.
func (p *Line) Ask(ctx context.Context, question string) (string, error) {
	if p.closed {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := io.WriteString(p.out, question); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}

	done := make(chan lineResult, 1)
	go func() {
		text, err := p.readLine()
		done <- lineResult{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AskSecret is Ask with echo disabled when the input is a terminal.
func (p *Line) AskSecret(ctx context.Context, question string) (string, error) {
	f, ok := p.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.Ask(ctx, question)
	}
	if p.closed {
		return "", ErrClosed
	}

	if _, err := io.WriteString(p.out, question); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(secret), nil
}

// Close marks the prompt closed. The underlying reader is left open
// because it is usually stdin.
func (p *Line) Close() error {
	p.closed = true
	return nil
}

func (p *Line) readLine() (string, error) {
	text, err := p.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && text != "" {
			return strings.TrimRight(text, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(text, "\r\n"), nil
}
