package prompt

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsk_ReadsLines(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("abc\r\n 2 \nlast"), &out)
	ctx := context.Background()

	first, err := p.Ask(ctx, "Enter: ")
	require.NoError(t, err)
	assert.Equal(t, "abc", first)

	second, err := p.Ask(ctx, "Enter: ")
	require.NoError(t, err)
	assert.Equal(t, " 2 ", second)

	third, err := p.Ask(ctx, "Enter: ")
	require.NoError(t, err)
	assert.Equal(t, "last", third)

	_, err = p.Ask(ctx, "Enter: ")
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, strings.Repeat("Enter: ", 4), out.String())
}

func TestAsk_EmptyInput(t *testing.T) {
	p := New(strings.NewReader(""), io.Discard)
	_, err := p.Ask(context.Background(), "? ")
	assert.ErrorIs(t, err, io.EOF)
}

func TestAsk_BlankLine(t *testing.T) {
	p := New(strings.NewReader("\n"), io.Discard)
	answer, err := p.Ask(context.Background(), "? ")
	require.NoError(t, err)
	assert.Empty(t, answer)
}

func TestAsk_CancelledContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	p := New(pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Ask(ctx, "? ")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAsk_AfterClose(t *testing.T) {
	p := New(strings.NewReader("1\n"), io.Discard)
	require.NoError(t, p.Close())

	_, err := p.Ask(context.Background(), "? ")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAskSecret_NonTerminalFallsBack(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("hunter2\n"), &out)

	secret, err := p.AskSecret(context.Background(), "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
	assert.Equal(t, "Password: ", out.String())
}
