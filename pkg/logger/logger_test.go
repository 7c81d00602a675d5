package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func reset(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(os.Stderr)
	})
	return &buf
}

func TestSetVerbose(t *testing.T) {
	reset(t)

	SetVerbose(false)
	assert.False(t, IsVerbose())

	SetVerbose(true)
	assert.True(t, IsVerbose())
}

func TestLevels_WhenVerbose(t *testing.T) {
	buf := reset(t)
	SetVerbose(true)

	Debug("ledger has %d entries", 4)
	Info("navigating to %s", "/portal/user/profile.php")
	Warn("catalog unavailable")

	assert.Equal(t,
		"[DEBUG] ledger has 4 entries\n"+
			"[INFO] navigating to /portal/user/profile.php\n"+
			"[WARN] catalog unavailable\n",
		buf.String())
}

func TestLevels_WhenNotVerbose(t *testing.T) {
	buf := reset(t)
	SetVerbose(false)

	Debug("hidden")
	Info("hidden")
	Warn("hidden")
	Section("Login")

	assert.Zero(t, buf.Len())
}

func TestSection(t *testing.T) {
	buf := reset(t)
	SetVerbose(true)

	Section("Login")
	assert.Equal(t, "\n=== Login ===\n", buf.String())
}
