package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-tickets/internal/logger"
	"ms-tickets/internal/tickets/signing"
	"ms-tickets/internal/tickets/theme"
)

var signedAt = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func TestRunWritesPDFForEveryTheme(t *testing.T) {
	dir := t.TempDir()
	for _, name := range theme.Names() {
		out := filepath.Join(dir, name+".pdf")
		opts := renderOptions{theme: name, out: out, secret: "s3cret", attendee: "Jane Doe"}
		require.NoError(t, run(opts, signedAt, logger.NewNop()))

		raw, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "%PDF", string(raw[:4]), name)
	}
}

func TestRunRejectsUnknownThemeAndEmptySecret(t *testing.T) {
	out := filepath.Join(t.TempDir(), "x.pdf")

	err := run(renderOptions{theme: "neon", out: out, secret: "s3cret", attendee: "Jane"}, signedAt, logger.NewNop())
	assert.ErrorIs(t, err, theme.ErrUnknownTheme)

	err = run(renderOptions{theme: theme.Default, out: out, secret: " ", attendee: "Jane"}, signedAt, logger.NewNop())
	assert.ErrorIs(t, err, signing.ErrMissingSigningSecret)
}

func TestCommandParsesFlags(t *testing.T) {
	out := filepath.Join(t.TempDir(), "classic.pdf")
	var stdout bytes.Buffer

	cmd := newRootCmd(logger.NewNop())
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--theme", "classic", "--out", out, "--secret", "s3cret", "--name", "Sam Lee"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "wrote "+out+"\n", stdout.String())
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(raw[:4]))
}

func TestCommandRejectsUnknownTheme(t *testing.T) {
	cmd := newRootCmd(logger.NewNop())
	cmd.SetArgs([]string{"--theme", "neon", "--out", filepath.Join(t.TempDir(), "x.pdf")})
	assert.ErrorIs(t, cmd.Execute(), theme.ErrUnknownTheme)

	cmd = newRootCmd(logger.NewNop())
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
