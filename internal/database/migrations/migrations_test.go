package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(Files, "sql/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(Files, "sql/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestStatementsSplitsInitSchema(t *testing.T) {
	stmts, err := Statements("0001_init.up.sql")
	require.NoError(t, err)

	// three tables plus three indexes
	assert.Len(t, stmts, 6)
	assert.Contains(t, stmts[5], "WHERE NOT superseded")
	assert.Contains(t, stmts[1], `"stripeSessionId" TEXT UNIQUE`)
	assert.Contains(t, stmts[1], "stripe_session_id TEXT")

	_, err = Statements("9999_missing.up.sql")
	assert.Error(t, err)
}
