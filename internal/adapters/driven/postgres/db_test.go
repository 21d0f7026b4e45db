package postgres

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithApplicationName(t *testing.T) {
	t.Run("adds name to url dsn", func(t *testing.T) {
		dsn, err := withApplicationName("postgres://u:p@localhost:5432/db?sslmode=disable")
		require.NoError(t, err)

		u, err := url.Parse(dsn)
		require.NoError(t, err)
		assert.Equal(t, "posbridge", u.Query().Get("application_name"))
		assert.Equal(t, "disable", u.Query().Get("sslmode"))
	})

	t.Run("keeps explicit name", func(t *testing.T) {
		dsn, err := withApplicationName("postgresql://localhost/db?application_name=ops")
		require.NoError(t, err)

		u, err := url.Parse(dsn)
		require.NoError(t, err)
		assert.Equal(t, "ops", u.Query().Get("application_name"))
	})

	t.Run("key value dsn untouched", func(t *testing.T) {
		raw := "host=localhost dbname=posbridge sslmode=disable"
		dsn, err := withApplicationName(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, dsn)
	})
}

func TestNullableRoundTrip(t *testing.T) {
	assert.False(t, nullable[string](nil).Valid)
	assert.Nil(t, ptr(nullable[string](nil)))

	now := time.Now()
	n := nullable(&now)
	require.True(t, n.Valid)
	got := ptr(n)
	require.NotNil(t, got)
	assert.True(t, now.Equal(*got))
	assert.NotSame(t, &now, got)
}
