package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a real server, e.g.
// FLOWGRID_MYSQL_DSN="root:root@tcp(localhost:3306)/flowgrid_test" go test
func mysqlStore(t *testing.T) *MySQLStore {
	t.Helper()
	dsn := os.Getenv("FLOWGRID_MYSQL_DSN")
	if dsn == "" {
		t.Skip("FLOWGRID_MYSQL_DSN not set")
	}
	s, err := NewMySQLStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMySQLRoundTrip(t *testing.T) {
	s := mysqlStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, rec("mysql-test/01", "mysql-test", "v1")))
	t.Cleanup(func() { s.Delete(ctx, "mysql-test/01") })

	got, err := s.Get(ctx, "mysql-test/01")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got.Payload))

	// upsert replaces the payload in place
	require.NoError(t, s.Put(ctx, rec("mysql-test/01", "mysql-test", "v2")))
	got, err = s.Get(ctx, "mysql-test/01")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got.Payload))

	recs, err := s.List(ctx, "mysql-test")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMySQLDeleteMissing(t *testing.T) {
	s := mysqlStore(t)
	assert.ErrorIs(t, s.Delete(context.Background(), "ghost"), ErrNotFound)
}
