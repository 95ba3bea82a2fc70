package user

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upsertRecorder struct {
	Store
	users []*User
}

func (r *upsertRecorder) Upsert(ctx context.Context, u *User) error {
	r.users = append(r.users, u)
	return nil
}

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFixtures(t *testing.T) {
	path := writeFixture(t, `
users:
  - id: 1
    email: demo@example.com
    name: Demo User
    api_token: demo-token
    openclaw_endpoint: http://10.0.0.2:18789
    openclaw_token: remote-secret
  - id: 2
    email: second@example.com
    api_token: second-token
`)

	store := &upsertRecorder{}
	n, err := LoadFixtures(context.Background(), store, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, store.users, 2)

	first := store.users[0]
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "demo@example.com", first.Email)
	assert.Equal(t, "demo-token", first.APIToken)
	assert.Equal(t, "http://10.0.0.2:18789", first.RemoteEndpoint)
	assert.Equal(t, "remote-secret", first.RemoteToken)
	assert.True(t, first.RemoteConfigured())

	assert.False(t, store.users[1].RemoteConfigured())
}

func TestLoadFixtures_MissingID(t *testing.T) {
	path := writeFixture(t, `
users:
  - email: demo@example.com
    api_token: demo-token
`)
	_, err := LoadFixtures(context.Background(), &upsertRecorder{}, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no id")
}

func TestLoadFixtures_MissingToken(t *testing.T) {
	path := writeFixture(t, `
users:
  - id: 1
    email: demo@example.com
`)
	_, err := LoadFixtures(context.Background(), &upsertRecorder{}, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no api_token")
}

func TestLoadFixtures_FileMissing(t *testing.T) {
	_, err := LoadFixtures(context.Background(), &upsertRecorder{}, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
