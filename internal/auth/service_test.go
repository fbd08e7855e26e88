package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rahvis/VideoForge/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedLoginAndParse(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	svc := NewService(st, "test-secret", 15*time.Minute)
	require.NoError(t, svc.SeedUser("demo@videoforge.local", "demo123456"))
	require.NoError(t, svc.SeedUser("demo@videoforge.local", "demo123456"), "seeding twice is a no-op")

	user, token, err := svc.Login("demo@videoforge.local", "demo123456")
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)

	claims, err := svc.ParseAccess(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, _, err = svc.Login("demo@videoforge.local", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.ParseAccess("not-a-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestParseRejectsForeignSecret(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	issuer := NewService(st, "secret-a", time.Minute)
	require.NoError(t, issuer.SeedUser("u@example.com", "password1"))
	_, token, err := issuer.Login("u@example.com", "password1")
	require.NoError(t, err)

	verifier := NewService(st, "secret-b", time.Minute)
	_, err = verifier.ParseAccess(token.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
