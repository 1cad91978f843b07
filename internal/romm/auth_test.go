package romm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/romm-sync/internal/tokenfile"
)

// newTokenServer returns a server whose /api/token endpoint issues access
// tokens named after the grant type.
func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/token", r.URL.Path)
		require.NoError(t, r.ParseForm())

		access := "access-" + r.Form.Get("grant_type")
		if r.Form.Get("grant_type") == "password" {
			assert.Equal(t, "alice", r.Form.Get("username"))
			assert.Equal(t, "secret", r.Form.Get("password"))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"` + access + `","refresh_token":"refresh-1","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestLogin_SavesToken(t *testing.T) {
	srv := newTokenServer(t)
	tokenPath := filepath.Join(t.TempDir(), "token.json")

	ts, err := Login(context.Background(), srv.URL, "alice", "secret", tokenPath, nil)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-password", tok)

	tf, err := tokenfile.Load(tokenPath)
	require.NoError(t, err)
	require.NotNil(t, tf)
	assert.Equal(t, srv.URL, tf.Server)
	assert.Equal(t, "alice", tf.Username)
	assert.Equal(t, "refresh-1", tf.Token.RefreshToken)
}

func TestTokenSourceFromPath_NotLoggedIn(t *testing.T) {
	_, err := TokenSourceFromPath(context.Background(), filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestTokenSourceFromPath_RefreshIsPersisted(t *testing.T) {
	srv := newTokenServer(t)
	tokenPath := filepath.Join(t.TempDir(), "token.json")

	require.NoError(t, tokenfile.Save(tokenPath, &tokenfile.File{
		Token: &oauth2.Token{
			AccessToken:  "stale",
			RefreshToken: "refresh-0",
			Expiry:       time.Now().Add(-time.Hour),
		},
		Server: srv.URL,
	}))

	ts, err := TokenSourceFromPath(context.Background(), tokenPath, nil)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-refresh_token", tok)

	tf, err := tokenfile.Load(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "access-refresh_token", tf.Token.AccessToken)
	assert.Equal(t, srv.URL, tf.Server, "server URL survives refresh")
}

func TestLogout(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, Logout(tokenPath, nil), "missing token is not an error")

	require.NoError(t, tokenfile.Save(tokenPath, &tokenfile.File{Token: &oauth2.Token{AccessToken: "a"}}))
	require.NoError(t, Logout(tokenPath, nil))

	tf, err := tokenfile.Load(tokenPath)
	require.NoError(t, err)
	assert.Nil(t, tf)
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("k").Token()
	require.NoError(t, err)
	assert.Equal(t, "k", tok)
}
