package romm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/romm-sync/internal/tokenfile"
)

// defaultScopes covers the save-sync surface of the API.
var defaultScopes = []string{
	"me.read",
	"roms.read",
	"assets.read",
	"assets.write",
	"devices.read",
	"devices.write",
}

// oauthConfig builds the password-grant configuration for a server.
func oauthConfig(serverURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientName,
		Scopes:   defaultScopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(serverURL, "/") + "/api/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Login exchanges a username and password for a token using the OAuth2
// password grant, saves it to tokenPath, and returns a TokenSource that
// refreshes and re-persists it.
//
// The returned TokenSource binds ctx to the underlying oauth2 token source;
// ctx must outlive it.
func Login(
	ctx context.Context, serverURL, username, password, tokenPath string, logger *slog.Logger,
) (TokenSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := oauthConfig(serverURL)

	logger.Info("requesting token", slog.String("server", serverURL), slog.String("username", username))

	tok, err := cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("romm: password login failed: %w", err)
	}

	tf := &tokenfile.File{Token: tok, Server: serverURL, Username: username}
	if err := tokenfile.Save(tokenPath, tf); err != nil {
		return nil, fmt.Errorf("romm: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return newTokenBridge(cfg.TokenSource(ctx, tok), tokenPath, tf, logger), nil
}

// TokenSourceFromPath loads a saved token and returns a TokenSource with
// auto-refresh and auto-persistence. Returns ErrNotLoggedIn if no token file
// exists at the path.
func TokenSourceFromPath(ctx context.Context, tokenPath string, logger *slog.Logger) (TokenSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tf, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tf == nil {
		return nil, ErrNotLoggedIn
	}

	expired := !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(time.Now())
	logger.Debug("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tf.Token.Expiry),
		slog.Bool("expired", expired),
	)

	cfg := oauthConfig(tf.Server)

	return newTokenBridge(cfg.TokenSource(ctx, tf.Token), tokenPath, tf, logger), nil
}

// Logout removes the saved token file. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	removed, err := tokenfile.Remove(tokenPath)
	if err != nil {
		return err
	}

	if !removed {
		logger.Info("logout: no token file to remove (already logged out)", slog.String("path", tokenPath))
		return nil
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// StaticToken is a TokenSource that always returns the same bearer token.
// Useful for API keys and tests.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() (string, error) {
	return string(s), nil
}

// tokenBridge adapts oauth2.TokenSource to romm.TokenSource and persists the
// token whenever the oauth2 library silently refreshes it.
type tokenBridge struct {
	src    oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	file   tokenfile.File
	access string
}

func newTokenBridge(src oauth2.TokenSource, path string, tf *tokenfile.File, logger *slog.Logger) *tokenBridge {
	return &tokenBridge{
		src:    src,
		path:   path,
		logger: logger,
		file:   *tf,
		access: tf.Token.AccessToken,
	}
}

// Token implements TokenSource.
func (b *tokenBridge) Token() (string, error) {
	tok, err := b.src.Token()
	if err != nil {
		return "", fmt.Errorf("romm: obtaining token: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if tok.AccessToken != b.access {
		b.access = tok.AccessToken
		b.file.Token = tok
		b.file.SavedAt = time.Time{}

		if saveErr := tokenfile.Save(b.path, &b.file); saveErr != nil {
			b.logger.Warn("failed to persist refreshed token",
				slog.String("path", b.path),
				slog.String("error", saveErr.Error()),
			)
		} else {
			b.logger.Info("persisted refreshed token", slog.Time("new_expiry", tok.Expiry))
		}
	}

	return tok.AccessToken, nil
}
