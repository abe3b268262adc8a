package gdrive

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// DefaultTokenFile is the file name of the stored OAuth token
const DefaultTokenFile = "gdrive-token.json"

// AuthMode selects how the Drive session is obtained
type AuthMode string

const (
	// AuthADC uses application default credentials: a service account
	// key, gcloud user credentials or the metadata server
	AuthADC AuthMode = "adc"
	// AuthOAuth uses a user token stored by `drivewatch auth`
	AuthOAuth AuthMode = "oauth"
)

func (m AuthMode) IsValid() bool {
	return m == AuthADC || m == AuthOAuth
}

// DefaultScopes covers reading the watched tree and writing mirror output
var DefaultScopes = []string{drive.DriveScope}

// ErrNoToken is returned in oauth mode before `drivewatch auth` has run
var ErrNoToken = errors.New("no stored token, run 'drivewatch auth' first")

// Authenticator produces the authenticated HTTP client that every Drive
// call goes through
type Authenticator struct {
	mode  AuthMode
	oauth *oauth2.Config
	store tokenStore
}

// NewAuthenticator creates an authenticator. clientID and clientSecret are
// only used in AuthOAuth mode; an empty tokenPath means DefaultTokenPath.
func NewAuthenticator(mode AuthMode, clientID, clientSecret, tokenPath string) *Authenticator {
	if mode == "" {
		mode = AuthADC
	}
	if tokenPath == "" {
		tokenPath = DefaultTokenPath()
	}

	return &Authenticator{
		mode: mode,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       DefaultScopes,
			Endpoint:     google.Endpoint,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		},
		store: tokenStore{path: tokenPath},
	}
}

// DefaultTokenPath returns the token location in the user config dir
func DefaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultTokenFile
	}
	return filepath.Join(dir, "drivewatch", DefaultTokenFile)
}

func (a *Authenticator) Mode() AuthMode { return a.mode }

func (a *Authenticator) TokenPath() string { return a.store.path }

// HTTPClient returns a client whose transport refreshes credentials on its
// own. In oauth mode refreshed tokens are written back to the token file.
func (a *Authenticator) HTTPClient(ctx context.Context) (*http.Client, error) {
	switch a.mode {
	case AuthADC:
		creds, err := google.FindDefaultCredentials(ctx, DefaultScopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to find application default credentials: %w", err)
		}
		return oauth2.NewClient(ctx, creds.TokenSource), nil

	case AuthOAuth:
		token, err := a.GetToken(ctx)
		if err != nil {
			return nil, err
		}
		src := &savingTokenSource{
			next:  a.oauth.TokenSource(ctx, token),
			store: a.store,
			last:  token.AccessToken,
		}
		return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src)), nil
	}
	return nil, fmt.Errorf("unsupported auth mode %q", a.mode)
}

// GetToken loads the stored token and refreshes it once when it has expired
func (a *Authenticator) GetToken(ctx context.Context) (*oauth2.Token, error) {
	if a.oauth.ClientID == "" || a.oauth.ClientSecret == "" {
		return nil, fmt.Errorf("oauth mode requires client_id and client_secret")
	}

	token, err := a.store.load()
	if err != nil {
		return nil, err
	}
	if token.Valid() {
		return token, nil
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("stored token expired without a refresh token, run 'drivewatch auth' again")
	}

	fresh, err := a.oauth.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token, run 'drivewatch auth' again: %w", err)
	}
	if err := a.store.save(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// AuthCodeURL returns the consent URL and the random state embedded in it
func (a *Authenticator) AuthCodeURL() (url, state string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	state = base64.RawURLEncoding.EncodeToString(b)
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), state, nil
}

// Exchange trades an authorization code for a token and stores it
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	if err := a.store.save(token); err != nil {
		return nil, err
	}
	return token, nil
}

// tokenStore keeps one OAuth token as JSON readable only by the owner
type tokenStore struct {
	path string
}

func (s tokenStore) load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", s.path, err)
	}
	return &token, nil
}

// save replaces the token file through a temp file and rename
func (s tokenStore) save(token *oauth2.Token) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0600)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), s.path)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// savingTokenSource stores every newly minted token so that a restarted
// watcher does not need a fresh consent
type savingTokenSource struct {
	next  oauth2.TokenSource
	store tokenStore

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.next.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		// The in-memory token stays usable when the write fails
		_ = s.store.save(token)
	}
	return token, nil
}
