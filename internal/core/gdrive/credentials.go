package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core/userstore"
)

// savedToken accepts both the oauth2.Token field names and the
// token/client_id shape written by other Drive tooling.
type savedToken struct {
	Token        string     `json:"token,omitempty"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type,omitempty"`
	Expiry       *time.Time `json:"expiry,omitempty"`
	TokenURI     string     `json:"token_uri,omitempty"`
	ClientID     string     `json:"client_id,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
}

func (s savedToken) oauth2Token() *oauth2.Token {
	t := &oauth2.Token{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken, TokenType: s.TokenType}
	if t.AccessToken == "" {
		t.AccessToken = s.Token
	}
	if s.Expiry != nil {
		t.Expiry = *s.Expiry
	}
	return t
}

// readInlineOrFile treats values starting with '{' as inline JSON and
// anything else as a path.
func readInlineOrFile(v string) ([]byte, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, false, common.ErrNotConfigured
	}
	if strings.HasPrefix(v, "{") {
		return []byte(v), false, nil
	}
	raw, err := os.ReadFile(v)
	if os.IsNotExist(err) {
		return nil, true, fmt.Errorf("%s: %w", v, common.ErrNotConfigured)
	}
	return raw, true, err
}

// TokenSource builds a refreshing token source from the OAuth client config
// and a saved token. Refreshed tokens are written back when credentials is
// a file path.
func TokenSource(ctx context.Context, clientConfig, credentials string) (oauth2.TokenSource, error) {
	rawTok, isFile, err := readInlineOrFile(credentials)
	if err != nil {
		return nil, fmt.Errorf("drive token: %w", err)
	}
	var saved savedToken
	if err := json.Unmarshal(rawTok, &saved); err != nil {
		return nil, fmt.Errorf("parse drive token: %w", err)
	}
	if saved.RefreshToken == "" && saved.Token == "" && saved.AccessToken == "" {
		return nil, fmt.Errorf("drive token is empty: %w", common.ErrNotConfigured)
	}

	var cfg *oauth2.Config
	if rawCfg, _, err := readInlineOrFile(clientConfig); err == nil {
		cfg, err = google.ConfigFromJSON(rawCfg, drive.DriveReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parse drive client config: %w", err)
		}
	} else if saved.ClientID != "" {
		cfg = &oauth2.Config{
			ClientID:     saved.ClientID,
			ClientSecret: saved.ClientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: google.Endpoint.AuthURL, TokenURL: firstNonEmpty(saved.TokenURI, google.Endpoint.TokenURL)},
			Scopes:       saved.Scopes,
		}
	} else {
		return nil, fmt.Errorf("drive client config: %w", err)
	}

	tok := saved.oauth2Token()
	src := oauth2.ReuseTokenSource(tok, cfg.TokenSource(ctx, tok))
	if !isFile {
		return src, nil
	}
	return &persistingSource{src: src, path: strings.TrimSpace(credentials), saved: saved, last: tok.AccessToken}, nil
}

type persistingSource struct {
	mu    sync.Mutex
	src   oauth2.TokenSource
	path  string
	saved savedToken
	last  string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	t, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t.AccessToken != p.last {
		p.last = t.AccessToken
		p.saved.Token = t.AccessToken
		p.saved.AccessToken = t.AccessToken
		if t.RefreshToken != "" {
			p.saved.RefreshToken = t.RefreshToken
		}
		exp := t.Expiry
		p.saved.Expiry = &exp
		if raw, err := json.MarshalIndent(p.saved, "", "  "); err == nil {
			_ = userstore.WriteFileAtomic(p.path, raw, 0o600)
		}
	}
	return t, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
