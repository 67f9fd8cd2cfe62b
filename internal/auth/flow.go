package auth

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// GrantType selects how a completed handshake yields a token.
type GrantType string

const (
	// GrantCode delivers an authorization code that is exchanged
	// server-to-server at the token endpoint.
	GrantCode GrantType = "code"
	// GrantToken delivers the access token directly in the completion signal.
	GrantToken GrantType = "token"
)

// Flow describes a provider's interactive authorization handshake.
type Flow struct {
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// PKCE binds the authorization code to a per-handshake verifier using
	// an S256 challenge.
	PKCE  bool
	Grant GrantType
}

// Validate checks that the flow can run a handshake.
func (f Flow) Validate() error {
	var missing []string
	if f.AuthURL == "" {
		missing = append(missing, "auth_url")
	}
	if f.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if f.RedirectURL == "" {
		missing = append(missing, "redirect_url")
	}
	switch f.grant() {
	case GrantCode:
		if f.TokenURL == "" {
			missing = append(missing, "token_url")
		}
	case GrantToken:
	default:
		return fmt.Errorf("unknown grant %q", f.Grant)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (f Flow) grant() GrantType {
	if f.Grant == "" {
		return GrantCode
	}
	return f.Grant
}

func (f Flow) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		RedirectURL:  f.RedirectURL,
		Scopes:       f.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.AuthURL,
			TokenURL: f.TokenURL,
		},
	}
}
