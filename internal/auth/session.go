package auth

import (
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

// Session holds the credentials for one provider.
type Session struct {
	ProviderID   string    `json:"provider_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// Valid reports whether the session carries an access token that does not
// expire within leeway of now. A zero Expiry never expires.
func (s Session) Valid(now time.Time, leeway time.Duration) bool {
	if s.AccessToken == "" {
		return false
	}
	return s.Expiry.IsZero() || s.Expiry.After(now.Add(leeway))
}

// Anonymous reports whether the session carries no credentials at all.
func (s Session) Anonymous() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// LogValue implements slog.LogValuer. Tokens are never rendered.
func (s Session) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("provider_id", s.ProviderID),
		slog.Bool("has_access_token", s.AccessToken != ""),
		slog.Bool("has_refresh_token", s.RefreshToken != ""),
	}
	if !s.Expiry.IsZero() {
		attrs = append(attrs, slog.Time("expiry", s.Expiry))
	}
	return slog.GroupValue(attrs...)
}

func sessionFromToken(providerID string, tok *oauth2.Token) Session {
	return Session{
		ProviderID:   providerID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry,
	}
}

func (s Session) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		Expiry:       s.Expiry,
	}
}
