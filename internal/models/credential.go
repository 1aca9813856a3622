// Package models defines types shared across internal packages.
package models

import "time"

// Credential is the OAuth token set for one authenticated WHOOP account.
// It is only ever persisted in sealed form.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	IssuedAt     time.Time `json:"issued_at,omitempty"`
}

// ExpiresAt returns when the access token expires, or the zero time when
// the lifetime is unknown.
func (c *Credential) ExpiresAt() time.Time {
	if c.ExpiresIn <= 0 || c.IssuedAt.IsZero() {
		return time.Time{}
	}
	return c.IssuedAt.Add(time.Duration(c.ExpiresIn) * time.Second)
}

// Valid reports whether the credential carries an access token.
func (c *Credential) Valid() bool {
	return c != nil && c.AccessToken != ""
}
