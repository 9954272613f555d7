package domain

import "time"

// Credentials are loaded once at startup and owned by the token manager.
// StaticToken, when set, is used until the upstream rejects it.
type Credentials struct {
	ClientID     string
	ClientSecret string
	StaticToken  string
}

// HasClientCredentials reports whether an OAuth2 acquisition is possible.
func (c Credentials) HasClientCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// TokenSource tells where the cached token came from.
type TokenSource string

const (
	TokenSourceStatic TokenSource = "static"
	TokenSourceOAuth  TokenSource = "oauth"
)

// Token is the cached bearer token. It is replaced wholesale on refresh.
// ExpiresHint is informational only (decoded from a JWT exp claim when
// present); expiry is discovered through 401 responses.
type Token struct {
	Value       string      `json:"-"`
	AcquiredAt  time.Time   `json:"acquiredAt"`
	Source      TokenSource `json:"source"`
	ExpiresHint time.Time   `json:"expiresHint,omitempty"`
}

// TokenStatus is the redacted view of the token reported by /healthz.
type TokenStatus struct {
	Cached      bool        `json:"cached"`
	Source      TokenSource `json:"source,omitempty"`
	AcquiredAt  string      `json:"acquiredAt,omitempty"`
	ExpiresHint string      `json:"expiresHint,omitempty"`
	Refreshes   int64       `json:"refreshes"`
}
