package whoop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"github.com/BradyMeighan/WhoopGPT/internal/models"
	"golang.org/x/oauth2"
)

const (
	// AuthorizeEndpoint is the WHOOP authorization page.
	AuthorizeEndpoint = "https://api.prod.whoop.com/oauth/oauth2/auth"

	// TokenEndpoint exchanges codes and refresh tokens.
	TokenEndpoint = "https://api.prod.whoop.com/oauth/oauth2/token"

	// Scope is requested on every authorization.
	Scope = "read:recovery read:sleep read:profile read:workout read:cycles read:body_measurement"
)

// OAuthConfig holds the registered client and where its grants go.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// AuthURL and TokenURL override the production endpoints.
	AuthURL  string
	TokenURL string
}

// OAuthClient performs the authorization-code and refresh grants against
// the WHOOP token endpoint. It does not retry.
type OAuthClient struct {
	cfg        *oauth2.Config
	httpClient *http.Client
}

// NewOAuthClient creates an OAuth client. If httpClient is nil, a client
// with the default upstream timeout is used.
func NewOAuthClient(c OAuthConfig, httpClient *http.Client) *OAuthClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}

	authURL := c.AuthURL
	if authURL == "" {
		authURL = AuthorizeEndpoint
	}

	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = TokenEndpoint
	}

	return &OAuthClient{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Scopes:       strings.Fields(Scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// AuthorizeURL returns the authorization page URL carrying state.
func (c *OAuthClient) AuthorizeURL(state string) string {
	return c.cfg.AuthCodeURL(state)
}

// Exchange trades an authorization code for a credential.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*models.Credential, error) {
	tok, err := c.cfg.Exchange(c.context(ctx), code)
	if err != nil {
		return nil, tokenError("exchanging code", err)
	}

	return credentialFromToken(tok, time.Now()), nil
}

// Refresh trades a refresh token for a new credential. When the upstream
// omits a new refresh token the old one is carried over.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*models.Credential, error) {
	src := c.cfg.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, tokenError("refreshing token", err)
	}

	cred := credentialFromToken(tok, time.Now())
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}

	return cred, nil
}

func (c *OAuthClient) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// tokenError maps oauth2 failures onto the broker's error types.
func tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}

		return &apperrors.UpstreamAuthError{
			Status: status,
			Body:   sanitizeResponseBody(re.Body),
		}
	}

	if isTimeout(err) {
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrUpstreamTimeout, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}

func credentialFromToken(tok *oauth2.Token, now time.Time) *models.Credential {
	cred := &models.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		IssuedAt:     now.UTC(),
	}

	switch v := tok.Extra("expires_in").(type) {
	case float64:
		cred.ExpiresIn = int64(v)
	default:
		if !tok.Expiry.IsZero() {
			cred.ExpiresIn = int64(math.Round(tok.Expiry.Sub(now).Seconds()))
		}
	}

	if scope, ok := tok.Extra("scope").(string); ok {
		cred.Scope = scope
	}

	return cred
}
