// Package discord implements the Discord OAuth2 code flow used for "Login with Discord".
package discord

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://discord.com/oauth2/authorize"
	defaultTokenURL = "https://discord.com/api/oauth2/token"
	defaultAPIBase  = "https://discord.com/api/v10"
)

var (
	ErrDisabled     = errors.New("discord: login not configured")
	ErrInvalidInput = errors.New("discord: invalid input")
	ErrExchange     = errors.New("discord: code exchange failed")
	ErrProfile      = errors.New("discord: user lookup failed")
)

// Config holds the OAuth2 application settings. The URL fields exist for tests.
type Config struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	AuthURL      string `mapstructure:"auth_url"`
	TokenURL     string `mapstructure:"token_url"`
	APIBase      string `mapstructure:"api_base"`
}

// Enabled reports whether client credentials are present.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// User is the subset of Discord's /users/@me the app consumes.
type User struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	GlobalName *string `json:"global_name"`
	Email      *string `json:"email"`
	Verified   bool    `json:"verified"`
}

// Client runs the code flow and the profile lookup.
type Client struct {
	oauth *oauth2.Config
	api   *resty.Client
}

// New constructs a Client. A config without credentials yields ErrDisabled.
func New(cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, fmt.Errorf("%w: redirect_url is required", ErrInvalidInput)
	}

	authURL := orDefault(cfg.AuthURL, defaultAuthURL)
	tokenURL := orDefault(cfg.TokenURL, defaultTokenURL)
	apiBase := strings.TrimRight(orDefault(cfg.APIBase, defaultAPIBase), "/")

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"identify", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		api: resty.New().
			SetBaseURL(apiBase).
			SetTimeout(10*time.Second).
			SetHeader("Accept", "application/json"),
	}, nil
}

// NewState returns an unguessable value for the OAuth2 state parameter.
func NewState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthCodeURL is where the browser is sent to approve the app.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for the caller's Discord profile.
func (c *Client) Exchange(ctx context.Context, code string) (User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return User{}, fmt.Errorf("%w: missing code", ErrInvalidInput)
	}
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrExchange, err)
	}
	return c.Me(ctx, tok.AccessToken)
}

// Me fetches the profile for an access token.
func (c *Client) Me(ctx context.Context, accessToken string) (User, error) {
	var u User
	resp, err := c.api.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&u).
		Get("/users/@me")
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrProfile, err)
	}
	if resp.IsError() {
		return User{}, fmt.Errorf("%w: status %d", ErrProfile, resp.StatusCode())
	}
	if u.ID == "" {
		return User{}, fmt.Errorf("%w: empty id", ErrProfile)
	}
	return u, nil
}

// SuggestedUsername picks a starting username for a new account.
func (u User) SuggestedUsername() string {
	if u.GlobalName != nil && strings.TrimSpace(*u.GlobalName) != "" {
		return strings.TrimSpace(*u.GlobalName)
	}
	return u.Username
}

// VerifiedEmail returns the email only when Discord has verified it.
func (u User) VerifiedEmail() string {
	if !u.Verified || u.Email == nil {
		return ""
	}
	return strings.TrimSpace(*u.Email)
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
