package authapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/auth/discord"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/auth/session"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/forum"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/invite"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/posttoken"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/registration"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/storage"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/wallet"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/mfa"
)

// Sessions issues and verifies access tokens.
type Sessions interface {
	Issue(userID string, now time.Time) (string, time.Time, error)
	Verify(token string, now time.Time) (session.Claims, error)
}

// Gate resolves ban and blacklist status.
type Gate interface {
	Check(ctx context.Context, userID, ip string) (moderation.Status, error)
}

// Moderator records bans and blacklist entries.
type Moderator interface {
	BanUser(ctx context.Context, in moderation.RestrictInput) (moderation.Entry, error)
	BlacklistIP(ctx context.Context, in moderation.RestrictInput) (moderation.Entry, error)
	UnbanUser(ctx context.Context, in moderation.LiftInput) (int64, error)
	UnblacklistIP(ctx context.Context, in moderation.LiftInput) (int64, error)
}

// Registrar creates accounts.
type Registrar interface {
	RegisterPassword(ctx context.Context, in registration.PasswordInput) (registration.Result, error)
	RegisterDiscord(ctx context.Context, in registration.DiscordInput) (registration.Result, error)
}

// Invites is the invite ledger surface.
type Invites interface {
	Create(ctx context.Context, in invite.CreateInput) (invite.Invite, error)
	Validate(ctx context.Context, code string) (invite.Validation, error)
}

// PostTokens mints one-time post tokens.
type PostTokens interface {
	Issue(ctx context.Context, userID, clientIP string) (posttoken.Issued, error)
}

// Forum is the thread, reply and reaction surface.
type Forum interface {
	CreateThread(ctx context.Context, a forum.Author, title, body, postToken string) (forum.Thread, error)
	CreateReply(ctx context.Context, a forum.Author, threadID, body, postToken string) (forum.Reply, error)
	GetThread(ctx context.Context, id string) (forum.Thread, error)
	ListThreads(ctx context.Context, before string, limit int) ([]forum.Thread, error)
	ListReplies(ctx context.Context, threadID string, limit int) ([]forum.Reply, error)
	React(ctx context.Context, a forum.Author, threadID, kind string) (forum.ReactionSummary, error)
	Reactions(ctx context.Context, threadID string) (forum.ReactionSummary, error)
}

// Wallet is the coin and betting surface.
type Wallet interface {
	Balance(ctx context.Context, userID string) (int64, error)
	CreateMarket(ctx context.Context, in wallet.CreateMarketInput) (wallet.Market, error)
	GetMarket(ctx context.Context, id string) (wallet.Market, error)
	PlaceStake(ctx context.Context, marketID, userID, option string, amount int64) (wallet.Stake, error)
	Settle(ctx context.Context, marketID, winning string) (wallet.Market, wallet.Payouts, error)
}

// Files stores user uploads.
type Files interface {
	Enabled() bool
	MaxUploadBytes() int64
	Upload(ctx context.Context, ownerID, filename string, body io.Reader) (storage.Object, error)
	Download(ctx context.Context, key string) (storage.Object, io.ReadCloser, error)
}

// MFA enrolls members in TOTP and checks their codes.
type MFA interface {
	Setup(ctx context.Context, userID, account string) (mfa.Enrollment, error)
	Enable(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID, code string) error
	Enabled(ctx context.Context, userID string) (bool, error)
	Verify(ctx context.Context, userID, code string) error
}

// Discord runs the OAuth2 code flow.
type Discord interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (discord.User, error)
}

// PasswordVerifier checks a password against a stored hash.
type PasswordVerifier interface {
	Verify(encoded, password string) (bool, error)
}

// Limiter is the subset of *ratelimit.Limiter the handlers need.
type Limiter interface {
	AllowRule(ctx context.Context, key string, r ratelimit.Rule) (ratelimit.Result, error)
}

// Deps are the services behind the routes. Users, Sessions, Gate and
// Passwords are required; a nil optional service answers 503 on its routes.
type Deps struct {
	Users      identity.Store
	Sessions   Sessions
	Gate       Gate
	Passwords  PasswordVerifier
	Limiter    Limiter
	Moderator  Moderator
	Registrar  Registrar
	Invites    Invites
	PostTokens PostTokens
	Forum      Forum
	Wallet     Wallet
	Files      Files
	Discord    Discord
	MFA        MFA
}

// Handler serves the public and admin JSON API.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	deps     Deps
	validate *validator.Validate
	now      func() time.Time

	// dummyHash keeps unknown-email logins as slow as wrong-password ones.
	dummyHash string
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithDummyHash sets the hash verified when a login email is unknown.
func WithDummyHash(hash string) Option {
	return func(h *Handler) { h.dummyHash = hash }
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps, opts ...Option) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Users == nil || deps.Sessions == nil || deps.Gate == nil || deps.Passwords == nil {
		return nil, errors.New("authapi: users, sessions, gate and passwords are required")
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:      log,
		cfg:      cfg,
		deps:     deps,
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires every route onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /auth/discord/login", h.handleDiscordLogin)
	mux.HandleFunc("GET /auth/discord/callback", h.handleDiscordCallback)
	mux.HandleFunc("GET /banned", h.handleBanned)
	mux.HandleFunc("POST /invites/validate", h.handleInviteValidate)

	mux.Handle("GET /me", h.member(h.handleMe))
	mux.Handle("GET /me/mfa", h.member(h.handleMFAStatus))
	mux.Handle("POST /me/mfa/setup", h.member(h.handleMFASetup))
	mux.Handle("POST /me/mfa/enable", h.member(h.handleMFAEnable))
	mux.Handle("POST /me/mfa/disable", h.member(h.handleMFADisable))
	mux.Handle("POST /post-tokens", h.member(h.handlePostTokenIssue))
	mux.Handle("GET /forum/threads", h.member(h.handleThreadList))
	mux.Handle("POST /forum/threads", h.member(h.handleThreadCreate))
	mux.Handle("GET /forum/threads/{id}", h.member(h.handleThreadGet))
	mux.Handle("POST /forum/threads/{id}/replies", h.member(h.handleReplyCreate))
	mux.Handle("GET /forum/threads/{id}/reactions", h.member(h.handleReactionList))
	mux.Handle("POST /forum/threads/{id}/reactions", h.member(h.handleReactionToggle))
	mux.Handle("POST /files", h.member(h.handleFileUpload))
	mux.Handle("GET /files/{key...}", h.member(h.handleFileDownload))
	mux.Handle("GET /wallet", h.member(h.handleWallet))
	mux.Handle("GET /bets/{id}", h.member(h.handleMarketGet))
	mux.Handle("POST /bets/{id}/stakes", h.member(h.handleStake))

	mux.Handle("POST /admin/invites", h.staff(h.handleInviteCreate))
	mux.Handle("POST /admin/bans", h.staff(h.handleBan))
	mux.Handle("DELETE /admin/bans", h.staff(h.handleUnban))
	mux.Handle("POST /admin/ip-blacklist", h.staff(h.handleBlacklist))
	mux.Handle("DELETE /admin/ip-blacklist", h.staff(h.handleUnblacklist))
	mux.Handle("POST /admin/bets", h.staff(h.handleMarketCreate))
	mux.Handle("POST /admin/bets/{id}/settle", h.staff(h.handleSettle))
}
