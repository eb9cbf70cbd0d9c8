// Package forum stores threads, replies and thread reactions.
//
// Every write is rate limited per user. Threads and replies must also present
// a one-time post token bound to the author and their address.
package forum

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
)

const (
	maxTitleLen = 200
	maxBodyLen  = 20000
	maxPageSize = 100
)

var (
	ErrInvalidInput = errors.New("forum: invalid input")
	ErrNotFound     = errors.New("forum: not found")
)

// RateLimitedError is returned when the author posts too often.
type RateLimitedError struct {
	Result ratelimit.Result
}

func (e RateLimitedError) Error() string { return "forum: rate limited" }

// Thread is a top-level post.
type Thread struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ReplyCount int       `json:"reply_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Reply is an answer in a thread.
type Reply struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Reaction kinds a member may leave on a thread.
const (
	ReactionLike  = "like"
	ReactionLove  = "love"
	ReactionLaugh = "laugh"
	ReactionFire  = "fire"
	ReactionSad   = "sad"
)

var reactionKinds = map[string]struct{}{
	ReactionLike: {}, ReactionLove: {}, ReactionLaugh: {}, ReactionFire: {}, ReactionSad: {},
}

// ValidReaction reports whether kind is an accepted reaction.
func ValidReaction(kind string) bool {
	_, ok := reactionKinds[kind]
	return ok
}

// Reaction is one member's reaction of one kind on a thread.
type Reaction struct {
	ThreadID  string
	UserID    string
	Kind      string
	CreatedAt time.Time
}

// ReactionSummary is the thread's reaction tally after a toggle.
type ReactionSummary struct {
	ThreadID string         `json:"thread_id"`
	Kind     string         `json:"kind,omitempty"`
	Reacted  bool           `json:"reacted"`
	Counts   map[string]int `json:"counts"`
}

// Author identifies who is writing and from where.
type Author struct {
	UserID string
	IP     string
}

// Store is the persistence boundary.
type Store interface {
	CreateThread(ctx context.Context, t Thread) (Thread, error)
	GetThread(ctx context.Context, id string) (Thread, error)
	// ListThreads returns newest first, strictly older than before when set.
	ListThreads(ctx context.Context, before string, limit int) ([]Thread, error)
	// CreateReply inserts r and bumps the thread's reply count atomically.
	CreateReply(ctx context.Context, r Reply) (Reply, error)
	ListReplies(ctx context.Context, threadID string, limit int) ([]Reply, error)
	// ToggleReaction adds r, or removes it when the user already left that
	// kind on the thread. added reports which happened.
	ToggleReaction(ctx context.Context, r Reaction) (added bool, err error)
	ReactionCounts(ctx context.Context, threadID string) (map[string]int, error)
}

// TokenVerifier redeems a one-time post token.
type TokenVerifier interface {
	Verify(ctx context.Context, token, userID, clientIP string) error
}

// Limiter is the subset of *ratelimit.Limiter the forum needs.
type Limiter interface {
	AllowRule(ctx context.Context, key string, r ratelimit.Rule) (ratelimit.Result, error)
}

// Limits are the per-user posting rates.
type Limits struct {
	Thread   ratelimit.Rule `mapstructure:"thread"`
	Reply    ratelimit.Rule `mapstructure:"reply"`
	Reaction ratelimit.Rule `mapstructure:"reaction"`
}

// DefaultLimits returns the production posting rates.
func DefaultLimits() Limits {
	return Limits{
		Thread:   ratelimit.Rule{Limit: 5, Window: 10 * time.Minute},
		Reply:    ratelimit.Rule{Limit: 20, Window: time.Minute},
		Reaction: ratelimit.Rule{Limit: 30, Window: time.Minute},
	}
}

// Service validates and stores forum writes.
type Service struct {
	store   Store
	tokens  TokenVerifier
	limiter Limiter
	limits  Limits
	now     func() time.Time
	log     *slog.Logger
}

// NewService constructs a Service. limiter may be nil.
func NewService(store Store, tokens TokenVerifier, limiter Limiter, limits Limits, log *slog.Logger) (*Service, error) {
	if store == nil || tokens == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		tokens:  tokens,
		limiter: limiter,
		limits:  limits,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}, nil
}

// CreateThread posts a new thread.
func (s *Service) CreateThread(ctx context.Context, a Author, title, body, postToken string) (Thread, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if a.UserID == "" || !validText(title, maxTitleLen) || !validText(body, maxBodyLen) {
		return Thread{}, ErrInvalidInput
	}
	if err := s.authorize(ctx, a, "forum_thread", s.limits.Thread, postToken); err != nil {
		return Thread{}, err
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Thread{}, err
	}
	t, err := s.store.CreateThread(ctx, Thread{ID: id, AuthorID: a.UserID, Title: title, Body: body, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		s.log.Error("forum.thread.create.fail", "user_id", a.UserID, "err", err)
		return Thread{}, err
	}
	s.log.Info("forum.thread.create.ok", "thread_id", t.ID, "user_id", a.UserID)
	return t, nil
}

// CreateReply posts a reply to threadID.
func (s *Service) CreateReply(ctx context.Context, a Author, threadID, body, postToken string) (Reply, error) {
	threadID = strings.TrimSpace(threadID)
	body = strings.TrimSpace(body)
	if a.UserID == "" || threadID == "" || !validText(body, maxBodyLen) {
		return Reply{}, ErrInvalidInput
	}
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		return Reply{}, err
	}
	if err := s.authorize(ctx, a, "forum_reply", s.limits.Reply, postToken); err != nil {
		return Reply{}, err
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Reply{}, err
	}
	r, err := s.store.CreateReply(ctx, Reply{ID: id, ThreadID: threadID, AuthorID: a.UserID, Body: body, CreatedAt: now})
	if err != nil {
		s.log.Error("forum.reply.create.fail", "thread_id", threadID, "user_id", a.UserID, "err", err)
		return Reply{}, err
	}
	s.log.Info("forum.reply.create.ok", "thread_id", threadID, "reply_id", r.ID, "user_id", a.UserID)
	return r, nil
}

// React toggles the author's reaction of kind on a thread.
func (s *Service) React(ctx context.Context, a Author, threadID, kind string) (ReactionSummary, error) {
	threadID = strings.TrimSpace(threadID)
	kind = strings.ToLower(strings.TrimSpace(kind))
	if a.UserID == "" || threadID == "" || !ValidReaction(kind) {
		return ReactionSummary{}, ErrInvalidInput
	}
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		return ReactionSummary{}, err
	}
	if err := s.throttle(ctx, a, "forum_reaction", s.limits.Reaction); err != nil {
		return ReactionSummary{}, err
	}

	added, err := s.store.ToggleReaction(ctx, Reaction{ThreadID: threadID, UserID: a.UserID, Kind: kind, CreatedAt: s.now()})
	if err != nil {
		s.log.Error("forum.reaction.toggle.fail", "thread_id", threadID, "user_id", a.UserID, "err", err)
		return ReactionSummary{}, err
	}
	counts, err := s.store.ReactionCounts(ctx, threadID)
	if err != nil {
		return ReactionSummary{}, err
	}
	s.log.Info("forum.reaction.toggle.ok", "thread_id", threadID, "user_id", a.UserID, "kind", kind, "added", added)
	return ReactionSummary{ThreadID: threadID, Kind: kind, Reacted: added, Counts: counts}, nil
}

// Reactions returns the reaction tally for a thread.
func (s *Service) Reactions(ctx context.Context, threadID string) (ReactionSummary, error) {
	threadID = strings.TrimSpace(threadID)
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		return ReactionSummary{}, err
	}
	counts, err := s.store.ReactionCounts(ctx, threadID)
	if err != nil {
		return ReactionSummary{}, err
	}
	return ReactionSummary{ThreadID: threadID, Counts: counts}, nil
}

func (s *Service) throttle(ctx context.Context, a Author, action string, rule ratelimit.Rule) error {
	if s.limiter == nil || rule.Limit <= 0 {
		return nil
	}
	res, err := s.limiter.AllowRule(ctx, ratelimit.Key(action, a.UserID), rule)
	if err != nil {
		return err
	}
	if !res.Allowed {
		s.log.Info("forum.rate_limited", "action", action, "user_id", a.UserID)
		return RateLimitedError{Result: res}
	}
	return nil
}

// authorize applies the posting rate before the token so a throttled
// request does not burn the caller's token.
func (s *Service) authorize(ctx context.Context, a Author, action string, rule ratelimit.Rule, postToken string) error {
	if err := s.throttle(ctx, a, action, rule); err != nil {
		return err
	}
	if err := s.tokens.Verify(ctx, postToken, a.UserID, a.IP); err != nil {
		s.log.Info("forum.post_token.rejected", "action", action, "user_id", a.UserID, "err", err)
		return err
	}
	return nil
}

// GetThread returns a thread.
func (s *Service) GetThread(ctx context.Context, id string) (Thread, error) {
	return s.store.GetThread(ctx, strings.TrimSpace(id))
}

// ListThreads pages through threads newest first.
func (s *Service) ListThreads(ctx context.Context, before string, limit int) ([]Thread, error) {
	return s.store.ListThreads(ctx, strings.TrimSpace(before), clampLimit(limit))
}

// ListReplies returns a thread's replies oldest first.
func (s *Service) ListReplies(ctx context.Context, threadID string, limit int) ([]Reply, error) {
	return s.store.ListReplies(ctx, strings.TrimSpace(threadID), clampLimit(limit))
}

func clampLimit(n int) int {
	if n <= 0 || n > maxPageSize {
		return maxPageSize
	}
	return n
}

func validText(s string, max int) bool {
	return s != "" && len(s) <= max && utf8.ValidString(s)
}
