package moderation

import (
	"context"
	"strings"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"
)

const maxReasonLen = 500

// Event describes a completed moderation action.
type Event struct {
	Type     string    `json:"type"`
	Kind     Kind      `json:"kind"`
	Subject  string    `json:"subject"`
	Reason   string    `json:"reason,omitempty"`
	IssuedBy string    `json:"issued_by"`
	At       time.Time `json:"at"`
	Entry    *Entry    `json:"entry,omitempty"`
}

// Event types.
const (
	EventBanned        = "ban.created"
	EventUnbanned      = "ban.lifted"
	EventBlacklisted   = "ip.blacklisted"
	EventUnblacklisted = "ip.unblacklisted"
)

// Notifier receives moderation events after they are committed.
type Notifier interface {
	Publish(ev Event)
}

// RestrictInput describes a ban or blacklist action.
// A zero Duration means permanent.
type RestrictInput struct {
	Subject  string
	Reason   string
	IssuedBy string
	Duration time.Duration
}

// LiftInput describes an unban or unblacklist action.
type LiftInput struct {
	Subject  string
	IssuedBy string
}

// Actions records moderation decisions.
type Actions struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// NewActions constructs Actions. notifier may be nil.
func NewActions(store Store, notifier Notifier) (*Actions, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	return &Actions{
		store:    store,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// BanUser inserts an active ban for a user.
func (a *Actions) BanUser(ctx context.Context, in RestrictInput) (Entry, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	return a.restrict(ctx, KindUser, in, EventBanned)
}

// BlacklistIP inserts an active blacklist entry for an IP.
func (a *Actions) BlacklistIP(ctx context.Context, in RestrictInput) (Entry, error) {
	in.Subject = NormalizeIP(in.Subject)
	return a.restrict(ctx, KindIP, in, EventBlacklisted)
}

// UnbanUser clears every active ban on a user. It returns the number of rows cleared.
func (a *Actions) UnbanUser(ctx context.Context, in LiftInput) (int64, error) {
	return a.lift(ctx, KindUser, strings.TrimSpace(in.Subject), in.IssuedBy, EventUnbanned)
}

// UnblacklistIP clears every active blacklist entry on an IP.
func (a *Actions) UnblacklistIP(ctx context.Context, in LiftInput) (int64, error) {
	return a.lift(ctx, KindIP, NormalizeIP(in.Subject), in.IssuedBy, EventUnblacklisted)
}

func (a *Actions) restrict(ctx context.Context, kind Kind, in RestrictInput, evType string) (Entry, error) {
	reason := strings.TrimSpace(in.Reason)
	issuedBy := strings.TrimSpace(in.IssuedBy)
	if in.Subject == "" || reason == "" || issuedBy == "" || len(reason) > maxReasonLen || in.Duration < 0 {
		return Entry{}, ErrInvalidInput
	}

	now := a.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:        id,
		Kind:      kind,
		Subject:   in.Subject,
		Reason:    reason,
		IssuedBy:  issuedBy,
		CreatedAt: now,
		Active:    true,
	}
	if in.Duration > 0 {
		exp := now.Add(in.Duration)
		e.ExpiresAt = &exp
	}

	if err := a.store.Insert(ctx, e); err != nil {
		return Entry{}, err
	}

	a.publish(Event{Type: evType, Kind: kind, Subject: e.Subject, Reason: reason, IssuedBy: issuedBy, At: now, Entry: &e})
	return e, nil
}

func (a *Actions) lift(ctx context.Context, kind Kind, subject, issuedBy, evType string) (int64, error) {
	issuedBy = strings.TrimSpace(issuedBy)
	if subject == "" || issuedBy == "" {
		return 0, ErrInvalidInput
	}
	now := a.now()
	n, err := a.store.Deactivate(ctx, kind, subject, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.publish(Event{Type: evType, Kind: kind, Subject: subject, IssuedBy: issuedBy, At: now})
	}
	return n, nil
}

func (a *Actions) publish(ev Event) {
	if a.notifier != nil {
		a.notifier.Publish(ev)
	}
}
