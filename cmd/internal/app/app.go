// Package app wires the ByteHack server runtime: config, logging, stores,
// policy services, HTTP routes, the moderation feed and maintenance jobs.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
	authapi "github.com/huntiezz/bytehackv3-sub001/cmd/internal/auth/api"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/auth/discord"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/auth/session"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/dbschema"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/forum"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/invite"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/jobs"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/modfeed"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/posttoken"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/registration"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/storage"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/wallet"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/mfa"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/password"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/token"
)

// Task names registered with the scheduler.
const (
	TaskPurgeTokens  = "purge_post_tokens"
	TaskPurgeBuckets = "purge_rate_buckets"
)

// ErrNoDatabase is returned by operations that only make sense against Postgres.
var ErrNoDatabase = errors.New("app: database.url is not configured")

// stores groups one backend choice for every service.
type stores struct {
	users      identity.Store
	moderation moderation.Store
	invites    invite.Store
	tokens     posttoken.Store
	buckets    ratelimit.Store
	forum      forum.Store
	wallet     wallet.Store
}

// App owns the backends and every wired service.
type App struct {
	cfg Config
	log Logger
	reg *prometheus.Registry

	pool  *pgxpool.Pool
	redis *redis.Client

	Users        identity.Store
	Gate         *moderation.Gate
	Moderation   *moderation.Actions
	Invites      *invite.Service
	Limiter      *ratelimit.Limiter
	PostTokens   *posttoken.Issuer
	Registration *registration.Service
	MFA          *mfa.Service
	Forum        *forum.Service
	Wallet       *wallet.Service
	Files        *storage.Service
	Sessions     *session.Manager
	Feed         *modfeed.Hub
	Jobs         *jobs.Scheduler

	api     *authapi.Handler
	gateway *modfeed.Gateway
	metrics *httpMetrics
}

// New connects the configured backends and wires every service. Without a
// database URL the stores are in-memory and nothing survives a restart.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.Log, nil)
	}
	a := &App{cfg: cfg, log: log, reg: prometheus.NewRegistry()}
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	if a.cfg.Database.URL != "" {
		if a.cfg.Database.MigrateOnStart {
			if _, err := dbschema.Up(ctx, a.cfg.Database.URL, a.cfg.Database.Schema, a.log); err != nil {
				return err
			}
		}
		pool, err := NewDBPool(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.pool = pool
		a.log.Info("db.enabled", "schema", a.cfg.Database.Schema)
	} else {
		if a.cfg.Production() {
			return ErrNoDatabase
		}
		a.log.Warn("db.disabled.memory_stores")
	}

	if a.cfg.Redis.URL != "" {
		client, err := NewRedisClient(ctx, a.cfg.Redis)
		if err != nil {
			return err
		}
		a.redis = client
		a.log.Info("redis.enabled")
	}
	return nil
}

func (a *App) openStores() (stores, error) {
	var (
		s   stores
		err error
	)
	if a.pool == nil {
		s = stores{
			users:      identity.NewMemoryStore(),
			moderation: moderation.NewMemoryStore(),
			invites:    invite.NewMemoryStore(),
			tokens:     posttoken.NewMemoryStore(),
			buckets:    ratelimit.NewMemoryStore(),
			forum:      forum.NewMemoryStore(),
			wallet:     wallet.NewMemoryStore(),
		}
	} else {
		schema := a.cfg.Database.Schema
		if s.users, err = identity.NewPostgresStore(a.pool, identity.WithSchema(schema)); err != nil {
			return s, err
		}
		if s.moderation, err = moderation.NewPostgresStore(a.pool, moderation.WithSchema(schema)); err != nil {
			return s, err
		}
		if s.invites, err = invite.NewPostgresStore(a.pool, invite.WithSchema(schema)); err != nil {
			return s, err
		}
		if s.tokens, err = posttoken.NewPostgresStore(a.pool, posttoken.WithSchema(schema)); err != nil {
			return s, err
		}
		if s.buckets, err = ratelimit.NewPostgresStore(a.pool, ratelimit.WithSchema(schema)); err != nil {
			return s, err
		}
		if s.forum, err = forum.NewPostgresStore(a.pool, forum.WithSchema(schema)); err != nil {
			return s, err
		}
		if s.wallet, err = wallet.NewPostgresStore(a.pool, wallet.WithSchema(schema)); err != nil {
			return s, err
		}
	}

	// Buckets are hot and short-lived; Redis takes them when available.
	if a.redis != nil {
		if s.buckets, err = ratelimit.NewRedisStore(a.redis); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	st, err := a.openStores()
	if err != nil {
		return err
	}
	a.Users = st.users

	if a.Feed, err = modfeed.NewHub(log, a.reg); err != nil {
		return err
	}

	rlMetrics, err := ratelimit.NewMetrics(a.reg)
	if err != nil {
		return err
	}
	if a.Limiter, err = ratelimit.New(st.buckets, ratelimit.WithLogger(log), ratelimit.WithMetrics(rlMetrics)); err != nil {
		return err
	}

	failMode, err := moderation.ParseFailMode(cfg.Moderation.FailMode)
	if err != nil {
		return err
	}
	if a.Gate, err = moderation.NewGate(st.moderation,
		moderation.WithFailMode(failMode),
		moderation.WithGateLogger(log),
		moderation.WithRegisterer(a.reg),
	); err != nil {
		return err
	}
	log.Info("moderation.gate.ready", "fail_mode", a.Gate.FailMode())
	if a.Moderation, err = moderation.NewActions(st.moderation, a.Feed); err != nil {
		return err
	}

	if a.Invites, err = invite.NewService(st.invites, invite.WithNotifier(a.Feed), invite.WithLogger(log)); err != nil {
		return err
	}

	hasher, err := cfg.Password.WithDefaults()
	if err != nil {
		return fmt.Errorf("password config: %w", err)
	}
	if a.Registration, err = registration.New(st.users, a.Invites, a.Gate, hasher, log); err != nil {
		return err
	}

	if a.MFA, err = mfa.New(st.users, cfg.MFA, mfa.WithLogger(log)); err != nil {
		return fmt.Errorf("mfa config: %w", err)
	}

	secret, err := a.postTokenSecret()
	if err != nil {
		return err
	}
	if a.PostTokens, err = posttoken.NewIssuer(secret, st.tokens, a.Limiter,
		posttoken.WithTTL(cfg.PostToken.TTL),
		posttoken.WithLimits(cfg.PostToken.Limits),
		posttoken.WithLogger(log),
	); err != nil {
		return err
	}

	if a.Forum, err = forum.NewService(st.forum, a.PostTokens, a.Limiter, cfg.Forum, log); err != nil {
		return err
	}
	if a.Wallet, err = wallet.NewService(st.wallet, wallet.WithLogger(log)); err != nil {
		return err
	}

	var objects storage.ObjectAPI
	if cfg.Storage.Enabled() {
		client, err := storage.NewS3Client(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		objects = client
	}
	if a.Files, err = storage.New(objects, cfg.Storage, log); err != nil {
		return err
	}

	sessCfg := cfg.Session
	if sessCfg.SecretKeyHex == "" {
		log.Warn("session.key.ephemeral", "hint", "set session.secret_key_hex to keep sessions across restarts")
		sessCfg.SecretKeyHex = session.GenerateSecretKeyHex()
	}
	if a.Sessions, err = session.NewManager(sessCfg); err != nil {
		return err
	}

	if err := a.wireHTTP(hasher); err != nil {
		return err
	}
	return a.wireJobs()
}

func (a *App) wireHTTP(hasher password.Config) error {
	cfg, log := a.cfg, a.log

	deps := authapi.Deps{
		Users:      a.Users,
		Sessions:   a.Sessions,
		Gate:       a.Gate,
		Passwords:  hasher,
		Limiter:    a.Limiter,
		Moderator:  a.Moderation,
		Registrar:  a.Registration,
		Invites:    a.Invites,
		PostTokens: a.PostTokens,
		Forum:      a.Forum,
		Wallet:     a.Wallet,
		Files:      a.Files,
		MFA:        a.MFA,
	}
	if cfg.Discord.Enabled() {
		dc, err := discord.New(cfg.Discord)
		if err != nil {
			return err
		}
		deps.Discord = dc
	}

	var opts []authapi.Option
	if dummy, err := hasher.Hash(dummyPassword()); err == nil {
		opts = append(opts, authapi.WithDummyHash(dummy))
	} else {
		log.Warn("auth.dummy_hash.fail", "err", err)
	}

	api, err := authapi.NewHandler(log, cfg.API, deps, opts...)
	if err != nil {
		return err
	}
	a.api = api

	if a.gateway, err = modfeed.NewGateway(log, a.Feed, api, cfg.Feed); err != nil {
		return err
	}
	a.metrics, err = newHTTPMetrics(a.reg)
	return err
}

func (a *App) wireJobs() error {
	var locker jobs.Locker
	if a.redis != nil {
		rl, err := jobs.NewRedisLocker(a.redis)
		if err != nil {
			return err
		}
		locker = rl
	}

	opts := []jobs.Option{jobs.WithLogger(a.log)}
	if a.cfg.Jobs.Timeout > 0 {
		opts = append(opts, jobs.WithTimeout(a.cfg.Jobs.Timeout))
	}
	var err error
	if a.Jobs, err = jobs.New(locker, opts...); err != nil {
		return err
	}
	if s := a.cfg.Jobs.PurgeTokens; s != "" {
		if err := a.Jobs.Add(jobs.Task{Name: TaskPurgeTokens, Schedule: s, Run: jobs.PurgeTokens(a.PostTokens)}); err != nil {
			return err
		}
	}
	if s := a.cfg.Jobs.PurgeBuckets; s != "" {
		run := jobs.PurgeBuckets(a.Limiter, a.cfg.Jobs.BucketGrace, nil)
		if err := a.Jobs.Add(jobs.Task{Name: TaskPurgeBuckets, Schedule: s, Run: run}); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) postTokenSecret() ([]byte, error) {
	if a.cfg.PostToken.SecretHex != "" {
		return a.cfg.postTokenSecret()
	}
	a.log.Warn("posttoken.secret.ephemeral", "hint", "set post_token.secret_hex to keep tokens valid across restarts")
	b := make([]byte, token.MinSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// dummyPassword is hashed once at startup so unknown-email logins cost a real verify.
func dummyPassword() string {
	return "bytehack-login-timing-" + time.Now().UTC().Format(time.RFC3339Nano)
}

// Pool returns the Postgres pool, or nil in memory mode.
func (a *App) Pool() *pgxpool.Pool { return a.pool }

// Registry returns the metrics registry served at /metrics.
func (a *App) Registry() *prometheus.Registry { return a.reg }

// Close releases the backends. It is safe to call more than once.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
