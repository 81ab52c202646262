// Package bootstrap builds the library service graph from a FileConfig. The
// HTTP service and the operator CLI share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Fabian0270/library-system/internal/ratelimit"
	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/pkg/queue"
	"github.com/Fabian0270/library-system/pkg/storage"
	"github.com/Fabian0270/library-system/pkg/store"
	"github.com/Fabian0270/library-system/services/library/internal/app"
	"github.com/Fabian0270/library-system/services/library/internal/config"
	"github.com/Fabian0270/library-system/services/library/internal/lending"
	"github.com/Fabian0270/library-system/services/library/internal/security"
)

// MemoryDatabaseURL selects the in-process store. Data is lost on exit.
const MemoryDatabaseURL = "memory"

const (
	defaultSessionTTL = 12 * time.Hour
	reminderStream    = "library:reminders"
	reminderGroup     = "reminder-workers"
	rateWindow        = time.Minute
)

// Runtime holds the constructed services. Close releases what Build opened.
type Runtime struct {
	Config  config.FileConfig
	Store   store.Store
	Redis   *redis.Client
	App     *app.App
	Ledger  *lending.Ledger
	Lockout *security.LockoutPolicy
	Audit   *security.AuditTrail
	// Reminders is nil without Redis.
	Reminders *queue.RedisJobQueue

	closers []func() error
}

// Build opens storage and Redis and wires every service. Options override
// the config for tests and tools.
func Build(ctx context.Context, cfg config.FileConfig, opts ...Option) (*Runtime, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	rt := &Runtime{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	st, err := openStore(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	rt.Store = st
	if closer, isCloser := st.(interface{ Close() error }); isCloser {
		rt.closers = append(rt.closers, closer.Close)
	}

	rt.Redis = o.redis
	if rt.Redis == nil && strings.TrimSpace(cfg.RedisAddr) != "" {
		rt.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		rt.closers = append(rt.closers, rt.Redis.Close)
	}

	sessions, err := buildSessions(cfg, rt.Redis)
	if err != nil {
		return nil, err
	}
	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rt.Audit, err = security.NewAuditTrail(security.AuditConfig{
		Store:   st,
		Alerter: security.NewAuditAlerter(rt.Redis, "library:alerts"),
		Objects: objects,
		Now:     o.now,
	})
	if err != nil {
		return nil, err
	}
	lockoutDuration, err := config.ParseLockoutDuration(cfg.LockoutDuration)
	if err != nil {
		return nil, err
	}
	rt.Lockout, err = security.NewLockoutPolicy(security.LockoutConfig{
		Store:     st,
		Observer:  rt.Audit,
		Threshold: cfg.LockoutThreshold,
		Duration:  lockoutDuration,
		Now:       o.now,
	})
	if err != nil {
		return nil, err
	}
	loc, err := config.ParseTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	rt.Ledger, err = lending.New(lending.Config{
		Store:          st,
		Audit:          rt.Audit,
		Now:            o.now,
		Location:       loc,
		LoanPeriodDays: cfg.LoanPeriodDays,
	})
	if err != nil {
		return nil, err
	}
	rt.App, err = app.New(app.Config{
		Store:    st,
		Sessions: sessions,
		Ledger:   rt.Ledger,
		Lockout:  rt.Lockout,
		Audit:    rt.Audit,
		Now:      o.now,
	})
	if err != nil {
		return nil, err
	}

	if rt.Redis != nil {
		rt.Reminders, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Client:     rt.Redis,
			Stream:     reminderStream,
			Group:      reminderGroup,
			RetryDelay: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init reminder queue: %w", err)
		}
	}

	if cfg.SeedDemoData {
		if err := rt.App.SeedDemoData(ctx); err != nil {
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
	}
	ok = true
	return rt, nil
}

// Limiters returns the login and registration rate limiters. Both are nil
// without Redis.
func (rt *Runtime) Limiters() (login, register ratelimit.Limiter, err error) {
	if rt.Redis == nil {
		return nil, nil, nil
	}
	loginLimit := rt.Config.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	registerLimit := rt.Config.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimiter, err := ratelimit.NewFixedWindowLimiter(rt.Redis, "library:ratelimit:login", loginLimit, rateWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("init login limiter: %w", err)
	}
	registerLimiter, err := ratelimit.NewFixedWindowLimiter(rt.Redis, "library:ratelimit:register", registerLimit, rateWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("init register limiter: %w", err)
	}
	return loginLimiter, registerLimiter, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func openStore(databaseURL string) (store.Store, error) {
	if strings.TrimSpace(databaseURL) == MemoryDatabaseURL {
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewGormStore(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return st, nil
}

func buildSessions(cfg config.FileConfig, client *redis.Client) (store.SessionStore, error) {
	ttl, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	switch cfg.SessionStrategy {
	case config.SessionStrategyMemory:
		return store.NewMemorySessionStore(ttl), nil
	case config.SessionStrategyJWT:
		if client == nil {
			return nil, errors.New("jwt sessions require redis for revocation")
		}
		leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
		if err != nil {
			return nil, err
		}
		jwtStore, err := store.NewJWTSessionStore(cfg.JWTSecret, ttl, store.NewRedisTokenRevoker(client), store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   leeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		return jwtStore, nil
	default:
		if client == nil {
			return nil, errors.New("redis sessions require redisAddr")
		}
		return store.NewRedisSessionStore(client, ttl), nil
	}
}

func buildObjectStore(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	switch {
	case strings.TrimSpace(cfg.MinioEndpoint) != "":
		objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init minio: %w", err)
		}
		return objects, nil
	case strings.TrimSpace(cfg.AuditExportDir) != "":
		objects, err := storage.NewFileStore(cfg.AuditExportDir)
		if err != nil {
			return nil, fmt.Errorf("init audit export dir: %w", err)
		}
		return objects, nil
	default:
		util.LoggerFromContext(ctx).Info("audit export disabled: no object storage configured")
		return nil, nil
	}
}
