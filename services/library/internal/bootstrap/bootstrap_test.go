package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/store"
	"github.com/Fabian0270/library-system/services/library/internal/config"
)

func sqliteConfig(t *testing.T) config.FileConfig {
	t.Helper()
	dir := t.TempDir()
	return config.FileConfig{
		DatabaseURL:     store.SQLiteScheme + filepath.Join(dir, "library.db"),
		SessionStrategy: config.SessionStrategyMemory,
		SessionTTL:      "1h",
		LoanPeriodDays:  14,
		Timezone:        "Europe/Stockholm",
		AuditExportDir:  filepath.Join(dir, "exports"),
		SeedDemoData:    true,
	}
}

func TestBuildWithSQLiteAndMemorySessions(t *testing.T) {
	ctx := context.Background()
	rt, err := Build(ctx, sqliteConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	if rt.Reminders != nil {
		t.Fatalf("expected no reminder queue without redis")
	}
	login, register, err := rt.Limiters()
	if err != nil || login != nil || register != nil {
		t.Fatalf("expected no limiters without redis, got %v %v %v", login, register, err)
	}
	if err := rt.App.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	res, err := rt.App.Authenticate(ctx, "admin@bibliotek.se", "Admin123", domain.ClientMeta{IPAddress: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Authenticate seeded admin: %v", err)
	}
	if !res.User.HasRole(domain.RoleAdmin) || res.Token == "" {
		t.Fatalf("unexpected auth result: %+v", res)
	}

	books, err := rt.App.ListBooks(ctx)
	if err != nil || len(books) == 0 {
		t.Fatalf("expected seeded books, got %d (%v)", len(books), err)
	}
	loan, err := rt.App.CreateLoan(ctx, res.User.ID, books[0].ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if days := int(loan.DueDate.Sub(loan.BorrowedDate) / (24 * time.Hour)); days != 14 {
		t.Fatalf("expected 14 day loan, got %d", days)
	}

	export, err := rt.App.ExportAudit(ctx, time.Time{})
	if err != nil {
		t.Fatalf("ExportAudit: %v", err)
	}
	if export.Events < 2 {
		t.Fatalf("expected login and loan events in export, got %d", export.Events)
	}
}

func TestBuildSeedIsIdempotentAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	for i := 0; i < 2; i++ {
		rt, err := Build(ctx, cfg)
		if err != nil {
			t.Fatalf("Build #%d: %v", i+1, err)
		}
		count, err := rt.Store.UserCount(ctx)
		if err != nil {
			t.Fatalf("UserCount: %v", err)
		}
		if count != 2 {
			t.Fatalf("expected 2 seeded users after build #%d, got %d", i+1, count)
		}
		if err := rt.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.FileConfig{
		DatabaseURL:     MemoryDatabaseURL,
		SessionStrategy: config.SessionStrategyRedis,
	}
	rt, err := Build(context.Background(), cfg, WithRedis(client))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	if rt.Reminders == nil {
		t.Fatalf("expected reminder queue with redis")
	}
	login, register, err := rt.Limiters()
	if err != nil {
		t.Fatalf("Limiters: %v", err)
	}
	if login == nil || register == nil {
		t.Fatalf("expected both limiters")
	}
	if rt.Lockout.Threshold() != 5 {
		t.Fatalf("expected default threshold 5, got %d", rt.Lockout.Threshold())
	}
	if _, err := rt.App.ExportAudit(context.Background(), time.Time{}); err == nil {
		t.Fatalf("expected export to be disabled without object storage")
	}
}

func TestBuildRejectsSessionsWithoutRedis(t *testing.T) {
	for _, strategy := range []string{config.SessionStrategyRedis, config.SessionStrategyJWT} {
		_, err := Build(context.Background(), config.FileConfig{
			DatabaseURL:     MemoryDatabaseURL,
			SessionStrategy: strategy,
		})
		if err == nil {
			t.Fatalf("expected %s strategy to fail without redis", strategy)
		}
	}
}

func TestBuildClosesStoreOnFailure(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Timezone = "Mars/Olympus"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("expected invalid timezone to fail")
	}
	// The sqlite file must be reusable once the failed build released it.
	cfg.Timezone = ""
	rt, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build after failure: %v", err)
	}
	_ = rt.Close()
}
