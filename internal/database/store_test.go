package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"iptracker/internal/domain"
)

func setupStoreTestDB(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: silentLogger()})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}

	if _, err := SetupDB(WithExistingDB(db), WithMigrations(defaultMigrations()...)); err != nil {
		t.Fatalf("setup database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		DB = nil
	})

	return NewStore(db), db
}

func TestCreateBlockedIPIsIdempotent(t *testing.T) {
	store, db := setupStoreTestDB(t)
	ctx := context.Background()

	created, err := store.CreateBlockedIP(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("first CreateBlockedIP: %v", err)
	}
	if !created {
		t.Fatal("first CreateBlockedIP reported existing entry")
	}

	created, err = store.CreateBlockedIP(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("second CreateBlockedIP: %v", err)
	}
	if created {
		t.Fatal("second CreateBlockedIP reported a new entry")
	}

	var count int64
	if err := db.Model(&domain.BlockedIP{}).Count(&count).Error; err != nil {
		t.Fatalf("count blocked ips: %v", err)
	}
	if count != 1 {
		t.Fatalf("blocked ip rows = %d, want 1", count)
	}

	ips, err := store.ListBlockedIPs(ctx)
	if err != nil {
		t.Fatalf("ListBlockedIPs: %v", err)
	}
	if len(ips) != 1 || ips[0] != "203.0.113.7" {
		t.Fatalf("ListBlockedIPs = %v", ips)
	}
}

func TestHasBlockedIP(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	if found, err := store.HasBlockedIP(ctx, "203.0.113.8"); err != nil || found {
		t.Fatalf("HasBlockedIP before insert = %v, %v", found, err)
	}
	if _, err := store.CreateBlockedIP(ctx, "203.0.113.8"); err != nil {
		t.Fatalf("CreateBlockedIP: %v", err)
	}
	if found, err := store.HasBlockedIP(ctx, "203.0.113.8"); err != nil || !found {
		t.Fatalf("HasBlockedIP after insert = %v, %v", found, err)
	}
}

func TestStoreWithoutConnectionReturnsPersistenceError(t *testing.T) {
	DB = nil
	store := NewStore(nil)

	_, err := store.CreateBlockedIP(context.Background(), "198.51.100.1")

	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if perr.Op != "create blocked ip" {
		t.Fatalf("Op = %q", perr.Op)
	}
	if !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected ErrNotInitialised in chain, got %v", err)
	}
}

func TestStreamRequestLogsSinceHonoursWindow(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []domain.RequestLog{
		{IPAddress: "10.0.0.1", Path: "/old", Timestamp: now.Add(-2 * time.Hour)},
		{IPAddress: "10.0.0.1", Path: "/a", Timestamp: now.Add(-30 * time.Minute)},
		{IPAddress: "10.0.0.2", Path: "/b", Timestamp: now.Add(-time.Minute)},
		{IPAddress: "10.0.0.3", Path: "/c", Timestamp: now.Add(-59 * time.Minute)},
	}
	for i := range entries {
		if err := store.CreateRequestLog(ctx, &entries[i]); err != nil {
			t.Fatalf("CreateRequestLog: %v", err)
		}
	}

	var seen []string
	batches := 0
	err := store.StreamRequestLogsSince(ctx, now.Add(-time.Hour), 2, func(batch []domain.RequestLog) error {
		batches++
		for _, entry := range batch {
			seen = append(seen, entry.Path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamRequestLogsSince: %v", err)
	}

	if len(seen) != 3 {
		t.Fatalf("streamed paths = %v, want 3 entries inside window", seen)
	}
	for _, path := range seen {
		if path == "/old" {
			t.Fatal("entry older than window was streamed")
		}
	}
	if batches != 2 {
		t.Fatalf("batches = %d, want 2", batches)
	}
}

func TestStreamRequestLogsSinceStopsOnCallbackError(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		entry := domain.RequestLog{IPAddress: "10.0.0.1", Path: "/", Timestamp: now}
		if err := store.CreateRequestLog(ctx, &entry); err != nil {
			t.Fatalf("CreateRequestLog: %v", err)
		}
	}

	stop := errors.New("stop")
	err := store.StreamRequestLogsSince(ctx, now.Add(-time.Minute), 1, func([]domain.RequestLog) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestCreateRequestLogTruncatesAndStoresNullLocation(t *testing.T) {
	store, db := setupStoreTestDB(t)

	entry := domain.RequestLog{
		IPAddress: "192.0.2.10",
		Path:      "/" + strings.Repeat("p", 400),
		Timestamp: time.Now(),
	}
	if err := store.CreateRequestLog(context.Background(), &entry); err != nil {
		t.Fatalf("CreateRequestLog: %v", err)
	}

	var stored domain.RequestLog
	if err := db.First(&stored, entry.ID).Error; err != nil {
		t.Fatalf("load request log: %v", err)
	}
	if len(stored.Path) != domain.MaxPathLength {
		t.Fatalf("stored path length = %d", len(stored.Path))
	}
	if stored.Country != nil || stored.City != nil {
		t.Fatalf("expected NULL location, got %v/%v", stored.Country, stored.City)
	}
}

func TestListRequestLogsFiltersByIP(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.1"} {
		entry := domain.RequestLog{IPAddress: ip, Path: fmt.Sprintf("/%d", i), Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := store.CreateRequestLog(ctx, &entry); err != nil {
			t.Fatalf("CreateRequestLog: %v", err)
		}
	}

	logs, err := store.ListRequestLogs(ctx, "10.0.0.1", 10)
	if err != nil {
		t.Fatalf("ListRequestLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("ListRequestLogs returned %d entries, want 2", len(logs))
	}
	if logs[0].Path != "/2" {
		t.Fatalf("newest entry = %q, want /2", logs[0].Path)
	}
}

func TestUpsertSuspiciousIPOverwrites(t *testing.T) {
	store, db := setupStoreTestDB(t)
	ctx := context.Background()
	first := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	if err := store.UpsertSuspiciousIP(ctx, "10.1.1.1", "first", first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := store.UpsertSuspiciousIP(ctx, "10.1.1.1", strings.Repeat("r", 300), second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var count int64
	if err := db.Model(&domain.SuspiciousIP{}).Count(&count).Error; err != nil {
		t.Fatalf("count suspicious ips: %v", err)
	}
	if count != 1 {
		t.Fatalf("suspicious ip rows = %d, want 1", count)
	}

	entry, err := store.GetSuspiciousIP(ctx, "10.1.1.1")
	if err != nil {
		t.Fatalf("GetSuspiciousIP: %v", err)
	}
	if len(entry.Reason) != domain.MaxReasonLength {
		t.Fatalf("reason length = %d, want %d", len(entry.Reason), domain.MaxReasonLength)
	}
	if !entry.DetectedAt.Equal(second) {
		t.Fatalf("DetectedAt = %s, want %s", entry.DetectedAt, second)
	}
}

func TestCreateUserFirstBecomesAdmin(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	admin, err := store.CreateUser(ctx, "Admin@Example.com ", "hash")
	if err != nil {
		t.Fatalf("CreateUser admin: %v", err)
	}
	if admin.Role != domain.RoleAdmin {
		t.Fatalf("first user role = %q, want admin", admin.Role)
	}

	user, err := store.CreateUser(ctx, "user@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser user: %v", err)
	}
	if user.Role != domain.RoleUser {
		t.Fatalf("second user role = %q, want user", user.Role)
	}

	if _, err := store.CreateUser(ctx, "admin@example.com", "hash"); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("duplicate email error = %v, want ErrEmailInUse", err)
	}

	found, err := store.FindUserByEmail(ctx, "ADMIN@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if found.ID != admin.ID {
		t.Fatalf("found user %d, want %d", found.ID, admin.ID)
	}

	if _, err := store.FindUserByEmail(ctx, "missing@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("missing user error = %v, want ErrUserNotFound", err)
	}
}
