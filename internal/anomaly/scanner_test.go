package anomaly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"iptracker/internal/database"
	"iptracker/internal/domain"
)

var scanTime = time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)

func setupScannerStore(t *testing.T) (*database.Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.RequestLog{}, &domain.SuspiciousIP{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return database.NewStore(db), db
}

func seed(t *testing.T, store *database.Store, ip, path string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		entry := domain.RequestLog{IPAddress: ip, Path: path, Timestamp: at}
		if err := store.CreateRequestLog(context.Background(), &entry); err != nil {
			t.Fatalf("seed request log: %v", err)
		}
	}
}

func defaultSettings() Settings {
	return Settings{Window: time.Hour, RequestThreshold: 100, SensitivePaths: []string{"/admin", "/login"}, BatchSize: 40}
}

func newTestScanner(store Store, now time.Time) *Scanner {
	return NewScanner(store,
		WithSettings(defaultSettings),
		WithClock(func() time.Time { return now }),
	)
}

func suspicious(t *testing.T, db *gorm.DB) map[string]domain.SuspiciousIP {
	t.Helper()
	var rows []domain.SuspiciousIP
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("load suspicious ips: %v", err)
	}
	out := make(map[string]domain.SuspiciousIP, len(rows))
	for _, row := range rows {
		if _, dup := out[row.IPAddress]; dup {
			t.Fatalf("duplicate suspicious row for %s", row.IPAddress)
		}
		out[row.IPAddress] = row
	}
	return out
}

func TestVolumeRuleFlagsOnlyBusyAddress(t *testing.T) {
	store, db := setupScannerStore(t)
	seed(t, store, "10.0.0.1", "/products", 101, scanTime.Add(-10*time.Minute))
	seed(t, store, "10.0.0.2", "/products", 100, scanTime.Add(-10*time.Minute))

	result, err := newTestScanner(store, scanTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows := suspicious(t, db)
	if len(rows) != 1 {
		t.Fatalf("suspicious rows = %v, want only 10.0.0.1", rows)
	}
	row, ok := rows["10.0.0.1"]
	if !ok {
		t.Fatal("busy address not flagged")
	}
	if row.Reason != "Exceeded 100 requests/hour (101 requests)" {
		t.Fatalf("reason = %q", row.Reason)
	}
	if result.ActiveIPs != 2 {
		t.Fatalf("ActiveIPs = %d, want 2", result.ActiveIPs)
	}
	if len(result.Flagged) != 1 {
		t.Fatalf("Flagged = %v", result.Flagged)
	}
}

func TestSensitivePathRuleListsDistinctPaths(t *testing.T) {
	store, db := setupScannerStore(t)
	at := scanTime.Add(-5 * time.Minute)
	seed(t, store, "10.0.0.3", "/admin/users", 3, at)
	seed(t, store, "10.0.0.3", "/login", 2, at)
	seed(t, store, "10.0.0.3", "/home", 1, at)
	seed(t, store, "10.0.0.4", "/home", 5, at)

	if _, err := newTestScanner(store, scanTime).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows := suspicious(t, db)
	if _, flagged := rows["10.0.0.4"]; flagged {
		t.Fatal("address without sensitive hits was flagged")
	}
	row, ok := rows["10.0.0.3"]
	if !ok {
		t.Fatal("sensitive path visitor not flagged")
	}
	if row.Reason != "Accessed sensitive paths: /admin/users, /login" {
		t.Fatalf("reason = %q", row.Reason)
	}
}

func TestBothRulesCombineIntoOneReason(t *testing.T) {
	store, db := setupScannerStore(t)
	at := scanTime.Add(-time.Minute)
	seed(t, store, "10.0.0.5", "/api", 100, at)
	seed(t, store, "10.0.0.5", "/admin/", 2, at)

	if _, err := newTestScanner(store, scanTime).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	row := suspicious(t, db)["10.0.0.5"]
	want := "Exceeded 100 requests/hour (102 requests); Accessed sensitive paths: /admin/"
	if row.Reason != want {
		t.Fatalf("reason = %q, want %q", row.Reason, want)
	}
}

func TestEntriesOutsideWindowIgnored(t *testing.T) {
	store, db := setupScannerStore(t)
	seed(t, store, "10.0.0.6", "/admin", 1, scanTime.Add(-2*time.Hour))
	seed(t, store, "10.0.0.6", "/x", 150, scanTime.Add(-61*time.Minute))

	result, err := newTestScanner(store, scanTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ActiveIPs != 0 {
		t.Fatalf("ActiveIPs = %d, want 0", result.ActiveIPs)
	}
	if rows := suspicious(t, db); len(rows) != 0 {
		t.Fatalf("stale traffic flagged: %v", rows)
	}
}

func TestRepeatedRunsUpsert(t *testing.T) {
	store, db := setupScannerStore(t)
	seed(t, store, "10.0.0.7", "/login/", 1, scanTime.Add(-time.Minute))

	if _, err := newTestScanner(store, scanTime).Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	later := scanTime.Add(10 * time.Minute)
	if _, err := newTestScanner(store, later).Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	rows := suspicious(t, db)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if !rows["10.0.0.7"].DetectedAt.Equal(later) {
		t.Fatalf("DetectedAt = %s, want %s", rows["10.0.0.7"].DetectedAt, later)
	}
}

type fakeStore struct {
	mu        sync.Mutex
	logs      []domain.RequestLog
	readErr   error
	failFor   map[string]bool
	upserts   map[string]string
	streamHit chan struct{}
	release   chan struct{}
	streams   int
}

func (f *fakeStore) StreamRequestLogsSince(_ context.Context, _ time.Time, _ int, fn func([]domain.RequestLog) error) error {
	f.mu.Lock()
	f.streams++
	f.mu.Unlock()

	if f.streamHit != nil {
		f.streamHit <- struct{}{}
		<-f.release
	}
	if f.readErr != nil {
		return f.readErr
	}
	return fn(f.logs)
}

func (f *fakeStore) UpsertSuspiciousIP(_ context.Context, ip, reason string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[ip] {
		return &database.PersistenceError{Op: "upsert suspicious ip", Err: errors.New("write failed")}
	}
	if f.upserts == nil {
		f.upserts = make(map[string]string)
	}
	f.upserts[ip] = reason
	return nil
}

func TestReadFailureAbortsWithoutWrites(t *testing.T) {
	store := &fakeStore{readErr: errors.New("connection reset")}

	_, err := newTestScanner(store, scanTime).Run(context.Background())
	if !errors.Is(err, ErrScanFailed) {
		t.Fatalf("Run error = %v, want ErrScanFailed", err)
	}
	if len(store.upserts) != 0 {
		t.Fatalf("aborted run wrote %d flags", len(store.upserts))
	}
}

func TestUpsertFailuresDoNotStopOtherFlags(t *testing.T) {
	store := &fakeStore{
		logs: []domain.RequestLog{
			{IPAddress: "10.9.0.1", Path: "/admin"},
			{IPAddress: "10.9.0.2", Path: "/admin"},
			{IPAddress: "10.9.0.3", Path: "/login"},
		},
		failFor: map[string]bool{"10.9.0.2": true},
	}

	result, err := newTestScanner(store, scanTime).Run(context.Background())
	if err == nil {
		t.Fatal("expected joined upsert error")
	}
	if errors.Is(err, ErrScanFailed) {
		t.Fatal("upsert failure reported as read failure")
	}
	var perr *database.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("error chain lacks PersistenceError: %v", err)
	}
	if len(store.upserts) != 2 || len(result.Flagged) != 2 {
		t.Fatalf("upserts = %v, flagged = %v", store.upserts, result.Flagged)
	}
	if result.ActiveIPs != 3 {
		t.Fatalf("ActiveIPs = %d, want 3", result.ActiveIPs)
	}
}

func TestOverlappingRunsShareExecution(t *testing.T) {
	store := &fakeStore{
		logs:      []domain.RequestLog{{IPAddress: "10.8.0.1", Path: "/admin"}},
		streamHit: make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	scanner := newTestScanner(store, scanTime)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = scanner.Run(context.Background())
	}()

	<-store.streamHit

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = scanner.Run(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()

	if store.streams != 1 {
		t.Fatalf("log store read %d times, want 1", store.streams)
	}
	if results[1].ActiveIPs != 1 {
		t.Fatalf("joined run result = %+v", results[1])
	}
}

func TestReasonIsClipped(t *testing.T) {
	var logs []domain.RequestLog
	for i := 0; i < 30; i++ {
		logs = append(logs, domain.RequestLog{IPAddress: "10.7.0.1", Path: fmt.Sprintf("/admin/section-%02d/details", i)})
	}
	store := &fakeStore{logs: logs}

	if _, err := newTestScanner(store, scanTime).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(store.upserts["10.7.0.1"]); got != domain.MaxReasonLength {
		t.Fatalf("reason length = %d, want %d", got, domain.MaxReasonLength)
	}
}

func TestSensitiveTokensAddTrailingSlash(t *testing.T) {
	tokens := sensitiveTokens([]string{"/admin/", "/login"})
	want := map[string]bool{"/admin": true, "/admin/": true, "/login": true, "/login/": true}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %v", tokens)
	}
	for _, token := range tokens {
		if !want[token] {
			t.Fatalf("unexpected token %q", token)
		}
	}
}
