package graphql

import (
	"context"
	"errors"
	"testing"
	"time"

	gql "github.com/graphql-go/graphql"

	"iptracker/internal/domain"
)

type fakeStore struct {
	suspicious []domain.SuspiciousIP
	blocked    []domain.BlockedIP
	logs       []domain.RequestLog
	lastIP     string
	lastLimit  int
}

func (f *fakeStore) GetUser(_ context.Context, id uint) (domain.User, error) {
	if id != 7 {
		return domain.User{}, errors.New("not found")
	}
	return domain.User{ID: 7, Email: "admin@example.com", Role: domain.RoleAdmin}, nil
}

func (f *fakeStore) ListSuspiciousIPs(_ context.Context, limit int) ([]domain.SuspiciousIP, error) {
	f.lastLimit = limit
	return f.suspicious, nil
}

func (f *fakeStore) ListBlockedIPEntries(context.Context) ([]domain.BlockedIP, error) {
	return f.blocked, nil
}

func (f *fakeStore) ListRequestLogs(_ context.Context, ip string, limit int) ([]domain.RequestLog, error) {
	f.lastIP = ip
	f.lastLimit = limit
	return f.logs, nil
}

type fakeBlocker struct {
	added []string
}

func (f *fakeBlocker) Add(_ context.Context, ip string) (bool, error) {
	f.added = append(f.added, ip)
	return true, nil
}

func execute(t *testing.T, schema gql.Schema, ctx context.Context, query string) *gql.Result {
	t.Helper()
	return gql.Do(gql.Params{Schema: schema, RequestString: query, Context: ctx})
}

func TestSchemaQueries(t *testing.T) {
	detected := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	country := "Germany"
	store := &fakeStore{
		suspicious: []domain.SuspiciousIP{{IPAddress: "203.0.113.9", Reason: "Accessed sensitive paths: /admin", DetectedAt: detected}},
		blocked:    []domain.BlockedIP{{IPAddress: "198.51.100.1", CreatedAt: detected}},
		logs:       []domain.RequestLog{{IPAddress: "203.0.113.9", Path: "/admin", Timestamp: detected, Country: &country}},
	}

	schema, err := NewSchema(store, &fakeBlocker{})
	if err != nil {
		t.Fatalf("NewSchema returned error: %v", err)
	}

	ctx := WithUserID(context.Background(), 7)
	result := execute(t, schema, ctx, `{
		viewer { email role }
		suspiciousIps(limit: 5) { ipAddress reason detectedAt }
		blockedIps { ipAddress }
	}`)
	if len(result.Errors) > 0 {
		t.Fatalf("query returned errors: %v", result.Errors)
	}

	data := result.Data.(map[string]interface{})
	viewer := data["viewer"].(map[string]interface{})
	if viewer["role"] != domain.RoleAdmin {
		t.Fatalf("viewer role = %v, want admin", viewer["role"])
	}
	suspicious := data["suspiciousIps"].([]interface{})
	if len(suspicious) != 1 {
		t.Fatalf("suspiciousIps returned %d entries, want 1", len(suspicious))
	}
	first := suspicious[0].(map[string]interface{})
	if first["detectedAt"] != "2025-03-01T10:00:00Z" {
		t.Fatalf("detectedAt = %v", first["detectedAt"])
	}
	if store.lastLimit != 5 {
		t.Fatalf("limit passed to store = %d, want 5", store.lastLimit)
	}

	result = execute(t, schema, ctx, `{ requestLogs(ip: "203.0.113.9", limit: 5000) { path country city } }`)
	if len(result.Errors) > 0 {
		t.Fatalf("requestLogs returned errors: %v", result.Errors)
	}
	if store.lastIP != "203.0.113.9" || store.lastLimit != maxListLimit {
		t.Fatalf("store called with ip=%q limit=%d", store.lastIP, store.lastLimit)
	}
	entry := result.Data.(map[string]interface{})["requestLogs"].([]interface{})[0].(map[string]interface{})
	if entry["country"] != "Germany" || entry["city"] != nil {
		t.Fatalf("location fields = %v/%v, want Germany/nil", entry["country"], entry["city"])
	}
}

func TestViewerRequiresAuthentication(t *testing.T) {
	schema, err := NewSchema(&fakeStore{}, &fakeBlocker{})
	if err != nil {
		t.Fatalf("NewSchema returned error: %v", err)
	}

	result := execute(t, schema, context.Background(), `{ viewer { email } }`)
	if len(result.Errors) == 0 {
		t.Fatal("expected an error for an anonymous viewer query")
	}
}

func TestBlockIPMutation(t *testing.T) {
	blocker := &fakeBlocker{}
	schema, err := NewSchema(&fakeStore{}, blocker)
	if err != nil {
		t.Fatalf("NewSchema returned error: %v", err)
	}

	result := execute(t, schema, WithUserID(context.Background(), 7), `mutation { blockIp(ip: "192.0.2.4") { ipAddress created } }`)
	if len(result.Errors) > 0 {
		t.Fatalf("mutation returned errors: %v", result.Errors)
	}
	if len(blocker.added) != 1 || blocker.added[0] != "192.0.2.4" {
		t.Fatalf("blocker received %v", blocker.added)
	}
}
