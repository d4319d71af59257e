package blocklist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"iptracker/internal/config"
	"iptracker/internal/metrics"
)

const (
	UpdatesChannel         = "iptracker:blocklist:updates"
	defaultRefreshInterval = 5 * time.Minute
	publishTimeout         = 5 * time.Second
)

var ErrInvalidIP = errors.New("blocklist: invalid ip address")

// Store is the durable side of the blocklist.
type Store interface {
	ListBlockedIPs(ctx context.Context) ([]string, error)
	HasBlockedIP(ctx context.Context, ip string) (bool, error)
	CreateBlockedIP(ctx context.Context, ip string) (bool, error)
}

type atomicSet struct {
	val atomic.Value
}

func (a *atomicSet) Load() map[string]struct{} {
	raw, ok := a.val.Load().(map[string]struct{})
	if !ok || raw == nil {
		return map[string]struct{}{}
	}
	return raw
}

func (a *atomicSet) Store(m map[string]struct{}) {
	a.val.Store(m)
}

// Manager answers IsBlocked from memory. The set is replaced wholesale on
// every change so readers never take a lock. Without redis nothing tells an
// instance about rows written elsewhere, so Blocked also asks the store for
// addresses missing from the set.
type Manager struct {
	store   Store
	redis   *redis.Client
	cache   atomicSet
	mu      sync.Mutex
	refresh singleflight.Group
}

type Option func(*Manager)

// WithRedis shares additions with other instances over pub/sub.
func WithRedis(client *redis.Client) Option {
	return func(m *Manager) {
		m.redis = client
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store}
	m.cache.Store(make(map[string]struct{}))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Canonical returns the textual form used for storage and lookups. Strings
// that do not parse as an address are returned trimmed but otherwise as-is.
func Canonical(ip string) string {
	trimmed := strings.TrimSpace(ip)
	if parsed := net.ParseIP(trimmed); parsed != nil {
		return parsed.String()
	}
	return trimmed
}

func (m *Manager) IsBlocked(ip string) bool {
	_, found := m.cache.Load()[Canonical(ip)]
	return found
}

// Blocked is the request path check. A store hit is remembered locally.
func (m *Manager) Blocked(ctx context.Context, ip string) bool {
	canonical := Canonical(ip)
	if _, found := m.cache.Load()[canonical]; found {
		return true
	}
	if m.redis != nil || net.ParseIP(canonical) == nil {
		return false
	}

	found, err := m.store.HasBlockedIP(ctx, canonical)
	if err != nil {
		log.Warn("Blocklist: store check failed, using cached set", "ip", canonical, "error", err)
		return false
	}
	if found {
		m.addLocal(canonical)
	}
	return found
}

func (m *Manager) Count() int {
	return len(m.cache.Load())
}

// Add persists ip and makes it effective locally right away. created is false
// when the address was already blocked.
func (m *Manager) Add(ctx context.Context, ip string) (bool, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	canonical := parsed.String()

	created, err := m.store.CreateBlockedIP(ctx, canonical)
	if err != nil {
		return false, err
	}

	m.addLocal(canonical)

	if created {
		m.publish(ctx, canonical)
	}
	return created, nil
}

func (m *Manager) addLocal(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.cache.Load()
	if _, found := current[ip]; found {
		return
	}
	next := cloneSet(current)
	next[ip] = struct{}{}
	m.cache.Store(next)
	metrics.BlockedIPs.Set(float64(len(next)))
}

// LoadCache replaces the in-memory set with the stored entries.
func (m *Manager) LoadCache(ctx context.Context) error {
	_, err, _ := m.refresh.Do("load", func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		ips, err := m.store.ListBlockedIPs(ctx)
		if err != nil {
			return nil, err
		}
		set := toSet(ips)
		m.cache.Store(set)
		metrics.BlockedIPs.Set(float64(len(set)))
		return nil, nil
	})
	return err
}

func (m *Manager) publish(ctx context.Context, ip string) {
	if m.redis == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := m.redis.Publish(pubCtx, UpdatesChannel, ip).Err(); err != nil {
		log.Warn("Blocklist: failed to publish addition", "ip", ip, "error", err)
	}
}

// Subscribe applies additions published by other instances until ctx ends.
func (m *Manager) Subscribe(ctx context.Context) {
	if m.redis == nil {
		return
	}

	pubsub := m.redis.Subscribe(ctx, UpdatesChannel)
	defer pubsub.Close()
	// ReceiveMessage does not return on cancellation by itself.
	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	defer stop()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Blocklist: subscription error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		ip := Canonical(msg.Payload)
		if net.ParseIP(ip) == nil {
			log.Warn("Blocklist: ignoring invalid published address", "payload", msg.Payload)
			continue
		}
		m.addLocal(ip)
		log.Debug("Blocklist: applied remote addition", "ip", ip)
	}
}

// StartRefreshRoutine reloads the set on the configured cadence so entries
// removed out of band stop matching. It blocks until ctx ends.
func (m *Manager) StartRefreshRoutine(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	current := config.GetBlocklistRefreshInterval()
	if current <= 0 {
		current = defaultRefreshInterval
	}

	updates := config.BlocklistRefreshIntervalUpdates()
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.LoadCache(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("Blocklist refresh failed", "error", err)
				continue
			}
			log.Debug("Blocklist refreshed", "entries", m.Count())
		case next := <-updates:
			if next <= 0 {
				next = defaultRefreshInterval
			}
			if next == current {
				continue
			}
			drainTicker(ticker)
			current = next
			ticker.Reset(current)
			log.Info("Blocklist refresh interval updated", "interval", current)
		}
	}
}

func toSet(ips []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		m[Canonical(ip)] = struct{}{}
	}
	return m
}

func cloneSet(m map[string]struct{}) map[string]struct{} {
	cp := make(map[string]struct{}, len(m)+1)
	for k := range m {
		cp[k] = struct{}{}
	}
	return cp
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}
