package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	InstanceHeartbeatKeyPrefix = "iptracker:instance:"
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultHeartbeatTTL        = 30 * time.Second
)

var instanceID = generateInstanceID()

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}

func InstanceID() string {
	return instanceID
}

// StartInstanceHeartbeat refreshes this instance's presence key until ctx
// ends, then removes it.
func StartInstanceHeartbeat(ctx context.Context, client *redis.Client, interval, ttl time.Duration) {
	if client == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := InstanceHeartbeatKeyPrefix + instanceID

	beat := func() {
		if err := client.SetEx(ctx, key, "alive", ttl).Err(); err != nil && ctx.Err() == nil {
			log.Error("Failed to update instance heartbeat", "key", key, "error", err)
		}
	}

	beat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			delCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = client.Del(delCtx, key).Err()
			cancel()
			return
		case <-ticker.C:
			beat()
		}
	}
}

// CountActiveInstances counts presence keys with SCAN so large keyspaces are
// not blocked.
func CountActiveInstances(ctx context.Context, client *redis.Client) (int, error) {
	if client == nil {
		return 1, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	count := 0
	iter := client.Scan(ctx, 0, InstanceHeartbeatKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
