package graphql

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gql "github.com/graphql-go/graphql"

	"iptracker/internal/domain"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Store is the read side the admin schema exposes.
type Store interface {
	GetUser(ctx context.Context, id uint) (domain.User, error)
	ListSuspiciousIPs(ctx context.Context, limit int) ([]domain.SuspiciousIP, error)
	ListBlockedIPEntries(ctx context.Context) ([]domain.BlockedIP, error)
	ListRequestLogs(ctx context.Context, ip string, limit int) ([]domain.RequestLog, error)
}

// Blocker adds addresses to the blocklist.
type Blocker interface {
	Add(ctx context.Context, ip string) (bool, error)
}

func NewSchema(store Store, blocker Blocker) (gql.Schema, error) {
	userType := gql.NewObject(gql.ObjectConfig{
		Name: "User",
		Fields: gql.Fields{
			"id":    &gql.Field{Type: gql.NewNonNull(gql.ID)},
			"email": &gql.Field{Type: gql.NewNonNull(gql.String)},
			"role":  &gql.Field{Type: gql.NewNonNull(gql.String)},
		},
	})

	suspiciousType := gql.NewObject(gql.ObjectConfig{
		Name: "SuspiciousIp",
		Fields: gql.Fields{
			"ipAddress":  &gql.Field{Type: gql.NewNonNull(gql.String)},
			"reason":     &gql.Field{Type: gql.NewNonNull(gql.String)},
			"detectedAt": &gql.Field{Type: gql.NewNonNull(gql.String)},
		},
	})

	blockedType := gql.NewObject(gql.ObjectConfig{
		Name: "BlockedIp",
		Fields: gql.Fields{
			"ipAddress": &gql.Field{Type: gql.NewNonNull(gql.String)},
			"createdAt": &gql.Field{Type: gql.NewNonNull(gql.String)},
		},
	})

	requestLogType := gql.NewObject(gql.ObjectConfig{
		Name: "RequestLog",
		Fields: gql.Fields{
			"ipAddress": &gql.Field{Type: gql.NewNonNull(gql.String)},
			"path":      &gql.Field{Type: gql.NewNonNull(gql.String)},
			"timestamp": &gql.Field{Type: gql.NewNonNull(gql.String)},
			"country":   &gql.Field{Type: gql.String},
			"city":      &gql.Field{Type: gql.String},
		},
	})

	blockResultType := gql.NewObject(gql.ObjectConfig{
		Name: "BlockResult",
		Fields: gql.Fields{
			"ipAddress": &gql.Field{Type: gql.NewNonNull(gql.String)},
			"created":   &gql.Field{Type: gql.NewNonNull(gql.Boolean)},
		},
	})

	limitArg := gql.FieldConfigArgument{
		"limit": &gql.ArgumentConfig{Type: gql.Int},
	}

	queryType := gql.NewObject(gql.ObjectConfig{
		Name: "Query",
		Fields: gql.Fields{
			"viewer": &gql.Field{
				Type: userType,
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					userID, err := UserIDFromContext(p.Context)
					if err != nil {
						return nil, err
					}
					user, err := store.GetUser(p.Context, userID)
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"id":    strconv.FormatUint(uint64(user.ID), 10),
						"email": user.Email,
						"role":  user.Role,
					}, nil
				},
			},
			"suspiciousIps": &gql.Field{
				Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(suspiciousType))),
				Args: limitArg,
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					entries, err := store.ListSuspiciousIPs(p.Context, limitFromArgs(p.Args))
					if err != nil {
						return nil, err
					}
					items := make([]map[string]interface{}, 0, len(entries))
					for _, entry := range entries {
						items = append(items, map[string]interface{}{
							"ipAddress":  entry.IPAddress,
							"reason":     entry.Reason,
							"detectedAt": formatTime(entry.DetectedAt),
						})
					}
					return items, nil
				},
			},
			"blockedIps": &gql.Field{
				Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(blockedType))),
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					entries, err := store.ListBlockedIPEntries(p.Context)
					if err != nil {
						return nil, err
					}
					items := make([]map[string]interface{}, 0, len(entries))
					for _, entry := range entries {
						items = append(items, map[string]interface{}{
							"ipAddress": entry.IPAddress,
							"createdAt": formatTime(entry.CreatedAt),
						})
					}
					return items, nil
				},
			},
			"requestLogs": &gql.Field{
				Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(requestLogType))),
				Args: gql.FieldConfigArgument{
					"ip":    &gql.ArgumentConfig{Type: gql.String},
					"limit": &gql.ArgumentConfig{Type: gql.Int},
				},
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					ip, _ := p.Args["ip"].(string)
					logs, err := store.ListRequestLogs(p.Context, ip, limitFromArgs(p.Args))
					if err != nil {
						return nil, err
					}
					items := make([]map[string]interface{}, 0, len(logs))
					for _, entry := range logs {
						items = append(items, map[string]interface{}{
							"ipAddress": entry.IPAddress,
							"path":      entry.Path,
							"timestamp": formatTime(entry.Timestamp),
							"country":   entry.Country,
							"city":      entry.City,
						})
					}
					return items, nil
				},
			},
		},
	})

	mutationType := gql.NewObject(gql.ObjectConfig{
		Name: "Mutation",
		Fields: gql.Fields{
			"blockIp": &gql.Field{
				Type: gql.NewNonNull(blockResultType),
				Args: gql.FieldConfigArgument{
					"ip": &gql.ArgumentConfig{Type: gql.NewNonNull(gql.String)},
				},
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					if _, err := UserIDFromContext(p.Context); err != nil {
						return nil, err
					}
					ip, _ := p.Args["ip"].(string)
					created, err := blocker.Add(p.Context, ip)
					if err != nil {
						return nil, fmt.Errorf("block %s: %w", ip, err)
					}
					return map[string]interface{}{
						"ipAddress": ip,
						"created":   created,
					}, nil
				},
			},
		},
	})

	return gql.NewSchema(gql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

func limitFromArgs(args map[string]interface{}) int {
	limit, ok := args["limit"].(int)
	if !ok || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
