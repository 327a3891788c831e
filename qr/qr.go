/*
Package qr resolves scanned QR tokens to the resource they are printed on.

PURPOSE:
  The engine treats a QR token as an opaque input: a generic.TokenResolver
  maps it to (kind, resource id) and the engine does the rest. Tokens carry
  no cryptography; rotating a token means re-registering it.

RESOLVERS:
  StaticResolver: In-process map, built from the catalog at startup
  RedisResolver:  Shared lookup so tokens can be rotated without a restart
  Chain:          First resolver that knows the token wins

STORED FORM:
  Redis values use FormatTarget: "<KIND>:<resource id>", e.g. "SEAT:S-101".

SEE ALSO:
  - generic/checkin.go: CheckInByQR
  - campus/catalog.go: DemoToken
*/
package qr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/reservation-engine/generic"
)

// Target is what a token points at.
type Target struct {
	Kind generic.ResourceKind
	ID   generic.ResourceID
}

func FormatTarget(kind generic.ResourceKind, id generic.ResourceID) string {
	return string(kind) + ":" + string(id)
}

func ParseTarget(s string) (Target, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Target{}, &generic.ValidationError{Field: "qr.target", Message: fmt.Sprintf("malformed target %q", s)}
	}
	t := Target{Kind: generic.ResourceKind(kind), ID: generic.ResourceID(id)}
	if !t.Kind.Valid() {
		return Target{}, &generic.ValidationError{Field: "qr.target", Message: "unknown kind " + kind}
	}
	return t, nil
}

func unknownToken(token string) error {
	return &generic.NotFoundError{Kind: "qr token", ID: token}
}

// =============================================================================
// STATIC
// =============================================================================

// StaticResolver is safe for concurrent use.
type StaticResolver struct {
	mu      sync.RWMutex
	targets map[string]Target
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{targets: make(map[string]Target)}
}

// FromCatalog registers token(r) for every resource that accepts QR check-in.
func FromCatalog(resources []generic.Resource, token func(generic.ResourceID) string) *StaticResolver {
	s := NewStaticResolver()
	for _, r := range resources {
		if generic.PolicyFor(r).QRCheckIn {
			s.Register(token(r.ID), r.Kind, r.ID)
		}
	}
	return s
}

func (s *StaticResolver) Register(token string, kind generic.ResourceKind, id generic.ResourceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[token] = Target{Kind: kind, ID: id}
}

func (s *StaticResolver) Resolve(_ context.Context, token string) (generic.ResourceKind, generic.ResourceID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[token]
	if !ok {
		return "", "", unknownToken(token)
	}
	return t.Kind, t.ID, nil
}

// =============================================================================
// REDIS
// =============================================================================

const DefaultPrefix = "qr:"

type RedisResolver struct {
	client *redis.Client
	prefix string
}

func NewRedisResolver(client *redis.Client, prefix string) *RedisResolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisResolver{client: client, prefix: prefix}
}

func (r *RedisResolver) Resolve(ctx context.Context, token string) (generic.ResourceKind, generic.ResourceID, error) {
	val, err := r.client.Get(ctx, r.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", unknownToken(token)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve qr token: %w", err)
	}
	t, err := ParseTarget(val)
	if err != nil {
		return "", "", fmt.Errorf("qr token %s: %w", token, err)
	}
	return t.Kind, t.ID, nil
}

// Register stores a token. ttl 0 keeps it until revoked.
func (r *RedisResolver) Register(ctx context.Context, token string, kind generic.ResourceKind, id generic.ResourceID, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+token, FormatTarget(kind, id), ttl).Err(); err != nil {
		return fmt.Errorf("failed to register qr token: %w", err)
	}
	return nil
}

func (r *RedisResolver) Revoke(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, r.prefix+token).Err(); err != nil {
		return fmt.Errorf("failed to revoke qr token: %w", err)
	}
	return nil
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain tries each resolver in order. Infrastructure errors stop the chain.
type Chain []generic.TokenResolver

func (c Chain) Resolve(ctx context.Context, token string) (generic.ResourceKind, generic.ResourceID, error) {
	for _, r := range c {
		kind, id, err := r.Resolve(ctx, token)
		if generic.IsNotFound(err) {
			continue
		}
		return kind, id, err
	}
	return "", "", unknownToken(token)
}
