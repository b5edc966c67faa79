// Package download hands out opaque, expiring tokens for generated sitemap
// files and packages them for transfer.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	gonanoid "github.com/matoous/go-nanoid/v2"
	goredis "github.com/redis/go-redis/v9"
)

// Kind selects what a token unlocks.
type Kind string

const (
	// KindSitemapJob downloads every file of a sitemap job as a zip archive.
	KindSitemapJob Kind = "sitemap_job"
	// KindSitemapIndex downloads the index document of a sitemap job.
	KindSitemapIndex Kind = "sitemap_index"
)

func (k Kind) IsValid() bool {
	return k == KindSitemapJob || k == KindSitemapIndex
}

const (
	DefaultTokenTTL = time.Hour

	tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	tokenSize     = 32
	keyPrefix     = "sitemap:download:"
)

// Target is what a resolved token points at.
type Target struct {
	Kind     Kind      `json:"kind"`
	ID       string    `json:"id"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Issuer stores token targets in Redis with a TTL.
type Issuer struct {
	client   *goredis.Client
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

func NewIssuer(client *goredis.Client, ttl time.Duration) (*Issuer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &Issuer{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		generate: func() (string, error) {
			return gonanoid.Generate(tokenAlphabet, tokenSize)
		},
	}, nil
}

// TTL reports how long issued tokens stay valid.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

func (i *Issuer) IssueToken(ctx context.Context, kind Kind, id string) (string, error) {
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: invalid download kind %q", domain.ErrValidation, kind)
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: download target id is required", domain.ErrValidation)
	}

	token, err := i.generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate download token: %w", err)
	}

	payload, err := json.Marshal(Target{Kind: kind, ID: id, IssuedAt: i.now().UTC()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal download target: %w", err)
	}

	ok, err := i.client.SetNX(ctx, keyPrefix+token, payload, i.ttl).Result()
	if err != nil {
		return "", domain.NewTransientError("store download token", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: download token collision", domain.ErrConflict)
	}
	return token, nil
}

// ResolveToken returns the token's target, or nil when the token is unknown
// or expired.
func (i *Issuer) ResolveToken(ctx context.Context, token string) (*Target, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 2*tokenSize {
		return nil, nil
	}

	payload, err := i.client.Get(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewTransientError("resolve download token", err)
	}

	var target Target
	if err := json.Unmarshal(payload, &target); err != nil {
		return nil, fmt.Errorf("failed to decode download target: %w", err)
	}
	return &target, nil
}
