package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/newsletter-agent/config"
	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
)

// Redis keeps footer settings and archived request logs.
type Redis struct {
	client     *redis.Client
	prefix     string
	archiveTTL time.Duration
}

// NewRedis connects using cfg. The connection is not checked; call Ping.
func NewRedis(cfg config.RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return NewRedisWithClient(client, cfg.Prefix, cfg.ArchiveTTL)
}

func NewRedisWithClient(client *redis.Client, prefix string, archiveTTL time.Duration) *Redis {
	if prefix == "" {
		prefix = "newsletter"
	}
	return &Redis{client: client, prefix: prefix, archiveTTL: archiveTTL}
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Footer returns the saved settings, or the defaults when none were saved.
func (r *Redis) Footer(ctx context.Context) (content.FooterSettings, error) {
	raw, err := r.client.Get(ctx, r.key("footer")).Bytes()
	if errors.Is(err, redis.Nil) {
		return content.DefaultFooter(), nil
	}
	if err != nil {
		return content.FooterSettings{}, fmt.Errorf("read footer: %w", err)
	}
	var s content.FooterSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return content.FooterSettings{}, fmt.Errorf("decode footer: %w", err)
	}
	return s, nil
}

func (r *Redis) SaveFooter(ctx context.Context, s content.FooterSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key("footer"), raw, 0).Err()
}

// ArchiveLogs stores a finished request's log for later lookup.
func (r *Redis) ArchiveLogs(ctx context.Context, id string, entries []reqlog.Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key("logs", id), raw, r.archiveTTL).Err()
}

// ArchivedLogs returns the archived log for id. The bool is false when
// nothing is archived.
func (r *Redis) ArchivedLogs(ctx context.Context, id string) ([]reqlog.Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.key("logs", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read archived logs: %w", err)
	}
	var entries []reqlog.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("decode archived logs: %w", err)
	}
	return entries, true, nil
}
