package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
	"github.com/mohammad-safakhou/newsletter-agent/internal/store"
)

func TestDraftsRoundTripPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("newsletter"),
		tcPostgres.WithUsername("newsletter"),
		tcPostgres.WithPassword("newsletter"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://newsletter:newsletter@%s:%s/newsletter?sslmode=disable", host, port.Port())

	var st *store.Store
	deadline := time.Now().Add(30 * time.Second)
	for {
		st, err = store.NewWithDSN(ctx, dsn)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.Close()

	if err := store.Migrate("", dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	saved, err := st.SaveDraft(ctx, store.Draft{ReqID: "req-1", Topic: "dev tools", Title: "Weekly Dev Digest", Source: "generate_email", Tier: "PLANNER_RESULT", HTML: "<h1>Weekly Dev Digest</h1>"})
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	got, err := st.GetDraft(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if got.HTML != saved.HTML || got.Topic != "dev tools" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	list, err := st.ListDrafts(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDrafts: %v %+v", err, list)
	}
}

func TestRedisFooterAndArchive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	r := store.NewRedisWithClient(client, "test", time.Minute)
	defer r.Close()

	if err := r.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	f, err := r.Footer(ctx)
	if err != nil {
		t.Fatalf("Footer: %v", err)
	}
	if f.OrgName != content.DefaultFooter().OrgName {
		t.Fatalf("expected default footer, got %+v", f)
	}
	name := "Dev Weekly"
	if _, err := content.UpdateFooter(ctx, r, content.FooterPatch{OrgName: &name}); err != nil {
		t.Fatalf("UpdateFooter: %v", err)
	}
	f, _ = r.Footer(ctx)
	if f.OrgName != name || f.WebsiteURL == "" {
		t.Fatalf("patch not merged: %+v", f)
	}

	entries := []reqlog.Entry{{TS: "2025-01-22T10:00:00.000Z", Level: reqlog.LevelInfo, ReqID: "req-1", Msg: "done"}}
	if err := r.ArchiveLogs(ctx, "req-1", entries); err != nil {
		t.Fatalf("ArchiveLogs: %v", err)
	}
	got, ok, err := r.ArchivedLogs(ctx, "req-1")
	if err != nil || !ok || len(got) != 1 || got[0].Msg != "done" {
		t.Fatalf("ArchivedLogs = %+v %v %v", got, ok, err)
	}
	if _, ok, _ := r.ArchivedLogs(ctx, "missing"); ok {
		t.Fatalf("missing id should not be found")
	}
}
