package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

const insertDraftSQL = `
INSERT INTO drafts (id, req_id, topic, title, source, tier, html, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

func TestSaveDraft(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	created := time.Date(2025, 1, 22, 10, 0, 0, 0, time.UTC)
	d := Draft{ID: "d-1", ReqID: "req-1", Topic: "dev tools", Title: "Weekly Dev Digest", Source: "generate_email", Tier: "PLANNER_RESULT", HTML: "<html></html>", CreatedAt: created}

	mock.ExpectExec(regexp.QuoteMeta(insertDraftSQL)).
		WithArgs(d.ID, d.ReqID, d.Topic, d.Title, d.Source, d.Tier, d.HTML, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := st.SaveDraft(context.Background(), d)
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if got.ID != "d-1" {
		t.Fatalf("id = %q", got.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveDraftAssignsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(insertDraftSQL)).
		WithArgs(sqlmock.AnyArg(), "req-2", "kong", "Kong news", "", "FAILED", "x", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := (&Store{DB: db}).SaveDraft(context.Background(), Draft{ReqID: "req-2", Topic: "kong", Title: "Kong news", Tier: "FAILED", HTML: "x"})
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", got)
	}
}

func TestSaveDraftDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(insertDraftSQL)).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = (&Store{DB: db}).SaveDraft(context.Background(), Draft{ID: "dup"})
	if !errors.Is(err, ErrDuplicateDraft) {
		t.Fatalf("expected ErrDuplicateDraft, got %v", err)
	}
}

func TestListDrafts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "req_id", "topic", "title", "source", "tier", "created_at"}).
		AddRow("d-2", "req-2", "kong", "Kong", "write_newsletter", "GUARDRAIL_DIRECT_WRITE", now).
		AddRow("d-1", "req-1", "sora", "Sora", "generate_email", "PLANNER_RESULT", now.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("FROM drafts\nORDER BY created_at DESC\nLIMIT $1")).
		WithArgs(DefaultListLimit).
		WillReturnRows(rows)

	got, err := (&Store{DB: db}).ListDrafts(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListDrafts: %v", err)
	}
	if len(got) != 2 || got[0].ID != "d-2" || got[1].Tier != "PLANNER_RESULT" {
		t.Fatalf("unexpected drafts: %+v", got)
	}
	if got[0].HTML != "" {
		t.Fatalf("list should not carry html")
	}
}

func TestGetDraftNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := (&Store{DB: db}).GetDraft(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetDraft(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "req_id", "topic", "title", "source", "tier", "html", "created_at"}).
			AddRow("d-1", "req-1", "sora", "Sora", "generate_email", "PLANNER_RESULT", "<p>hi</p>", now))

	d, err := (&Store{DB: db}).GetDraft(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if d.HTML != "<p>hi</p>" {
		t.Fatalf("html = %q", d.HTML)
	}
}
