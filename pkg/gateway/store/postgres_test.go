package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxprep/voxprep/pkg/core/types"
)

type fakeDB struct {
	queries []string
	args    [][]any
	failN   int // fail the first N calls
	calls   int
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls++
	if f.calls <= f.failN {
		return pgconn.CommandTag{}, errors.New("connection refused")
	}
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, nil
}

func testPostgres(db *fakeDB) *Postgres {
	p := newPostgres(db, nil)
	p.backoff = time.Millisecond
	return p
}

func TestAppendTurn_UpsertsDocument(t *testing.T) {
	db := &fakeDB{}
	p := testPostgres(db)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	turn := types.Turn{
		QuestionID: "start",
		Prompt:     "Hi! Tell me about yourself.",
		Answer:     "I'm a developer",
		CapturedAt: started.Add(30 * time.Second),
	}
	if err := p.AppendTurn(context.Background(), "u1", "s_1", started, turn); err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if len(db.queries) != 1 {
		t.Fatalf("queries=%d, want 1", len(db.queries))
	}
	if !strings.Contains(db.queries[0], "ON CONFLICT (user_id, session_id)") {
		t.Fatalf("append is not an upsert: %s", db.queries[0])
	}
	if !strings.Contains(db.queries[0], "interview_sessions.interactions || excluded.interactions") {
		t.Fatalf("append does not merge interactions: %s", db.queries[0])
	}

	args := db.args[0]
	if args[0] != "u1" || args[1] != "s_1" {
		t.Fatalf("key args=%v", args[:2])
	}
	var got types.Turn
	if err := json.Unmarshal(args[3].([]byte), &got); err != nil {
		t.Fatalf("turn payload: %v", err)
	}
	if got.QuestionID != "start" || got.Answer != "I'm a developer" {
		t.Fatalf("turn payload=%+v", got)
	}
}

func TestFinishSession_WritesOutcome(t *testing.T) {
	db := &fakeDB{}
	p := testPostgres(db)

	rec := FinishRecord{
		StartedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 3, 1, 10, 12, 0, 0, time.UTC),
		Reason:     types.FinishNatural,
		Report: types.FeedbackReport{
			Score:        42,
			Strengths:    []string{"Mentioned relevant technical keywords."},
			Improvements: []string{},
		},
		Turns: []types.Turn{{QuestionID: "start", Answer: "hi"}},
	}
	if err := p.FinishSession(context.Background(), "u1", "s_1", rec); err != nil {
		t.Fatalf("finish session: %v", err)
	}

	args := db.args[0]
	if args[5] != 42 {
		t.Fatalf("score arg=%v, want 42", args[5])
	}
	if args[7] != "natural" {
		t.Fatalf("reason arg=%v, want natural", args[7])
	}
	var feedback types.FeedbackReport
	if err := json.Unmarshal(args[6].([]byte), &feedback); err != nil {
		t.Fatalf("feedback payload: %v", err)
	}
	if feedback.Score != 42 || len(feedback.Strengths) != 1 {
		t.Fatalf("feedback=%+v", feedback)
	}
}

func TestFinishSession_NilTurnsPersistEmptyArray(t *testing.T) {
	db := &fakeDB{}
	p := testPostgres(db)

	if err := p.FinishSession(context.Background(), "u1", "s_1", FinishRecord{Reason: types.FinishManual}); err != nil {
		t.Fatalf("finish session: %v", err)
	}
	if string(db.args[0][3].([]byte)) != "[]" {
		t.Fatalf("interactions=%s, want []", db.args[0][3])
	}
}

func TestExec_RetriesTransientFailures(t *testing.T) {
	db := &fakeDB{failN: 2}
	p := testPostgres(db)

	err := p.AppendTurn(context.Background(), "u1", "s_1", time.Now(), types.Turn{QuestionID: "q"})
	if err != nil {
		t.Fatalf("append turn after retries: %v", err)
	}
	if db.calls != 3 {
		t.Fatalf("calls=%d, want 3", db.calls)
	}
}

func TestExec_GivesUpAfterMaxRetries(t *testing.T) {
	db := &fakeDB{failN: 100}
	p := testPostgres(db)

	err := p.AppendTurn(context.Background(), "u1", "s_1", time.Now(), types.Turn{QuestionID: "q"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if db.calls != 4 { // initial attempt + 3 retries
		t.Fatalf("calls=%d, want 4", db.calls)
	}
}

func TestNopStore(t *testing.T) {
	var s Store = Nop{}
	if err := s.AppendTurn(context.Background(), "", "s", time.Now(), types.Turn{}); err != nil {
		t.Fatalf("nop append: %v", err)
	}
	if err := s.FinishSession(context.Background(), "", "s", FinishRecord{}); err != nil {
		t.Fatalf("nop finish: %v", err)
	}
}
