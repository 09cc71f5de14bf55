// Package store persists interview sessions as merge-upserted documents keyed
// by (user_id, session_id).
//
// Writes are best-effort mirrors of the in-memory session state: callers fire
// them off without blocking the session loop, and failures are logged, never
// propagated into session progression.
package store

import (
	"context"
	"time"

	"github.com/voxprep/voxprep/pkg/core/types"
)

// FinishRecord is the final write for a session.
type FinishRecord struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Reason     types.FinishReason
	Report     types.FeedbackReport
	Turns      []types.Turn
}

// Store is the session persistence sink.
type Store interface {
	// AppendTurn merges one completed turn into the session document,
	// creating the document on first write.
	AppendTurn(ctx context.Context, userID, sessionID string, startedAt time.Time, turn types.Turn) error

	// FinishSession merges the final outcome into the session document.
	FinishSession(ctx context.Context, userID, sessionID string, rec FinishRecord) error
}

// Nop is the sink for anonymous sessions: persistence is skipped entirely.
type Nop struct{}

func (Nop) AppendTurn(context.Context, string, string, time.Time, types.Turn) error {
	return nil
}

func (Nop) FinishSession(context.Context, string, string, FinishRecord) error {
	return nil
}
