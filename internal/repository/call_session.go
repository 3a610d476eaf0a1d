package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/campusmatch/call-server-go/internal/model"
)

type CallSessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.CallSession, error)
	Create(ctx context.Context, params model.CreateCallSessionParams) (*model.CallSession, error)
	// ConditionalTransition applies expected -> next only if the stored
	// status still equals expected, and reports whether it committed. This
	// is the sole mutation path for session status.
	ConditionalTransition(ctx context.Context, id string, expected, next model.CallStatus, answeredAt, endedAt *time.Time) (bool, error)
	ListActiveOrRinging(ctx context.Context, userID string) ([]model.CallSession, error)
	ListOverdueRinging(ctx context.Context, olderThan time.Time) ([]model.CallSession, error)
}

type callSessionRepo struct {
	db *sqlx.DB
}

func NewCallSessionRepository(db *sqlx.DB) CallSessionRepository {
	return &callSessionRepo{db: db}
}

func (r *callSessionRepo) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	var session model.CallSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM call_sessions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *callSessionRepo) Create(ctx context.Context, params model.CreateCallSessionParams) (*model.CallSession, error) {
	var session model.CallSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO call_sessions (id, caller_id, receiver_id, match_id, channel_name, credential, app_id, call_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'ringing')
		RETURNING *
	`, params.ID, params.CallerID, params.ReceiverID, params.MatchID,
		params.ChannelName, params.Credential, params.AppID, params.CallType)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *callSessionRepo) ConditionalTransition(ctx context.Context, id string, expected, next model.CallStatus, answeredAt, endedAt *time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE call_sessions SET
			status = $3,
			answered_at = COALESCE($4, answered_at),
			ended_at = COALESCE($5, ended_at)
		WHERE id = $1 AND status = $2
	`, id, expected, next, answeredAt, endedAt)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *callSessionRepo) ListActiveOrRinging(ctx context.Context, userID string) ([]model.CallSession, error) {
	var sessions []model.CallSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM call_sessions
		WHERE (caller_id = $1 OR receiver_id = $1)
		AND status IN ('ringing', 'active')
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *callSessionRepo) ListOverdueRinging(ctx context.Context, olderThan time.Time) ([]model.CallSession, error) {
	var sessions []model.CallSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM call_sessions
		WHERE status = 'ringing' AND created_at < $1
		ORDER BY created_at ASC
	`, olderThan)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
