package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/campusmatch/call-server-go/internal/model"
)

// MatchRepository reads the match table owned by the external matching
// collaborator. Only the authorization check lives here.
type MatchRepository interface {
	FindActiveByID(ctx context.Context, id string) (*model.Match, error)
}

type matchRepo struct {
	db *sqlx.DB
}

func NewMatchRepository(db *sqlx.DB) MatchRepository {
	return &matchRepo{db: db}
}

func (r *matchRepo) FindActiveByID(ctx context.Context, id string) (*model.Match, error) {
	var match model.Match
	err := r.db.GetContext(ctx, &match, `
		SELECT * FROM matches
		WHERE id = $1 AND status = 'active'
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}
