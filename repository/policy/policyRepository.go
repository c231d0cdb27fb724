package policyrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"loyalty/model"
)

type Repo interface {
	// Latest returns the highest policy version, or sql.ErrNoRows when none was stored yet.
	Latest(ctx context.Context) (*model.Policy, error)
	Insert(ctx context.Context, p *model.Policy) error
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db: db} }

func (r *repo) Latest(ctx context.Context) (*model.Policy, error) {
	const q = `
SELECT version, points_validity_seconds, earn_rate, redemption_timeout_seconds, tiers, created_by, created_at
FROM loyalty_policies
ORDER BY version DESC
LIMIT 1`
	var (
		p                 model.Policy
		validity, timeout int64
		tiers             []byte
	)
	err := r.db.QueryRowContext(ctx, q).Scan(&p.Version, &validity, &p.EarnRate, &timeout, &tiers, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tiers, &p.Tiers); err != nil {
		return nil, err
	}
	p.PointsValidity = time.Duration(validity) * time.Second
	p.RedemptionTimeout = time.Duration(timeout) * time.Second
	return &p, nil
}

// Insert stores p as a new version and sets p.Version.
func (r *repo) Insert(ctx context.Context, p *model.Policy) error {
	tiers, err := json.Marshal(p.Tiers)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO loyalty_policies (points_validity_seconds, earn_rate, redemption_timeout_seconds, tiers, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING version`
	return r.db.QueryRowContext(ctx, q,
		int64(p.PointsValidity/time.Second), p.EarnRate, int64(p.RedemptionTimeout/time.Second),
		string(tiers), p.CreatedBy, p.CreatedAt,
	).Scan(&p.Version)
}
