package fingerprint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore persists fingerprint records through the shared pgx
// pool. The upsert is a single round-trip so ingestion stays cheap.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Upsert(ctx context.Context, hash string, attrs Attributes, behavior Behavior) (UpsertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// Counter merge happens in SQL so concurrent submissions for the
	// same hash never lose increments.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO fingerprints (
			visitor_id, hash, screen, viewport, timezone, platform, language,
			canvas_hash, webgl_hash, fonts, touch_points,
			mouse_moves, clicks, key_presses, scroll_events,
			visit_count, first_seen, last_seen, active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,
		          GREATEST($12,0), GREATEST($13,0), GREATEST($14,0), GREATEST($15,0),
		          1, now(), now(), true)
		ON CONFLICT (hash) DO UPDATE SET
			visit_count   = fingerprints.visit_count + 1,
			last_seen     = now(),
			mouse_moves   = fingerprints.mouse_moves + GREATEST($12, 0),
			clicks        = fingerprints.clicks + GREATEST($13, 0),
			key_presses   = fingerprints.key_presses + GREATEST($14, 0),
			scroll_events = fingerprints.scroll_events + GREATEST($15, 0),
			screen        = COALESCE(NULLIF(fingerprints.screen, ''), $3),
			viewport      = COALESCE(NULLIF(fingerprints.viewport, ''), $4),
			timezone      = COALESCE(NULLIF(fingerprints.timezone, ''), $5),
			platform      = COALESCE(NULLIF(fingerprints.platform, ''), $6),
			language      = COALESCE(NULLIF(fingerprints.language, ''), $7),
			touch_points  = GREATEST(fingerprints.touch_points, $11)
		RETURNING visitor_id, visit_count, (xmax = 0),
			screen, platform, touch_points,
			mouse_moves, clicks, key_presses, scroll_events
	`, uuid.NewString(), hash,
		attrs.Screen, attrs.Viewport, attrs.Timezone, attrs.Platform, attrs.Language,
		attrs.CanvasHash, attrs.WebGLHash, attrs.Fonts, attrs.TouchPoints,
		behavior.MouseMoves, behavior.Clicks, behavior.KeyPresses, behavior.ScrollEvents,
	)

	var (
		res UpsertResult
		r   Record
	)
	if err := row.Scan(&res.VisitorID, &res.VisitCount, &res.Created,
		&r.Attributes.Screen, &r.Attributes.Platform, &r.Attributes.TouchPoints,
		&r.Behavior.MouseMoves, &r.Behavior.Clicks, &r.Behavior.KeyPresses, &r.Behavior.ScrollEvents,
	); err != nil {
		return UpsertResult{}, fmt.Errorf("fingerprint upsert: %w", err)
	}

	// Recompute and persist the risk score from the merged record.
	r.VisitCount = res.VisitCount
	score := scoreRecord(&r)
	if _, err := s.pool.Exec(ctx, `
		UPDATE fingerprints SET risk_score = $2, suspicious = $3 WHERE hash = $1
	`, hash, score, score >= SuspiciousThreshold); err != nil {
		// Score refresh failure is not worth failing the ingestion.
		log.Warn().Err(err).Msg("fingerprint risk score update failed")
	}

	return res, nil
}

// RiskScoreOf is read-only on the decision hot path. Any storage
// failure degrades to a zero contribution.
func (s *PostgresStore) RiskScoreOf(ctx context.Context, hash string) int {
	if hash == "" {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var score int
	err := s.pool.QueryRow(ctx,
		`SELECT risk_score FROM fingerprints WHERE hash = $1 AND active`, hash,
	).Scan(&score)
	if err != nil {
		return 0
	}
	return score
}
