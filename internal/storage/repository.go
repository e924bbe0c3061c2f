package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) GetAnomaly(ctx context.Context, id string) (contracts.Anomaly, error) {
	row := r.pool.QueryRow(ctx, `
        SELECT id, type, severity, detected_at, metadata
        FROM anomalies
        WHERE id = $1
    `, id)

	a, err := scanAnomaly(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.Anomaly{}, apperr.NotFound("alert", id)
	}
	if err != nil {
		return contracts.Anomaly{}, apperr.Transient("query anomaly", err)
	}
	return a, nil
}

func (r *Repository) ListAnomaliesBetween(ctx context.Context, from, to time.Time) ([]contracts.Anomaly, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, type, severity, detected_at, metadata
        FROM anomalies
        WHERE detected_at >= $1 AND detected_at <= $2
        ORDER BY detected_at DESC
    `, from, to)
	if err != nil {
		return nil, apperr.Transient("query anomalies", err)
	}
	defer rows.Close()

	var out []contracts.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, apperr.Transient("scan anomaly", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate anomalies", err)
	}
	return out, nil
}

// RecentAlertIDs returns the ids of the most recently detected alerts.
func (r *Repository) RecentAlertIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
        SELECT id
        FROM anomalies
        ORDER BY detected_at DESC, id
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, apperr.Transient("query recent alerts", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Transient("scan recent alert", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) InsertAnomaly(ctx context.Context, a contracts.Anomaly) error {
	metadata, err := json.Marshal(a.Metadata())
	if err != nil {
		return fmt.Errorf("marshal anomaly metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
        INSERT INTO anomalies (id, type, severity, detected_at, metadata)
        VALUES ($1, $2, $3, $4, $5::jsonb)
        ON CONFLICT (id) DO NOTHING
    `, a.ID, string(a.Type), string(a.Severity), a.Timestamp, string(metadata))
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

func (r *Repository) GetSubscription(ctx context.Context, userID string) (contracts.Subscription, error) {
	sub := contracts.Subscription{UserID: userID}
	var tier string
	err := r.pool.QueryRow(ctx, `
        SELECT tier, analyses_per_month, max_time_window_days
        FROM subscriptions
        WHERE user_id = $1
    `, userID).Scan(&tier, &sub.UsageLimits.AnalysesPerMonth, &sub.UsageLimits.MaxTimeWindowDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.Subscription{}, apperr.NotFound("subscription", userID)
	}
	if err != nil {
		return contracts.Subscription{}, apperr.Transient("query subscription", err)
	}
	sub.Tier = contracts.Tier(tier)
	return sub, nil
}

func (r *Repository) UpsertSubscription(ctx context.Context, sub contracts.Subscription) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO subscriptions (user_id, tier, analyses_per_month, max_time_window_days)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id) DO UPDATE
        SET tier = EXCLUDED.tier,
            analyses_per_month = EXCLUDED.analyses_per_month,
            max_time_window_days = EXCLUDED.max_time_window_days,
            updated_at = NOW()
    `, sub.UserID, string(sub.Tier), sub.UsageLimits.AnalysesPerMonth, sub.UsageLimits.MaxTimeWindowDays)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (r *Repository) InsertUsage(ctx context.Context, rec contracts.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal usage metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
        INSERT INTO usage_records (id, user_id, alert_id, analysis_type, time_window, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
    `, rec.ID, rec.UserID, rec.AlertID, string(rec.AnalysisType), rec.TimeWindow, string(metadata), rec.CreatedAt)
	if err != nil {
		return apperr.Transient("insert usage record", err)
	}
	return nil
}

func (r *Repository) CountUsageSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM usage_records
        WHERE user_id = $1 AND created_at >= $2
    `, userID, since).Scan(&n)
	if err != nil {
		return 0, apperr.Transient("count usage records", err)
	}
	return n, nil
}

func (r *Repository) CreateWebhook(ctx context.Context, w contracts.WebhookSubscription) (contracts.WebhookSubscription, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	filters, err := json.Marshal(w.Filters)
	if err != nil {
		return contracts.WebhookSubscription{}, fmt.Errorf("marshal webhook filters: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
        INSERT INTO webhook_subscriptions (id, user_id, webhook_url, alert_ids, filters, time_window, is_active)
        VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
        RETURNING created_at
    `, w.ID, w.UserID, w.WebhookURL, w.AlertIDs, string(filters), w.TimeWindow, w.IsActive).Scan(&w.CreatedAt)
	if err != nil {
		return contracts.WebhookSubscription{}, apperr.Transient("insert webhook subscription", err)
	}
	return w, nil
}

func (r *Repository) ListWebhooks(ctx context.Context, userID string) ([]contracts.WebhookSubscription, error) {
	return r.queryWebhooks(ctx, `
        SELECT id, user_id, webhook_url, alert_ids, filters, time_window, is_active, created_at
        FROM webhook_subscriptions
        WHERE user_id = $1
        ORDER BY created_at DESC
    `, userID)
}

func (r *Repository) ListActiveWebhooks(ctx context.Context) ([]contracts.WebhookSubscription, error) {
	return r.queryWebhooks(ctx, `
        SELECT id, user_id, webhook_url, alert_ids, filters, time_window, is_active, created_at
        FROM webhook_subscriptions
        WHERE is_active
        ORDER BY created_at
    `)
}

func (r *Repository) DeleteWebhook(ctx context.Context, userID, id string) error {
	cmd, err := r.pool.Exec(ctx, `
        DELETE FROM webhook_subscriptions
        WHERE id = $1 AND user_id = $2
    `, id, userID)
	if err != nil {
		return apperr.Transient("delete webhook subscription", err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound("webhook", id)
	}
	return nil
}

func (r *Repository) queryWebhooks(ctx context.Context, sql string, args ...any) ([]contracts.WebhookSubscription, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Transient("query webhook subscriptions", err)
	}
	defer rows.Close()

	out := []contracts.WebhookSubscription{}
	for rows.Next() {
		var w contracts.WebhookSubscription
		var filtersRaw []byte
		if err := rows.Scan(&w.ID, &w.UserID, &w.WebhookURL, &w.AlertIDs, &filtersRaw, &w.TimeWindow, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, apperr.Transient("scan webhook subscription", err)
		}
		_ = json.Unmarshal(filtersRaw, &w.Filters)
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanAnomaly(row pgx.Row) (contracts.Anomaly, error) {
	var (
		id, typ, severity string
		ts                time.Time
		metadataRaw       []byte
	)
	if err := row.Scan(&id, &typ, &severity, &ts, &metadataRaw); err != nil {
		return contracts.Anomaly{}, err
	}

	metadata := map[string]any{}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &metadata); err != nil {
			return contracts.Anomaly{}, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	return contracts.DecodeAnomaly(id, typ, severity, ts, metadata)
}
