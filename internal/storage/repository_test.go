package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

// getTestPool connects to TEST_DATABASE_URL and skips when it is unset or
// unreachable.
func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := Open(ctx, url, 4)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	require.NoError(t, RunMigrations(ctx, pool), "migrations must be re-runnable")
	return pool
}

func TestRepositoryRoundTrip(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	id := "it-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)
	in := contracts.Anomaly{
		ID:        id,
		Type:      contracts.TypeFreightSurge,
		Severity:  contracts.SeverityCritical,
		Timestamp: now,
		Entities:  contracts.Entities{Product: "palm-oil", Country: "MY"},
		Detail:    contracts.FreightSurgeDetail{Route: "PKG-RTM", IndexChangePct: 18.5},
	}
	require.NoError(t, repo.InsertAnomaly(ctx, in))

	got, err := repo.GetAnomaly(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, in.Entities, got.Entities)
	assert.Equal(t, in.Detail, got.Detail)

	window, err := repo.ListAnomaliesBetween(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	var found bool
	for _, a := range window {
		found = found || a.ID == id
	}
	assert.True(t, found)

	_, err = repo.GetAnomaly(ctx, "missing-"+id)
	assert.True(t, apperr.IsNotFound(err))

	user := "user-" + uuid.NewString()
	_, err = repo.GetSubscription(ctx, user)
	assert.True(t, apperr.IsNotFound(err))

	require.NoError(t, repo.InsertUsage(ctx, contracts.UsageRecord{UserID: user, AlertID: id, AnalysisType: contracts.AnalysisSingle, TimeWindow: 30, CreatedAt: now}))
	n, err := repo.CountUsageSince(ctx, user, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hook, err := repo.CreateWebhook(ctx, contracts.WebhookSubscription{
		UserID: user, WebhookURL: "https://example.com/hook", AlertIDs: []string{id},
		Filters: contracts.WebhookFilters{UpdateTypes: []contracts.UpdateType{contracts.UpdateRiskChange}}, TimeWindow: 30, IsActive: true,
	})
	require.NoError(t, err)
	hooks, err := repo.ListWebhooks(ctx, user)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, []string{id}, hooks[0].AlertIDs)
	assert.Equal(t, hook.Filters, hooks[0].Filters)

	require.NoError(t, repo.DeleteWebhook(ctx, user, hook.ID))
	assert.True(t, apperr.IsNotFound(repo.DeleteWebhook(ctx, user, hook.ID)))
}
