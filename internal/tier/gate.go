// Package tier enforces subscription-tier time windows, monthly quotas and
// feature gates. Every check is evaluated per request.
package tier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, userID string) (contracts.Subscription, error)
}

type UsageStore interface {
	InsertUsage(ctx context.Context, rec contracts.UsageRecord) error
	CountUsageSince(ctx context.Context, userID string, since time.Time) (int, error)
}

type Feature string

const (
	FeatureBatch       Feature = "batch_analysis"
	FeatureWebhooks    Feature = "webhooks"
	FeaturePredictions Feature = "ml_predictions"
)

var requiredTier = map[Feature]contracts.Tier{
	FeatureBatch:       contracts.TierProfessional,
	FeatureWebhooks:    contracts.TierEnterprise,
	FeaturePredictions: contracts.TierEnterprise,
}

// Catalog maps each tier to its default limits.
type Catalog map[contracts.Tier]contracts.UsageLimits

func DefaultCatalog() Catalog {
	return Catalog{
		contracts.TierFree:         {AnalysesPerMonth: 10, MaxTimeWindowDays: 30},
		contracts.TierProfessional: {AnalysesPerMonth: 100, MaxTimeWindowDays: 90},
		contracts.TierEnterprise:   {AnalysesPerMonth: 0, MaxTimeWindowDays: 365},
	}
}

// Validate checks that window ceilings never shrink as tiers go up.
func (c Catalog) Validate() error {
	order := []contracts.Tier{contracts.TierFree, contracts.TierProfessional, contracts.TierEnterprise}
	prev := 0
	for _, t := range order {
		limits, ok := c[t]
		if !ok {
			return fmt.Errorf("tier %s missing from catalog", t)
		}
		if limits.MaxTimeWindowDays <= 0 {
			return fmt.Errorf("tier %s: max time window must be positive", t)
		}
		if limits.MaxTimeWindowDays < prev {
			return fmt.Errorf("tier %s: max time window %d is below the lower tier's %d", t, limits.MaxTimeWindowDays, prev)
		}
		prev = limits.MaxTimeWindowDays
	}
	return nil
}

type Gate struct {
	subs          SubscriptionStore
	usage         UsageStore
	catalog       Catalog
	defaultWindow int
	now           func() time.Time
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithDefaultWindow(days int) Option {
	return func(g *Gate) {
		if days > 0 {
			g.defaultWindow = days
		}
	}
}

func NewGate(subs SubscriptionStore, usage UsageStore, catalog Catalog, opts ...Option) *Gate {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	g := &Gate{
		subs:          subs,
		usage:         usage,
		catalog:       catalog,
		defaultWindow: 30,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decision is the outcome of admitting one request.
type Decision struct {
	Subscription    contracts.Subscription
	RequestedWindow int
	EffectiveWindow int
	Clamped         bool
	Used            int
}

// Resolve returns the caller's subscription, defaulting to free.
func (g *Gate) Resolve(ctx context.Context, userID string) (contracts.Subscription, error) {
	sub, err := g.subs.GetSubscription(ctx, userID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		sub = contracts.Subscription{UserID: userID, Tier: contracts.TierFree}
	case err != nil:
		if apperr.IsTransient(err) {
			return contracts.Subscription{}, err
		}
		return contracts.Subscription{}, apperr.Transient("load subscription", err)
	}
	if sub.Tier.Rank() == 0 {
		sub.Tier = contracts.TierFree
	}

	defaults := g.catalog[sub.Tier]
	if sub.UsageLimits.MaxTimeWindowDays <= 0 {
		sub.UsageLimits.MaxTimeWindowDays = defaults.MaxTimeWindowDays
	}
	if sub.UsageLimits.AnalysesPerMonth == 0 {
		sub.UsageLimits.AnalysesPerMonth = defaults.AnalysesPerMonth
	}
	sub.UserID = userID
	return sub, nil
}

// ClampWindow returns min(requested, tier ceiling). Non-positive requests use
// the default window.
func (g *Gate) ClampWindow(sub contracts.Subscription, requested int) (int, bool) {
	if requested <= 0 {
		requested = g.defaultWindow
	}
	ceiling := sub.UsageLimits.MaxTimeWindowDays
	if ceiling > 0 && requested > ceiling {
		return ceiling, true
	}
	return requested, false
}

// CheckQuota counts this calendar month's usage against the tier limit.
func (g *Gate) CheckQuota(ctx context.Context, sub contracts.Subscription) (int, error) {
	limit := sub.UsageLimits.AnalysesPerMonth
	if limit <= 0 {
		return 0, nil
	}
	used, err := g.Used(ctx, sub.UserID)
	if err != nil {
		return 0, err
	}
	if used >= limit {
		return used, &apperr.LimitError{
			Tier:    sub.Tier,
			Limit:   limit,
			Used:    used,
			Message: UpgradeMessage(sub.Tier),
		}
	}
	return used, nil
}

// Used counts the caller's analyses in the current calendar month.
func (g *Gate) Used(ctx context.Context, userID string) (int, error) {
	used, err := g.usage.CountUsageSince(ctx, userID, MonthStart(g.now()))
	if err != nil {
		if apperr.IsTransient(err) {
			return 0, err
		}
		return 0, apperr.Transient("count usage", err)
	}
	return used, nil
}

// Now is the gate's clock.
func (g *Gate) Now() time.Time { return g.now() }

// Admit resolves the tier, clamps the window and checks the quota.
func (g *Gate) Admit(ctx context.Context, userID string, requestedWindow int) (Decision, error) {
	sub, err := g.Resolve(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	effective, clamped := g.ClampWindow(sub, requestedWindow)
	d := Decision{
		Subscription:    sub,
		RequestedWindow: requestedWindow,
		EffectiveWindow: effective,
		Clamped:         clamped,
	}
	used, err := g.CheckQuota(ctx, sub)
	d.Used = used
	if err != nil {
		return d, err
	}
	return d, nil
}

// Record stores one usage record. Called only after a successful analysis.
func (g *Gate) Record(ctx context.Context, rec contracts.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = g.now().UTC()
	}
	if err := g.usage.InsertUsage(ctx, rec); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Require rejects features above the caller's tier.
func Require(sub contracts.Subscription, feature Feature) error {
	need := requiredTier[feature]
	if sub.Tier.Rank() >= need.Rank() {
		return nil
	}
	return &apperr.TierError{
		Feature:      string(feature),
		CurrentTier:  sub.Tier,
		RequiredTier: need,
		Message:      UpgradeMessage(sub.Tier),
	}
}

func UpgradeMessage(current contracts.Tier) string {
	if current == contracts.TierFree {
		return "Upgrade to Professional for more analyses, longer time windows and batch analysis."
	}
	return "Contact sales to discuss Enterprise limits and features."
}

// MonthStart is the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
