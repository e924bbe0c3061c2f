package intel

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/tier"
)

type BatchItem struct {
	AlertID  string         `json:"alert_id"`
	Analysis AnalysisResult `json:"analysis"`
}

type BatchError struct {
	AlertID string `json:"alert_id"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

type BatchResult struct {
	Results         []BatchItem    `json:"results"`
	Errors          []BatchError   `json:"errors"`
	Total           int            `json:"total"`
	Tier            contracts.Tier `json:"tier"`
	TimeWindowDays  int            `json:"time_window_days"`
	WindowClamped   bool           `json:"window_clamped,omitempty"`
	RequestedWindow int            `json:"requested_time_window,omitempty"`
}

type batchOutcome struct {
	snap contracts.IntelligenceSnapshot
	err  error
}

// AnalyzeBatch analyzes up to BatchLimits.MaxSize alerts. Chunks run one
// after another; items inside a chunk run concurrently and settle
// independently, so one failed alert never aborts its siblings. The quota is
// checked once before any work.
func (s *Service) AnalyzeBatch(ctx context.Context, userID string, alertIDs []string, windowDays int) (BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "intel.AnalyzeBatch", trace.WithAttributes(attribute.Int("batch_size", len(alertIDs))))
	defer span.End()

	res, err := s.analyzeBatch(ctx, userID, alertIDs, windowDays)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Service) analyzeBatch(ctx context.Context, userID string, alertIDs []string, windowDays int) (BatchResult, error) {
	if err := requireCaller(userID); err != nil {
		return BatchResult{}, err
	}
	ids, err := s.validateBatch(alertIDs)
	if err != nil {
		return BatchResult{}, err
	}
	if windowDays < 0 {
		return BatchResult{}, apperr.Invalid("time_window", "must not be negative")
	}

	sub, err := s.gate.Resolve(ctx, userID)
	if err != nil {
		return BatchResult{}, err
	}
	if err := tier.Require(sub, tier.FeatureBatch); err != nil {
		return BatchResult{}, err
	}
	d, err := s.admit(ctx, userID, windowDays)
	if err != nil {
		return BatchResult{}, err
	}

	outcomes := make([]batchOutcome, len(ids))
	for start := 0; start < len(ids); start += s.batch.ChunkSize {
		end := min(start+s.batch.ChunkSize, len(ids))

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				snap, err := s.run(ctx, d.Subscription, ids[i], d.EffectiveWindow, contracts.AnalysisBatch)
				outcomes[i] = batchOutcome{snap: snap, err: err}
				return nil
			})
		}
		_ = g.Wait()
	}

	out := BatchResult{
		Results:        []BatchItem{},
		Errors:         []BatchError{},
		Total:          len(ids),
		Tier:           d.Subscription.Tier,
		TimeWindowDays: d.EffectiveWindow,
		WindowClamped:  d.Clamped,
	}
	if d.Clamped {
		out.RequestedWindow = d.RequestedWindow
	}
	for i, o := range outcomes {
		if o.err != nil {
			out.Errors = append(out.Errors, BatchError{AlertID: ids[i], Code: outcomeOf(o.err), Error: o.err.Error()})
			continue
		}
		s.record(ctx, d, ids[i], contracts.AnalysisBatch)
		out.Results = append(out.Results, BatchItem{AlertID: ids[i], Analysis: shape(o.snap, d)})
	}

	s.logger.Info("batch analysis finished",
		zap.String("user_id", userID),
		zap.Int("total", out.Total),
		zap.Int("failed", len(out.Errors)))
	return out, nil
}

// validateBatch rejects malformed input and drops repeated ids, keeping the
// first occurrence.
func (s *Service) validateBatch(alertIDs []string) ([]string, error) {
	if len(alertIDs) == 0 {
		return nil, apperr.Invalid("alert_ids", "at least one alert id is required")
	}
	if len(alertIDs) > s.batch.MaxSize {
		return nil, apperr.Invalid("alert_ids", fmt.Sprintf("at most %d alert ids per batch, got %d", s.batch.MaxSize, len(alertIDs)))
	}
	ids := make([]string, 0, len(alertIDs))
	seen := make(map[string]struct{}, len(alertIDs))
	for i, id := range alertIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, apperr.Invalid(fmt.Sprintf("alert_ids[%d]", i), "must not be empty")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
