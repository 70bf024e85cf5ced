// Package queue derives the priority-ordered manual review queue and its
// aggregate metrics from the case store. Priority and overdue state are
// recomputed on every read; stored priority_score is a snapshot from the last
// processing run.
package queue

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/saksflyt/saksflyt/internal/model"
	"github.com/saksflyt/saksflyt/internal/storage"
)

// Priority formula weights and the age saturation horizon.
const (
	confidenceWeight = 0.55
	ageWeight        = 0.25
	overdueWeight    = 0.20
	ageHorizonDays   = 14.0
)

// Config carries the operational knobs of the queue.
type Config struct {
	DailyManualCapacity   int
	HighPriorityThreshold int
	SLAWindowLowDays      int
	SLAWindowMediumDays   int
	SLAWindowHighDays     int
}

// Service reads the pending-manual set and derives ordering and metrics.
type Service struct {
	db  *storage.DB
	cfg Config
}

// New builds a queue Service.
func New(db *storage.DB, cfg Config) *Service {
	return &Service{db: db, cfg: cfg}
}

// PriorityScore computes the [0,100] urgency of a case at a given instant.
// Low confidence, queue age, and a blown SLA all push a case up the queue.
func PriorityScore(c model.Case, now time.Time) int {
	ageFactor := 0.0
	if c.QueuedAt != nil {
		days := now.Sub(*c.QueuedAt).Hours() / 24
		ageFactor = math.Min(1, days/ageHorizonDays)
	}
	overdueFactor := 0.0
	if IsOverdue(c, now) {
		overdueFactor = 1
	}
	raw := 100 * (confidenceWeight*(1-c.ConfidenceScore) + ageWeight*ageFactor + overdueWeight*overdueFactor)
	score := int(math.Round(raw))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// IsOverdue reports whether the case has blown its SLA.
func IsOverdue(c model.Case, now time.Time) bool {
	return c.SLADueAt != nil && now.After(*c.SLADueAt)
}

// SLAWindow returns the review time budget for a risk level.
func (s *Service) SLAWindow(risk model.RiskLevel) time.Duration {
	days := s.cfg.SLAWindowHighDays
	switch risk {
	case model.RiskLow:
		days = s.cfg.SLAWindowLowDays
	case model.RiskMedium:
		days = s.cfg.SLAWindowMediumDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// ListReviewQueue returns the pending-manual cases ordered by
// (is_overdue DESC, priority_score DESC, sla_due_at ASC, created_at ASC),
// with priority recomputed as of now.
func (s *Service) ListReviewQueue(ctx context.Context, limit, offset int) ([]model.ReviewQueueItem, int, error) {
	cases, err := s.db.ListPendingManual(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("queue: list pending manual: %w", err)
	}
	now := time.Now().UTC()

	items := make([]model.ReviewQueueItem, 0, len(cases))
	for _, c := range cases {
		items = append(items, model.ReviewQueueItem{
			ID:                    c.ID,
			ApplicantFullName:     c.ApplicantFullName,
			ApplicantNationality:  c.ApplicantNationality,
			Status:                c.Status,
			ConfidenceScore:       c.ConfidenceScore,
			RiskLevel:             c.RiskLevel,
			RecommendationSummary: c.RecommendationSummary,
			PriorityScore:         PriorityScore(c, now),
			SLADueAt:              c.SLADueAt,
			IsOverdue:             IsOverdue(c, now),
			CreatedAt:             c.CreatedAt,
			UpdatedAt:             c.UpdatedAt,
		})
	}

	sortQueueItems(items)

	total := len(items)
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []model.ReviewQueueItem{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

// Metrics computes aggregate statistics over the pending-manual set.
func (s *Service) Metrics(ctx context.Context) (model.QueueMetrics, error) {
	cases, err := s.db.ListPendingManual(ctx)
	if err != nil {
		return model.QueueMetrics{}, fmt.Errorf("queue: list pending manual: %w", err)
	}
	now := time.Now().UTC()

	m := model.QueueMetrics{
		PendingManualCount:  len(cases),
		DailyManualCapacity: s.cfg.DailyManualCapacity,
	}
	var waitingDays float64
	for _, c := range cases {
		if IsOverdue(c, now) {
			m.OverdueCount++
		}
		if PriorityScore(c, now) >= s.cfg.HighPriorityThreshold {
			m.HighPriorityCount++
		}
		since := c.CreatedAt
		if c.QueuedAt != nil {
			since = *c.QueuedAt
		}
		waitingDays += now.Sub(since).Hours() / 24
	}
	if len(cases) > 0 {
		m.AvgWaitingDays = round2(waitingDays / float64(len(cases)))
	}
	if s.cfg.DailyManualCapacity > 0 {
		m.EstimatedDaysToClearBacklog = int(math.Ceil(float64(len(cases)) / float64(s.cfg.DailyManualCapacity)))
	}
	return m, nil
}

// sortQueueItems orders by (is_overdue DESC, priority_score DESC,
// sla_due_at ASC, created_at ASC).
func sortQueueItems(items []model.ReviewQueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsOverdue != b.IsOverdue {
			return a.IsOverdue
		}
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !slaEqual(a.SLADueAt, b.SLADueAt) {
			return slaBefore(a.SLADueAt, b.SLADueAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// slaBefore orders nil SLA deadlines after concrete ones.
func slaBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Before(*b)
	}
}

func slaEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
