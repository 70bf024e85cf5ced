package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/saksflyt/saksflyt/internal/model"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestPriorityScoreBounds(t *testing.T) {
	now := time.Now().UTC()

	// Fresh high-confidence case: nothing pushes it up.
	c := model.Case{ConfidenceScore: 1.0, QueuedAt: ptrTime(now)}
	assert.Equal(t, 0, PriorityScore(c, now))

	// Zero confidence, saturated age, overdue: every component maxed.
	c = model.Case{
		ConfidenceScore: 0,
		QueuedAt:        ptrTime(now.Add(-30 * 24 * time.Hour)),
		SLADueAt:        ptrTime(now.Add(-time.Hour)),
	}
	assert.Equal(t, 100, PriorityScore(c, now))
}

func TestPriorityScoreComponents(t *testing.T) {
	now := time.Now().UTC()

	// Only confidence contributes: 0.55 * (1 - 0.2) = 0.44 -> 44.
	c := model.Case{ConfidenceScore: 0.2, QueuedAt: ptrTime(now)}
	assert.Equal(t, 44, PriorityScore(c, now))

	// Half-saturated age adds 0.25 * 0.5 = 0.125 -> 12.5 more.
	c.QueuedAt = ptrTime(now.Add(-7 * 24 * time.Hour))
	assert.Equal(t, 57, PriorityScore(c, now)) // round(44 + 12.5)

	// Blown SLA adds the full overdue component.
	c.SLADueAt = ptrTime(now.Add(-time.Minute))
	assert.Equal(t, 77, PriorityScore(c, now)) // round(56.5 + 20)
}

func TestPriorityScoreNoQueuedAt(t *testing.T) {
	now := time.Now().UTC()
	c := model.Case{ConfidenceScore: 0.5}
	// Age factor is zero without a queued_at timestamp.
	assert.Equal(t, 28, PriorityScore(c, now)) // round(55 * 0.5)
}

func TestIsOverdue(t *testing.T) {
	now := time.Now().UTC()
	assert.False(t, IsOverdue(model.Case{}, now))
	assert.False(t, IsOverdue(model.Case{SLADueAt: ptrTime(now.Add(time.Hour))}, now))
	assert.True(t, IsOverdue(model.Case{SLADueAt: ptrTime(now.Add(-time.Hour))}, now))
}

func TestSLAWindowByRisk(t *testing.T) {
	s := New(nil, Config{SLAWindowLowDays: 21, SLAWindowMediumDays: 14, SLAWindowHighDays: 7})

	assert.Equal(t, 21*24*time.Hour, s.SLAWindow(model.RiskLow))
	assert.Equal(t, 14*24*time.Hour, s.SLAWindow(model.RiskMedium))
	assert.Equal(t, 7*24*time.Hour, s.SLAWindow(model.RiskHigh))
}

func TestQueueOrdering(t *testing.T) {
	now := time.Now().UTC()

	overdue := model.Case{ConfidenceScore: 0.9, SLADueAt: ptrTime(now.Add(-time.Hour)), CreatedAt: now}
	urgent := model.Case{ConfidenceScore: 0.0, QueuedAt: ptrTime(now), SLADueAt: ptrTime(now.Add(time.Hour)), CreatedAt: now}
	relaxed := model.Case{ConfidenceScore: 0.9, QueuedAt: ptrTime(now), SLADueAt: ptrTime(now.Add(48 * time.Hour)), CreatedAt: now}

	// Overdue beats higher raw priority; priority breaks ties among on-time cases.
	items := orderForTest([]model.Case{relaxed, urgent, overdue}, now)
	assert.True(t, items[0].IsOverdue)
	assert.Equal(t, urgent.ConfidenceScore, items[1].ConfidenceScore)
	assert.Equal(t, relaxed.ConfidenceScore, items[2].ConfidenceScore)
}

// orderForTest mirrors ListReviewQueue's in-memory ordering without storage.
func orderForTest(cases []model.Case, now time.Time) []model.ReviewQueueItem {
	items := make([]model.ReviewQueueItem, 0, len(cases))
	for _, c := range cases {
		items = append(items, model.ReviewQueueItem{
			ConfidenceScore: c.ConfidenceScore,
			PriorityScore:   PriorityScore(c, now),
			SLADueAt:        c.SLADueAt,
			IsOverdue:       IsOverdue(c, now),
			CreatedAt:       c.CreatedAt,
		})
	}
	sortQueueItems(items)
	return items
}
