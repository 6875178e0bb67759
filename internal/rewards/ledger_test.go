// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package rewards

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// fakeAdder accumulates increments like the store's atomic primitive.
type fakeAdder struct {
	mu     sync.Mutex
	points map[string]int64
}

func newFakeAdder() *fakeAdder {
	return &fakeAdder{points: make(map[string]int64)}
}

func (f *fakeAdder) AddPoints(_ context.Context, userID string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[userID] += delta
	return nil
}

func TestAward_CommutesAcrossOrderings(t *testing.T) {
	orderings := [][]int64{
		{PointsReview, PointsTip, PointsSubmission},
		{PointsSubmission, PointsReview, PointsTip},
		{PointsTip, PointsSubmission, PointsReview},
	}
	reasons := map[int64]string{
		PointsReview:     ReasonReview,
		PointsTip:        ReasonTip,
		PointsSubmission: ReasonSubmission,
	}

	for i, amounts := range orderings {
		adder := newFakeAdder()
		ledger := NewLedger(adder, zerolog.Nop())
		for _, amount := range amounts {
			if err := ledger.Award(context.Background(), "u1", amount, reasons[amount]); err != nil {
				t.Fatalf("ordering %d: award: %v", i, err)
			}
		}
		if got := adder.points["u1"]; got != 140 {
			t.Errorf("ordering %d: points = %d, want 140", i, got)
		}
	}
}

func TestAward_RejectsInvalidInput(t *testing.T) {
	ledger := NewLedger(newFakeAdder(), zerolog.Nop())

	if err := ledger.Award(context.Background(), "", PointsReview, ReasonReview); err == nil {
		t.Error("expected error for empty user id")
	}
	if err := ledger.Award(context.Background(), "u1", 0, ReasonReview); err == nil {
		t.Error("expected error for zero amount")
	}
	if err := ledger.Award(context.Background(), "u1", -5, ReasonReview); err == nil {
		t.Error("expected error for negative amount")
	}
}
