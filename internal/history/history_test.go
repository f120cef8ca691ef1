package history

import (
	"errors"
	"math"
	"testing"
)

func appendGen(t *testing.T, l *Log, gen int, values ...float64) {
	t.Helper()
	recs := make([]Record, len(values))
	for i, v := range values {
		recs[i] = Record{
			Generation: gen,
			ChainID:    i,
			Params:     []float64{v},
			LogP:       -v * v,
			Accepted:   true,
		}
	}
	if err := l.Append(recs); err != nil {
		t.Fatalf("Failed to append generation %d: %v", gen, err)
	}
}

// TestLog tests append-only bookkeeping.
func TestLog(t *testing.T) {
	t.Run("new log is empty", func(t *testing.T) {
		l, err := NewLog(3, 1, 0)
		if err != nil {
			t.Fatalf("Failed to create log: %v", err)
		}
		if l.Completed() != 0 {
			t.Errorf("Expected 0 completed generations, got %d", l.Completed())
		}
	})

	t.Run("append advances generations", func(t *testing.T) {
		l, _ := NewLog(2, 1, 0)
		appendGen(t, l, 0, 1.0, 2.0)
		appendGen(t, l, 1, 3.0, 4.0)
		if l.Completed() != 2 {
			t.Errorf("Expected 2 completed generations, got %d", l.Completed())
		}
		stats := l.Stats()
		if stats.Records != 4 || stats.Chains != 2 {
			t.Errorf("Unexpected stats: %+v", stats)
		}
	})

	t.Run("rejects short generation", func(t *testing.T) {
		l, _ := NewLog(3, 1, 0)
		err := l.Append([]Record{{Generation: 0, ChainID: 0, Params: []float64{1}}})
		if err == nil {
			t.Error("Expected error for incomplete generation")
		}
	})

	t.Run("rejects wrong generation stamp", func(t *testing.T) {
		l, _ := NewLog(1, 1, 0)
		err := l.Append([]Record{{Generation: 5, ChainID: 0, Params: []float64{1}}})
		if err == nil {
			t.Error("Expected error for mis-stamped generation")
		}
	})

	t.Run("rejects out of order chains", func(t *testing.T) {
		l, _ := NewLog(2, 1, 0)
		err := l.Append([]Record{
			{Generation: 0, ChainID: 1, Params: []float64{1}},
			{Generation: 0, ChainID: 0, Params: []float64{2}},
		})
		if err == nil {
			t.Error("Expected error for out-of-order chain records")
		}
	})

	t.Run("records are copied", func(t *testing.T) {
		l, _ := NewLog(1, 1, 0)
		params := []float64{1.0}
		if err := l.Append([]Record{{Generation: 0, ChainID: 0, Params: params}}); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		params[0] = 99.0
		recs := l.Records()
		if recs[0].Params[0] != 1.0 {
			t.Errorf("Log aliased caller params: got %v", recs[0].Params[0])
		}
	})

	t.Run("origin is carried", func(t *testing.T) {
		l, _ := NewLog(2, 1, 1200)
		if l.Origin() != 1200 {
			t.Errorf("Expected origin 1200, got %d", l.Origin())
		}
	})
}

// TestEstimate tests burn-in filtering and moment computation.
func TestEstimate(t *testing.T) {
	t.Run("full history length is G times C", func(t *testing.T) {
		l, _ := NewLog(3, 1, 0)
		for g := 0; g < 5; g++ {
			appendGen(t, l, g, 1.0, 2.0, 3.0)
		}
		_, _, flat, err := l.Estimate(0)
		if err != nil {
			t.Fatalf("Estimate failed: %v", err)
		}
		if len(flat) != 5*3 {
			t.Errorf("Expected 15 rows, got %d", len(flat))
		}
	})

	t.Run("burn-in trims leading generations", func(t *testing.T) {
		l, _ := NewLog(2, 1, 0)
		appendGen(t, l, 0, 100.0, 100.0)
		appendGen(t, l, 1, 1.0, 3.0)
		appendGen(t, l, 2, 1.0, 3.0)
		mean, stddev, flat, err := l.Estimate(1)
		if err != nil {
			t.Fatalf("Estimate failed: %v", err)
		}
		if len(flat) != (3-1)*2 {
			t.Errorf("Expected 4 rows after burn-in, got %d", len(flat))
		}
		if math.Abs(mean[0]-2.0) > 1e-12 {
			t.Errorf("Expected mean 2.0, got %v", mean[0])
		}
		if stddev[0] <= 0 {
			t.Errorf("Expected positive stddev, got %v", stddev[0])
		}
	})

	t.Run("burn-in at completed count fails", func(t *testing.T) {
		l, _ := NewLog(2, 1, 0)
		appendGen(t, l, 0, 1.0, 2.0)
		_, _, _, err := l.Estimate(1)
		if !errors.Is(err, ErrBurnIn) {
			t.Errorf("Expected ErrBurnIn, got %v", err)
		}
	})

	t.Run("empty log fails", func(t *testing.T) {
		l, _ := NewLog(2, 1, 0)
		_, _, _, err := l.Estimate(0)
		if !errors.Is(err, ErrBurnIn) {
			t.Errorf("Expected ErrBurnIn, got %v", err)
		}
	})

	t.Run("negative burn-in fails", func(t *testing.T) {
		l, _ := NewLog(2, 1, 0)
		appendGen(t, l, 0, 1.0, 2.0)
		if _, _, _, err := l.Estimate(-1); err == nil {
			t.Error("Expected error for negative burn-in")
		}
	})
}
