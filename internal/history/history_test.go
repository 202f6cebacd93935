package history

import (
	"math"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Ring buffer bounding
// ---------------------------------------------------------------------------

func TestAppendBoundsToCapacity(t *testing.T) {
	s := NewStore(100)
	now := time.Now()

	for i := 0; i < 150; i++ {
		s.Append("open_ports", float64(i), now.Add(time.Duration(i)*time.Second))
	}

	if got := s.Len("open_ports"); got != 100 {
		t.Fatalf("Len = %d, want 100", got)
	}

	values := s.Values("open_ports")
	if len(values) != 100 {
		t.Fatalf("Values len = %d, want 100", len(values))
	}
	// Most recent 100 retained, oldest-first.
	for i, v := range values {
		if want := float64(50 + i); v != want {
			t.Fatalf("values[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestAppendBelowCapacityKeepsAll(t *testing.T) {
	s := NewStore(100)
	now := time.Now()
	for i := 0; i < 7; i++ {
		s.Append("failed_logins", float64(i*10), now)
	}
	values := s.Values("failed_logins")
	if len(values) != 7 {
		t.Fatalf("len = %d, want 7", len(values))
	}
	if values[0] != 0 || values[6] != 60 {
		t.Errorf("order not preserved: %v", values)
	}
}

func TestDefaultCapacity(t *testing.T) {
	s := NewStore(0)
	if s.Capacity() != DefaultCapacity {
		t.Fatalf("capacity = %d, want %d", s.Capacity(), DefaultCapacity)
	}
}

func TestUnknownMetric(t *testing.T) {
	s := NewStore(10)
	if s.Samples("nope") != nil {
		t.Error("expected nil samples for unknown metric")
	}
	if s.Len("nope") != 0 {
		t.Error("expected zero length for unknown metric")
	}
}

func TestConcurrentAppendDistinctMetrics(t *testing.T) {
	s := NewStore(100)
	var wg sync.WaitGroup
	metrics := []string{"a_metric", "b_metric", "c_metric", "d_metric"}

	for _, m := range metrics {
		wg.Add(1)
		go func(metric string) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Append(metric, float64(i), time.Now())
			}
		}(m)
	}
	wg.Wait()

	for _, m := range metrics {
		if got := s.Len(m); got != 100 {
			t.Errorf("%s: len = %d, want 100", m, got)
		}
	}
	if s.TotalAppended() != 2000 {
		t.Errorf("TotalAppended = %d, want 2000", s.TotalAppended())
	}
}

// ---------------------------------------------------------------------------
// Trend statistics
// ---------------------------------------------------------------------------

func TestTrendsNoData(t *testing.T) {
	s := NewStore(100)
	report := s.Trends("open_ports", time.Hour)
	if report.Direction != TrendNoData {
		t.Fatalf("direction = %s, want %s", report.Direction, TrendNoData)
	}
	if report.Samples != 0 {
		t.Errorf("samples = %d, want 0", report.Samples)
	}
}

func TestTrendsExcludesSamplesOutsideWindow(t *testing.T) {
	s := NewStore(100)
	now := time.Now()
	s.Append("open_ports", 999, now.Add(-2*time.Hour))
	s.Append("open_ports", 10, now.Add(-time.Minute))
	s.Append("open_ports", 20, now)

	report := s.Trends("open_ports", time.Hour)
	if report.Samples != 2 {
		t.Fatalf("samples = %d, want 2", report.Samples)
	}
	if report.Max != 20 || report.Min != 10 {
		t.Errorf("min/max = %v/%v, want 10/20", report.Min, report.Max)
	}
	if report.Current != 20 {
		t.Errorf("current = %v, want 20", report.Current)
	}
}

func TestTrendsStatistics(t *testing.T) {
	s := NewStore(100)
	now := time.Now()
	for i, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Append("failed_logins", v, now.Add(time.Duration(i)*time.Second))
	}

	report := s.Trends("failed_logins", time.Hour)
	if report.Mean != 5 {
		t.Errorf("mean = %v, want 5", report.Mean)
	}
	if report.StdDev != 2 {
		t.Errorf("stddev = %v, want 2", report.StdDev)
	}
	if report.Median != 4.5 {
		t.Errorf("median = %v, want 4.5", report.Median)
	}
}

func TestTrendDirections(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   TrendDirection
	}{
		{"increasing", []float64{10, 10, 10, 20, 20, 20}, TrendIncreasing},
		{"decreasing", []float64{20, 20, 20, 10, 10, 10}, TrendDecreasing},
		{"stable", []float64{10, 10.1, 9.9, 10, 10.05, 9.95}, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(100)
			now := time.Now()
			for i, v := range tt.values {
				s.Append("m_test", v, now.Add(time.Duration(i)*time.Second))
			}
			report := s.Trends("m_test", time.Hour)
			if report.Direction != tt.want {
				t.Errorf("direction = %s, want %s", report.Direction, tt.want)
			}
		})
	}
}

func TestTrendsSingleSampleIsStable(t *testing.T) {
	s := NewStore(100)
	s.Append("m_one", 42, time.Now())
	report := s.Trends("m_one", time.Hour)
	if report.Direction != TrendStable {
		t.Errorf("direction = %s, want stable", report.Direction)
	}
	if report.Median != 42 || report.Mean != 42 {
		t.Errorf("median/mean = %v/%v, want 42/42", report.Median, report.Mean)
	}
	if report.StdDev != 0 {
		t.Errorf("stddev = %v, want 0", report.StdDev)
	}
	if math.Signbit(report.StdDev) {
		t.Error("stddev should not be negative zero")
	}
}
