package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	d := timer.Duration()
	if d < 50*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 50ms", d)
	}
}

// TestTimerObserveDurationVec exercises Timer against DispatchLatency the
// way pkg/dispatch times an intermediate-phase submission: start a timer,
// do the work, observe it against the real histogram vec under its real
// "intermediate" label.
func TestTimerObserveDurationVec(t *testing.T) {
	hist := DispatchLatency.WithLabelValues("intermediate").(prometheus.Histogram)
	var before dto.Metric
	_ = hist.Write(&before)
	beforeCount := before.GetHistogram().GetSampleCount()

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(DispatchLatency, "intermediate")

	var after dto.Metric
	_ = hist.Write(&after)
	if after.GetHistogram().GetSampleCount() != beforeCount+1 {
		t.Errorf("expected DispatchLatency sample count to increase by 1, got %d -> %d",
			beforeCount, after.GetHistogram().GetSampleCount())
	}
}

// TestTimerObserveDuration exercises Timer against AdmissionWaitDuration
// the way pkg/admission times a queue wait for the "query.small" queue.
func TestTimerObserveDuration(t *testing.T) {
	hist := AdmissionWaitDuration.WithLabelValues("query.small").(prometheus.Histogram)
	var before dto.Metric
	_ = hist.Write(&before)
	beforeCount := before.GetHistogram().GetSampleCount()

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(hist)

	var after dto.Metric
	_ = hist.Write(&after)
	if after.GetHistogram().GetSampleCount() != beforeCount+1 {
		t.Errorf("expected AdmissionWaitDuration sample count to increase by 1, got %d -> %d",
			beforeCount, after.GetHistogram().GetSampleCount())
	}
}

func TestMultipleTimers(t *testing.T) {
	timer1 := NewTimer()
	time.Sleep(30 * time.Millisecond)
	timer2 := NewTimer()
	time.Sleep(30 * time.Millisecond)

	d1, d2 := timer1.Duration(), timer2.Duration()
	if d1 <= d2 {
		t.Errorf("timer1 should be running longer: timer1=%v, timer2=%v", d1, d2)
	}
}
