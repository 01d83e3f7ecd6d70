package labelbridge_test

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soumyar-roy/ldpd-go/internal/labelbridge"
)

func TestDampenerShouldSuppressBasic(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cfg := labelbridge.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 3,
		ReuseThreshold:    2,
		MaxSuppressTime:   60 * time.Second,
		HalfLife:          15 * time.Second,
	}

	d := labelbridge.NewDampener(cfg, slog.New(slog.DiscardHandler),
		labelbridge.WithClock(func() time.Time { return fixedTime }),
	)

	if d.ShouldSuppress("10.0.0.1") {
		t.Error("should not suppress on first flap")
	}
	if d.ShouldSuppress("10.0.0.1") {
		t.Error("should not suppress on second flap")
	}
	if !d.ShouldSuppress("10.0.0.1") {
		t.Error("should suppress on third flap (threshold=3)")
	}
	if !d.ShouldSuppress("10.0.0.1") {
		t.Error("should remain suppressed")
	}
}

func TestDampenerDecayOverTime(t *testing.T) {
	t.Parallel()

	var now atomic.Int64
	baseTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now.Store(baseTime.UnixNano())

	cfg := labelbridge.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 3,
		ReuseThreshold:    1,
		MaxSuppressTime:   60 * time.Second,
		HalfLife:          15 * time.Second,
	}

	d := labelbridge.NewDampener(cfg, slog.New(slog.DiscardHandler),
		labelbridge.WithClock(func() time.Time { return time.Unix(0, now.Load()) }),
	)

	d.ShouldSuppress("10.0.0.1")
	d.ShouldSuppress("10.0.0.1")

	if !d.ShouldSuppress("10.0.0.1") {
		t.Fatal("should be suppressed at penalty=3")
	}

	now.Store(baseTime.Add(45 * time.Second).UnixNano())

	if d.ShouldSuppressUp("10.0.0.1") {
		t.Error("should be unsuppressed after 3 half-lives (penalty decayed below reuse)")
	}
}

func TestDampenerDifferentPeersIndependent(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cfg := labelbridge.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 2,
		ReuseThreshold:    1,
		MaxSuppressTime:   60 * time.Second,
		HalfLife:          15 * time.Second,
	}

	d := labelbridge.NewDampener(cfg, slog.New(slog.DiscardHandler),
		labelbridge.WithClock(func() time.Time { return fixedTime }),
	)

	d.ShouldSuppress("10.0.0.1")
	d.ShouldSuppress("10.0.0.1")

	if d.ShouldSuppress("10.0.0.2") {
		t.Error("peer2 should not be suppressed by peer1 flaps")
	}
}

func TestDampenerReset(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cfg := labelbridge.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 2,
		ReuseThreshold:    1,
		MaxSuppressTime:   60 * time.Second,
		HalfLife:          15 * time.Second,
	}

	d := labelbridge.NewDampener(cfg, slog.New(slog.DiscardHandler),
		labelbridge.WithClock(func() time.Time { return fixedTime }),
	)

	d.ShouldSuppress("10.0.0.1")
	d.ShouldSuppress("10.0.0.1")

	if !d.ShouldSuppress("10.0.0.1") {
		t.Error("should be suppressed before reset")
	}

	d.Reset("10.0.0.1")

	if d.ShouldSuppress("10.0.0.1") {
		t.Error("should not be suppressed after reset")
	}
}

func TestDampenerDisabled(t *testing.T) {
	t.Parallel()

	d := labelbridge.NewDampener(labelbridge.DampeningConfig{Enabled: false}, slog.New(slog.DiscardHandler))

	for range 100 {
		if d.ShouldSuppress("10.0.0.1") {
			t.Fatal("should never suppress when disabled")
		}
	}
}

func TestDampenerMaxSuppressTime(t *testing.T) {
	t.Parallel()

	var now atomic.Int64
	baseTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now.Store(baseTime.UnixNano())

	cfg := labelbridge.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 2,
		ReuseThreshold:    1,
		MaxSuppressTime:   30 * time.Second,
		HalfLife:          60 * time.Second,
	}

	d := labelbridge.NewDampener(cfg, slog.New(slog.DiscardHandler),
		labelbridge.WithClock(func() time.Time { return time.Unix(0, now.Load()) }),
	)

	d.ShouldSuppress("10.0.0.1")

	if !d.ShouldSuppress("10.0.0.1") {
		t.Fatal("should be suppressed at penalty >= 2")
	}

	now.Store(baseTime.Add(31 * time.Second).UnixNano())

	if d.ShouldSuppress("10.0.0.1") {
		t.Error("should be unsuppressed after MaxSuppressTime exceeded")
	}
}
