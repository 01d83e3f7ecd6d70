package labelbridge

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Flap dampening
// -------------------------------------------------------------------------
//
// An LDP neighbor adjacency can bounce (interface flap, TCP reset races,
// a congested discovery socket) well inside the time BGP needs to
// reconverge. The dampening algorithm follows the classic route flap
// dampening model (RFC 2439): each transition-to-down accumulates a
// penalty that decays exponentially. Once the penalty reaches the
// suppress threshold, further down actions are suppressed until the
// penalty decays below the reuse threshold.

// -------------------------------------------------------------------------
// Dampening Configuration
// -------------------------------------------------------------------------

// DampeningConfig configures the flap dampening parameters.
//
// The algorithm tracks a penalty counter per neighbor address. Each
// transition-to-down adds 1 to the penalty. The penalty decays
// exponentially with the configured half-life. When the penalty reaches
// SuppressThreshold, actions are suppressed. When it decays below
// ReuseThreshold, actions are allowed again.
type DampeningConfig struct {
	// Enabled controls whether flap dampening is active. When false, all
	// state changes are passed through immediately.
	Enabled bool

	// SuppressThreshold is the penalty value at or above which actions are
	// suppressed. Typical value: 3 (suppress after 3 rapid flaps).
	SuppressThreshold float64

	// ReuseThreshold is the penalty value below which suppressed actions
	// are allowed again. Must be less than SuppressThreshold. Typical
	// value: 2.
	ReuseThreshold float64

	// MaxSuppressTime is the maximum duration a neighbor can be
	// suppressed for. After this time, the neighbor is unsuppressed
	// regardless of penalty level. Typical value: 60s.
	MaxSuppressTime time.Duration

	// HalfLife is the time for the penalty to decay by half. Typical
	// value: 15s.
	HalfLife time.Duration
}

// DefaultDampeningConfig returns a sensible default dampening configuration.
func DefaultDampeningConfig() DampeningConfig {
	return DampeningConfig{
		Enabled:           false,
		SuppressThreshold: 3,
		ReuseThreshold:    2,
		MaxSuppressTime:   60 * time.Second,
		HalfLife:          15 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Dampener — per-neighbor penalty tracker
// -------------------------------------------------------------------------

// Dampener tracks flap penalties per neighbor and decides whether state
// changes should be suppressed. Safe for concurrent use.
type Dampener struct {
	cfg    DampeningConfig
	peers  map[string]*peerPenalty
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time // injectable clock for testing
}

// peerPenalty holds the dampening state for a single neighbor.
type peerPenalty struct {
	penalty         float64
	lastUpdate      time.Time
	suppressed      bool
	suppressedSince time.Time
}

// DampenerOption configures optional Dampener parameters.
type DampenerOption func(*Dampener)

// WithClock sets a custom time function for the dampener. Used in tests
// to control time progression without sleeping.
func WithClock(now func() time.Time) DampenerOption {
	return func(d *Dampener) { d.now = now }
}

// NewDampener creates a new flap dampener with the given configuration.
func NewDampener(cfg DampeningConfig, logger *slog.Logger, opts ...DampenerOption) *Dampener {
	d := &Dampener{
		cfg:    cfg,
		peers:  make(map[string]*peerPenalty),
		logger: logger.With(slog.String("component", "labelbridge.dampener")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ShouldSuppress returns true if the given neighbor's down action should be
// suppressed due to excessive flapping. It also records the down event by
// incrementing the penalty.
//
// If dampening is disabled, always returns false.
func (d *Dampener) ShouldSuppress(peerAddr string) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	pp := d.getOrCreatePeer(peerAddr, now)
	d.decayPenalty(pp, now)

	pp.penalty += 1.0
	pp.lastUpdate = now

	if pp.suppressed && now.Sub(pp.suppressedSince) >= d.cfg.MaxSuppressTime {
		d.unsuppress(pp, peerAddr)
		return false
	}

	if !pp.suppressed && pp.penalty >= d.cfg.SuppressThreshold {
		pp.suppressed = true
		pp.suppressedSince = now
		d.logger.Warn("neighbor suppressed due to flap dampening",
			slog.String("peer", peerAddr),
			slog.Float64("penalty", pp.penalty),
			slog.Float64("threshold", d.cfg.SuppressThreshold),
		)
	}

	return pp.suppressed
}

// ShouldSuppressUp returns true if an up action for the given neighbor
// should be suppressed. Up actions are suppressed while the neighbor is
// in suppressed state, to avoid signaling partial recovery.
//
// If dampening is disabled, always returns false.
func (d *Dampener) ShouldSuppressUp(peerAddr string) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	pp, exists := d.peers[peerAddr]
	if !exists {
		return false
	}

	d.decayPenalty(pp, now)

	if pp.suppressed && now.Sub(pp.suppressedSince) >= d.cfg.MaxSuppressTime {
		d.unsuppress(pp, peerAddr)
		return false
	}

	if pp.suppressed && pp.penalty < d.cfg.ReuseThreshold {
		d.unsuppress(pp, peerAddr)
		return false
	}

	return pp.suppressed
}

// Reset removes the penalty tracking for a neighbor. Used when a neighbor
// is explicitly removed from configuration.
func (d *Dampener) Reset(peerAddr string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.peers, peerAddr)
}

// -------------------------------------------------------------------------
// Internal helpers
// -------------------------------------------------------------------------

// getOrCreatePeer returns the penalty state for a neighbor, creating it if
// needed. Caller must hold d.mu.
func (d *Dampener) getOrCreatePeer(peerAddr string, now time.Time) *peerPenalty {
	pp, exists := d.peers[peerAddr]
	if !exists {
		pp = &peerPenalty{lastUpdate: now}
		d.peers[peerAddr] = pp
	}
	return pp
}

// decayPenalty applies exponential decay to the penalty based on elapsed
// time. Caller must hold d.mu.
//
// Decay formula: penalty = penalty * 2^(-elapsed/halfLife), so the
// penalty halves every halfLife duration.
func (d *Dampener) decayPenalty(pp *peerPenalty, now time.Time) {
	if d.cfg.HalfLife <= 0 || pp.penalty == 0 {
		return
	}

	elapsed := now.Sub(pp.lastUpdate)
	if elapsed <= 0 {
		return
	}

	halfLives := float64(elapsed) / float64(d.cfg.HalfLife)
	decayFactor := math.Pow(0.5, halfLives)
	pp.penalty *= decayFactor
	pp.lastUpdate = now

	if pp.penalty < 0.001 {
		pp.penalty = 0
	}
}

// unsuppress clears the suppression state for a neighbor. Caller must
// hold d.mu.
func (d *Dampener) unsuppress(pp *peerPenalty, peerAddr string) {
	pp.suppressed = false
	pp.suppressedSince = time.Time{}
	pp.penalty = 0

	d.logger.Info("neighbor unsuppressed, flap dampening cleared",
		slog.String("peer", peerAddr),
	)
}
