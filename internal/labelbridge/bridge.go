package labelbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// -------------------------------------------------------------------------
// Strategy — configurable LDP->BGP action policy
// -------------------------------------------------------------------------

// Strategy determines how LDP neighbor state changes affect BGP.
type Strategy string

const (
	// StrategyDisablePeer disables/enables the BGP peer sharing the
	// neighbor's address when the LDP adjacency leaves/re-enters the
	// operational state. This is the default: it causes BGP to tear the
	// session down cleanly rather than keep forwarding over a transport
	// path with no label binding.
	StrategyDisablePeer Strategy = "disable-peer"

	// StrategyWithdrawRoutes withdraws/restores routes on LDP down/up
	// without tearing down the BGP session itself.
	//
	// NOTE: withdraw-routes is reserved for future implementation.
	// Currently only disable-peer is supported.
	StrategyWithdrawRoutes Strategy = "withdraw-routes"
)

// ValidStrategies lists all recognized strategy strings.
var ValidStrategies = map[Strategy]bool{
	StrategyDisablePeer:    true,
	StrategyWithdrawRoutes: true,
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrInvalidStrategy indicates the configured strategy is not recognized.
	ErrInvalidStrategy = errors.New("invalid labelbridge strategy")

	// ErrUnsupportedStrategy indicates the strategy is recognized but not
	// yet implemented.
	ErrUnsupportedStrategy = errors.New("unsupported labelbridge strategy")
)

// -------------------------------------------------------------------------
// AddressResolver
// -------------------------------------------------------------------------

// AddressResolver maps a neighbor ID (as carried on ldp.StateChange) to the
// neighbor's IP address, since the packet-I/O core's state-change events
// are keyed by ID, not address. The concrete implementation is owned by
// whatever component manages full neighbor lifecycle.
type AddressResolver interface {
	NeighborAddr(id uint32) (netip.Addr, bool)
}

// -------------------------------------------------------------------------
// Bridge — LDP state-change consumer
// -------------------------------------------------------------------------

// Bridge consumes ldp.StateChange events from a state-change channel
// (cmd/ldpd passes neighbor.Manager.StateChanges()) and applies the configured strategy against a BGP speaker. Flap dampening
// is applied before any action is taken.
//
// Bridge runs as a single goroutine, typically started alongside the
// daemon's other long-running loops under an errgroup.
type Bridge struct {
	client   Client
	resolver AddressResolver
	strategy Strategy
	dampener *Dampener
	logger   *slog.Logger
}

// Config holds the configuration for a Bridge.
type Config struct {
	// Client is the BGP speaker client.
	Client Client

	// Resolver maps neighbor IDs to addresses.
	Resolver AddressResolver

	// Strategy determines the BGP action on LDP state changes.
	Strategy Strategy

	// Dampening configures flap dampening.
	Dampening DampeningConfig

	// Logger is the parent logger. Bridge adds its own component tag.
	Logger *slog.Logger
}

// New creates a new LDP->BGP bridge with the given configuration.
func New(cfg Config) (*Bridge, error) {
	if !ValidStrategies[cfg.Strategy] {
		return nil, fmt.Errorf("bridge strategy %q: %w", cfg.Strategy, ErrInvalidStrategy)
	}

	if cfg.Strategy == StrategyWithdrawRoutes {
		return nil, fmt.Errorf("bridge strategy %q: %w", cfg.Strategy, ErrUnsupportedStrategy)
	}

	return &Bridge{
		client:   cfg.Client,
		resolver: cfg.Resolver,
		strategy: cfg.Strategy,
		dampener: NewDampener(cfg.Dampening, cfg.Logger),
		logger: cfg.Logger.With(
			slog.String("component", "labelbridge.bridge"),
			slog.String("strategy", string(cfg.Strategy)),
		),
	}, nil
}

// Run consumes state changes and applies BGP actions. It blocks until the
// context is cancelled or the events channel is closed.
//
// This method is designed to run as an errgroup goroutine:
//
//	g.Go(func() error {
//	    return bridge.Run(gCtx, mgr.StateChanges())
//	})
func (b *Bridge) Run(ctx context.Context, events <-chan ldp.StateChange) error {
	b.logger.Info("bridge started, consuming LDP state changes")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge stopped")
			return nil

		case sc, ok := <-events:
			if !ok {
				b.logger.Info("state change channel closed, bridge stopping")
				return nil
			}
			b.handleStateChange(ctx, sc)
		}
	}
}

// handleStateChange processes a single LDP neighbor state transition.
func (b *Bridge) handleStateChange(ctx context.Context, sc ldp.StateChange) {
	addr, ok := b.resolver.NeighborAddr(sc.NeighborID)
	if !ok {
		b.logger.Debug("no address for neighbor, ignoring state change",
			slog.Uint64("neighbor_id", uint64(sc.NeighborID)),
		)
		return
	}
	peerAddr := addr.String()

	b.logger.Debug("received LDP state change",
		slog.String("peer", peerAddr),
		slog.String("old_state", sc.OldState.String()),
		slog.String("new_state", sc.NewState.String()),
	)

	switch {
	case isTransitionToDown(sc):
		b.handleDown(ctx, peerAddr, sc)

	case isTransitionToUp(sc):
		b.handleUp(ctx, peerAddr, sc)

	default:
		b.logger.Debug("ignoring non-actionable state change",
			slog.String("peer", peerAddr),
			slog.String("transition", sc.OldState.String()+"->"+sc.NewState.String()),
		)
	}
}

// handleDown processes an LDP adjacency leaving the operational state.
func (b *Bridge) handleDown(ctx context.Context, peerAddr string, sc ldp.StateChange) {
	if b.dampener.ShouldSuppress(peerAddr) {
		b.logger.Warn("LDP down suppressed by flap dampening",
			slog.String("peer", peerAddr),
		)
		return
	}

	b.logger.Info("LDP neighbor down, applying BGP action",
		slog.String("peer", peerAddr),
		slog.String("strategy", string(b.strategy)),
	)

	if err := b.applyDownAction(ctx, peerAddr, sc); err != nil {
		b.logger.Error("failed to apply BGP down action",
			slog.String("peer", peerAddr),
			slog.String("error", err.Error()),
		)
	}
}

// handleUp processes an LDP adjacency entering the operational state.
func (b *Bridge) handleUp(ctx context.Context, peerAddr string, sc ldp.StateChange) {
	if b.dampener.ShouldSuppressUp(peerAddr) {
		b.logger.Warn("LDP up suppressed by flap dampening",
			slog.String("peer", peerAddr),
		)
		return
	}

	b.logger.Info("LDP neighbor up, applying BGP action",
		slog.String("peer", peerAddr),
		slog.String("strategy", string(b.strategy)),
	)

	if err := b.applyUpAction(ctx, peerAddr, sc); err != nil {
		b.logger.Error("failed to apply BGP up action",
			slog.String("peer", peerAddr),
			slog.String("error", err.Error()),
		)
	}
}

// applyDownAction executes the strategy-specific BGP action for LDP down.
func (b *Bridge) applyDownAction(ctx context.Context, peerAddr string, sc ldp.StateChange) error {
	switch b.strategy {
	case StrategyDisablePeer:
		communication := FormatLDPDownCommunication(sc.OldState, sc.NewState)
		if err := b.client.DisablePeer(ctx, peerAddr, communication); err != nil {
			return fmt.Errorf("disable peer %s: %w", peerAddr, err)
		}
		return nil

	case StrategyWithdrawRoutes:
		return fmt.Errorf("apply down action for peer %s: %w", peerAddr, ErrUnsupportedStrategy)

	default:
		return fmt.Errorf("apply down action for peer %s: strategy %q: %w", peerAddr, b.strategy, ErrInvalidStrategy)
	}
}

// applyUpAction executes the strategy-specific BGP action for LDP up.
func (b *Bridge) applyUpAction(ctx context.Context, peerAddr string, _ ldp.StateChange) error {
	switch b.strategy {
	case StrategyDisablePeer:
		if err := b.client.EnablePeer(ctx, peerAddr); err != nil {
			return fmt.Errorf("enable peer %s: %w", peerAddr, err)
		}
		return nil

	case StrategyWithdrawRoutes:
		return fmt.Errorf("apply up action for peer %s: %w", peerAddr, ErrUnsupportedStrategy)

	default:
		return fmt.Errorf("apply up action for peer %s: strategy %q: %w", peerAddr, b.strategy, ErrInvalidStrategy)
	}
}

// -------------------------------------------------------------------------
// State transition helpers
// -------------------------------------------------------------------------

// isTransitionToDown returns true if the state change represents a
// neighbor leaving the operational state.
func isTransitionToDown(sc ldp.StateChange) bool {
	return sc.OldState == ldp.NbrStateOper && sc.NewState != ldp.NbrStateOper
}

// isTransitionToUp returns true if the state change represents a neighbor
// reaching the operational state from a non-operational one.
func isTransitionToUp(sc ldp.StateChange) bool {
	return sc.NewState == ldp.NbrStateOper && sc.OldState != ldp.NbrStateOper
}
