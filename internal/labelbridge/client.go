// Package labelbridge consumes neighbor operational-state transitions from
// the packet-I/O core and applies them as administrative actions against an
// external label-consuming BGP speaker, so that an interior BGP labeled-
// unicast session never stays enabled over a transport path whose LDP
// neighbor adjacency has gone down.
//
// When an LDP neighbor leaves the operational state, the corresponding
// BGP peer on the same address is disabled to avoid blackholing labeled
// traffic over a transport path LDP no longer considers reachable. When
// the neighbor returns to the operational state, the peer is re-enabled.
// Flap dampening is applied before either action to keep a bouncing LDP
// adjacency from producing BGP route churn.
package labelbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// -------------------------------------------------------------------------
// Client Interface
// -------------------------------------------------------------------------

// Client abstracts the BGP speaker operations the bridge needs. This
// interface enables testing without a running BGP speaker.
type Client interface {
	// DisablePeer administratively disables a BGP peer by address. The
	// communication string is sent as the administrative shutdown reason.
	DisablePeer(ctx context.Context, addr string, communication string) error

	// EnablePeer administratively enables a previously disabled BGP peer.
	EnablePeer(ctx context.Context, addr string) error

	// Close releases the underlying connection.
	Close() error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("labelbridge client is closed")

	// ErrDialFailed indicates the gRPC dial to the BGP speaker failed.
	ErrDialFailed = errors.New("labelbridge gRPC dial failed")
)

// -------------------------------------------------------------------------
// GRPCClient — production GoBGP gRPC client
// -------------------------------------------------------------------------

// GRPCClient connects to a GoBGP instance's gRPC API and implements Client.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// GRPCClientConfig holds connection parameters for the BGP speaker client.
type GRPCClientConfig struct {
	// Addr is the GoBGP gRPC listen address (e.g., "127.0.0.1:50051").
	Addr string

	// DialTimeout is not read by NewGRPCClient: grpc.NewClient does not
	// dial eagerly, so each RPC is bounded only by its own context
	// deadline.
	DialTimeout time.Duration
}

// NewGRPCClient creates a new BGP speaker gRPC client.
//
// The connection uses grpc.NewClient with insecure credentials: GoBGP's
// API is typically exposed on localhost alongside this daemon, without
// TLS. grpc.NewClient does not block; connectivity is verified on the
// first RPC call.
func NewGRPCClient(cfg GRPCClientConfig, logger *slog.Logger) (*GRPCClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("create labelbridge client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(
		cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create labelbridge client to %s: %w: %w", cfg.Addr, ErrDialFailed, err)
	}

	client := &GRPCClient{
		conn: conn,
		api:  apipb.NewGobgpApiClient(conn),
		logger: logger.With(
			slog.String("component", "labelbridge.client"),
			slog.String("addr", cfg.Addr),
		),
	}

	client.logger.Info("labelbridge gRPC client created", slog.String("target", cfg.Addr))

	return client, nil
}

// DisablePeer disables a BGP peer by address with an administrative reason.
func (c *GRPCClient) DisablePeer(ctx context.Context, addr string, communication string) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("disable peer %s: %w", addr, ErrClientClosed)
	}
	c.mu.RUnlock()

	_, err := c.api.DisablePeer(ctx, &apipb.DisablePeerRequest{
		Address:       addr,
		Communication: communication,
	})
	if err != nil {
		return fmt.Errorf("disable peer %s: %w", addr, err)
	}

	c.logger.Info("disabled BGP peer",
		slog.String("peer", addr),
		slog.String("reason", communication),
	)

	return nil
}

// EnablePeer enables a previously disabled BGP peer by address.
func (c *GRPCClient) EnablePeer(ctx context.Context, addr string) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("enable peer %s: %w", addr, ErrClientClosed)
	}
	c.mu.RUnlock()

	_, err := c.api.EnablePeer(ctx, &apipb.EnablePeerRequest{
		Address: addr,
	})
	if err != nil {
		return fmt.Errorf("enable peer %s: %w", addr, err)
	}

	c.logger.Info("enabled BGP peer", slog.String("peer", addr))

	return nil
}

// Close releases the underlying gRPC connection. After Close, all methods
// return ErrClientClosed.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close labelbridge client: %w", err)
	}

	c.logger.Info("labelbridge gRPC client closed")

	return nil
}
