// Package config manages the LDP daemon configuration using koanf/v2.
//
// Supports defaults, YAML files, and environment variables, layered in
// that order (later layers override earlier ones).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete ldpd configuration.
type Config struct {
	// LSRID is this daemon's own LSR-Id, advertised as the PDU header's
	// LSRID field on every outbound PDU (RFC 5036 Section 3.5.2). Given
	// as a dotted-quad IPv4 address per convention, regardless of which
	// address families are enabled on individual interfaces.
	LSRID     string            `koanf:"lsr_id"`
	GRPC      GRPCConfig        `koanf:"grpc"`
	Metrics   MetricsConfig     `koanf:"metrics"`
	Log       LogConfig         `koanf:"log"`
	Discovery DiscoveryConfig   `koanf:"discovery"`
	Session   SessionDefaults   `koanf:"session"`
	Auth      []AuthConfig      `koanf:"auth"`
	Interfaces []InterfaceConfig `koanf:"interfaces"`
	LabelBridge LabelBridgeConfig `koanf:"label_bridge"`
}

// GRPCConfig holds the ConnectRPC introspection server configuration.
type GRPCConfig struct {
	// Addr is the gRPC listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// DiscoveryConfig holds the Basic Discovery listener configuration
// (RFC 5036 Section 2.4, RFC 7552 Section 5).
type DiscoveryConfig struct {
	// ListenIPv4 is the local IPv4 address the discovery socket binds
	// to. Empty means the wildcard address.
	ListenIPv4 string `koanf:"listen_ipv4"`
	// ListenIPv6 is the local IPv6 address the discovery socket binds
	// to. Empty means the wildcard address.
	ListenIPv6 string `koanf:"listen_ipv6"`
	// HelloInterval is how often Hellos are sent on enabled interfaces.
	HelloInterval time.Duration `koanf:"hello_interval"`
	// HelloHoldTime is the hold time advertised in outgoing Hellos.
	HelloHoldTime time.Duration `koanf:"hello_hold_time"`
}

// SessionDefaults holds the default session-layer parameters applied to
// every neighbor unless a per-neighbor override exists.
type SessionDefaults struct {
	// KeepaliveInterval is how often Keepalives are sent on an idle
	// session (RFC 5036 Section 3.5.9).
	KeepaliveInterval time.Duration `koanf:"keepalive_interval"`
	// KeepaliveHoldTime is the hold time advertised in Initialization
	// messages.
	KeepaliveHoldTime time.Duration `koanf:"keepalive_hold_time"`
	// PendingConnTimeout bounds how long an accepted TCP connection with
	// no matching neighbor waits before a detached No-Hello close.
	PendingConnTimeout time.Duration `koanf:"pending_conn_timeout"`
	// MaxPDULen is the locally proposed maximum PDU length, negotiated
	// down to the peer's value during Initialization.
	MaxPDULen uint16 `koanf:"max_pdu_len"`
}

// InterfaceConfig declares an interface LDP discovery is enabled on.
type InterfaceConfig struct {
	// Name is the kernel interface name (e.g., "eth0").
	Name string `koanf:"name"`
	// IPv4Enabled enables the IPv4 Basic Discovery instance on this
	// interface.
	IPv4Enabled bool `koanf:"ipv4_enabled"`
	// IPv6Enabled enables the IPv6 Basic Discovery instance on this
	// interface (RFC 7552).
	IPv6Enabled bool `koanf:"ipv6_enabled"`
}

// AuthConfig declares the authentication policy for one neighbor,
// consulted by the AuthPolicy hook at TCP accept time.
type AuthConfig struct {
	// Neighbor is the neighbor's LSR-Id or peer address this policy
	// applies to.
	Neighbor string `koanf:"neighbor"`
	// RequireGTSM enables the Generalized TTL Security Mechanism check.
	RequireGTSM bool `koanf:"require_gtsm"`
	// RequireMD5 requires TCP-MD5 (TCP_MD5SIG) to already be in force
	// on accepted sockets for this neighbor.
	RequireMD5 bool `koanf:"require_md5"`
}

// LabelBridgeConfig holds the configuration for the optional outbound
// label-consumer bridge: when enabled, it consumes
// neighbor state transitions from this daemon's core and applies them as
// administrative actions against an external BGP speaker.
type LabelBridgeConfig struct {
	// Enabled controls whether the bridge goroutine starts at all.
	Enabled bool `koanf:"enabled"`
	// Addr is the BGP speaker's gRPC listen address (e.g., "127.0.0.1:50052").
	Addr string `koanf:"addr"`
	// Strategy is "disable-peer" or "withdraw-routes".
	Strategy string `koanf:"strategy"`
	// Dampening configures flap dampening for the bridge.
	Dampening DampeningConfig `koanf:"dampening"`
}

// DampeningConfig configures the label bridge's flap dampening.
type DampeningConfig struct {
	Enabled           bool          `koanf:"enabled"`
	SuppressThreshold float64       `koanf:"suppress_threshold"`
	ReuseThreshold    float64       `koanf:"reuse_threshold"`
	MaxSuppressTime   time.Duration `koanf:"max_suppress_time"`
	HalfLife          time.Duration `koanf:"half_life"`
}

// LSRIDUint32 parses LSRID as an IPv4 address encoded as a uint32, the
// form the wire codec (internal/ldp) expects.
func (c *Config) LSRIDUint32() (uint32, error) {
	addr, err := netip.ParseAddr(c.LSRID)
	if err != nil {
		return 0, fmt.Errorf("parse lsr_id %q: %w: %w", c.LSRID, ErrLSRIDNotIPv4, err)
	}
	if !addr.Is4() {
		return 0, fmt.Errorf("lsr_id %q: %w", c.LSRID, ErrLSRIDNotIPv4)
	}
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// NeighborAddr parses the Neighbor string as a netip.Addr.
func (a AuthConfig) NeighborAddr() (netip.Addr, error) {
	if a.Neighbor == "" {
		return netip.Addr{}, fmt.Errorf("auth neighbor: %w", ErrInvalidAuthNeighbor)
	}
	addr, err := netip.ParseAddr(a.Neighbor)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse auth neighbor %q: %w", a.Neighbor, err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// Session timer defaults follow RFC 5036 Section 2.5.6's recommended
// ratio of hold time to interval (hold time >= 3x the send interval, so
// up to two consecutive lost messages are tolerated before timeout).
func DefaultConfig() *Config {
	return &Config{
		LSRID: "0.0.0.0",
		GRPC: GRPCConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Discovery: DiscoveryConfig{
			HelloInterval: 5 * time.Second,
			HelloHoldTime: 15 * time.Second,
		},
		Session: SessionDefaults{
			KeepaliveInterval:  5 * time.Second,
			KeepaliveHoldTime:  15 * time.Second,
			PendingConnTimeout: 5 * time.Second,
			MaxPDULen:          4096,
		},
		LabelBridge: LabelBridgeConfig{
			Enabled:  false,
			Strategy: "disable-peer",
			Dampening: DampeningConfig{
				Enabled:           false,
				SuppressThreshold: 3,
				ReuseThreshold:    2,
				MaxSuppressTime:   60 * time.Second,
				HalfLife:          15 * time.Second,
			},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for ldpd configuration.
// Variables are named LDPD_<section>_<key>, e.g., LDPD_GRPC_ADDR.
const envPrefix = "LDPD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (LDPD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	LDPD_GRPC_ADDR     -> grpc.addr
//	LDPD_METRICS_ADDR  -> metrics.addr
//	LDPD_METRICS_PATH  -> metrics.path
//	LDPD_LOG_LEVEL     -> log.level
//	LDPD_LOG_FORMAT    -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms LDPD_GRPC_ADDR -> grpc.addr.
// Strips the LDPD_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"lsr_id":                       defaults.LSRID,
		"grpc.addr":                    defaults.GRPC.Addr,
		"metrics.addr":                 defaults.Metrics.Addr,
		"metrics.path":                 defaults.Metrics.Path,
		"log.level":                    defaults.Log.Level,
		"log.format":                   defaults.Log.Format,
		"discovery.hello_interval":     defaults.Discovery.HelloInterval.String(),
		"discovery.hello_hold_time":    defaults.Discovery.HelloHoldTime.String(),
		"session.keepalive_interval":   defaults.Session.KeepaliveInterval.String(),
		"session.keepalive_hold_time":  defaults.Session.KeepaliveHoldTime.String(),
		"session.pending_conn_timeout": defaults.Session.PendingConnTimeout.String(),
		"session.max_pdu_len":          defaults.Session.MaxPDULen,
		"label_bridge.enabled":         defaults.LabelBridge.Enabled,
		"label_bridge.strategy":        defaults.LabelBridge.Strategy,
		"label_bridge.dampening.enabled":            defaults.LabelBridge.Dampening.Enabled,
		"label_bridge.dampening.suppress_threshold":  defaults.LabelBridge.Dampening.SuppressThreshold,
		"label_bridge.dampening.reuse_threshold":     defaults.LabelBridge.Dampening.ReuseThreshold,
		"label_bridge.dampening.max_suppress_time":   defaults.LabelBridge.Dampening.MaxSuppressTime.String(),
		"label_bridge.dampening.half_life":           defaults.LabelBridge.Dampening.HalfLife.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyGRPCAddr indicates the gRPC listen address is empty.
	ErrEmptyGRPCAddr = errors.New("grpc.addr must not be empty")

	// ErrInvalidPendingConnTimeout indicates the pending-connection
	// timeout is not positive.
	ErrInvalidPendingConnTimeout = errors.New("session.pending_conn_timeout must be > 0")

	// ErrInvalidMaxPDULen indicates the configured max PDU length is
	// below the RFC 5036 Section 3.5.3 floor.
	ErrInvalidMaxPDULen = errors.New("session.max_pdu_len must be >= 256")

	// ErrInvalidAuthNeighbor indicates an auth entry has an invalid or
	// empty neighbor address.
	ErrInvalidAuthNeighbor = errors.New("auth neighbor address is invalid")

	// ErrDuplicateAuthNeighbor indicates two auth entries name the same
	// neighbor.
	ErrDuplicateAuthNeighbor = errors.New("duplicate auth neighbor")

	// ErrEmptyInterfaceName indicates an interface entry has no name.
	ErrEmptyInterfaceName = errors.New("interface name must not be empty")

	// ErrInvalidLabelBridgeStrategy indicates the configured label-bridge
	// strategy is not one of the recognized values.
	ErrInvalidLabelBridgeStrategy = errors.New("label_bridge.strategy must be \"disable-peer\" or \"withdraw-routes\"")

	// ErrEmptyLabelBridgeAddr indicates the label bridge is enabled but no
	// BGP speaker address was configured.
	ErrEmptyLabelBridgeAddr = errors.New("label_bridge.addr must not be empty when label_bridge.enabled is true")

	// ErrEmptyLSRID indicates no lsr_id was configured.
	ErrEmptyLSRID = errors.New("lsr_id must not be empty")

	// ErrLSRIDNotIPv4 indicates lsr_id did not parse as an IPv4 address.
	ErrLSRIDNotIPv4 = errors.New("lsr_id must be an IPv4 address")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.LSRID == "" {
		return ErrEmptyLSRID
	}
	if _, err := cfg.LSRIDUint32(); err != nil {
		return err
	}

	if cfg.GRPC.Addr == "" {
		return ErrEmptyGRPCAddr
	}

	if cfg.Session.PendingConnTimeout <= 0 {
		return ErrInvalidPendingConnTimeout
	}

	if cfg.Session.MaxPDULen < 256 {
		return ErrInvalidMaxPDULen
	}

	if err := validateInterfaces(cfg.Interfaces); err != nil {
		return err
	}

	if err := validateAuth(cfg.Auth); err != nil {
		return err
	}

	return validateLabelBridge(cfg.LabelBridge)
}

func validateLabelBridge(lb LabelBridgeConfig) error {
	switch lb.Strategy {
	case "disable-peer", "withdraw-routes":
	default:
		return ErrInvalidLabelBridgeStrategy
	}

	if lb.Enabled && lb.Addr == "" {
		return ErrEmptyLabelBridgeAddr
	}

	return nil
}

func validateInterfaces(ifaces []InterfaceConfig) error {
	for i, ic := range ifaces {
		if ic.Name == "" {
			return fmt.Errorf("interfaces[%d]: %w", i, ErrEmptyInterfaceName)
		}
	}
	return nil
}

func validateAuth(entries []AuthConfig) error {
	seen := make(map[string]struct{}, len(entries))

	for i, a := range entries {
		if _, err := a.NeighborAddr(); err != nil {
			return fmt.Errorf("auth[%d]: %w: %w", i, ErrInvalidAuthNeighbor, err)
		}
		if _, dup := seen[a.Neighbor]; dup {
			return fmt.Errorf("auth[%d] neighbor %q: %w", i, a.Neighbor, ErrDuplicateAuthNeighbor)
		}
		seen[a.Neighbor] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
