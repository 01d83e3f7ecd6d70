// ldpd -- LDP (Label Distribution Protocol) daemon (RFC 5036 / RFC 7552).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/soumyar-roy/ldpd-go/internal/config"
	"github.com/soumyar-roy/ldpd-go/internal/labelbridge"
	"github.com/soumyar-roy/ldpd-go/internal/ldp"
	ldpmetrics "github.com/soumyar-roy/ldpd-go/internal/metrics"
	"github.com/soumyar-roy/ldpd-go/internal/neighbor"
	"github.com/soumyar-roy/ldpd-go/internal/netio"
	"github.com/soumyar-roy/ldpd-go/internal/server"
	appversion "github.com/soumyar-roy/ldpd-go/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// drainTimeout is the time to wait after sending every attached neighbor a
// shutdown Notification before proceeding with shutdown, so the final PDU
// reaches the wire before the TCP connection closes underneath it.
const drainTimeout = 2 * time.Second

// introspectionServiceName names the ConnectRPC service the gRPC health
// checker reports alongside the overall server.
const introspectionServiceName = "ldp.v1.LdpIntrospection"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("ldpd starting",
		slog.String("version", appversion.Version),
		slog.String("lsr_id", cfg.LSRID),
		slog.String("grpc_addr", cfg.GRPC.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := ldpmetrics.NewCollector(reg)

	mgr, err := neighbor.NewManager(cfg, logger)
	if err != nil {
		logger.Error("failed to build neighbor manager", slog.String("error", err.Error()))
		return 1
	}

	core := ldp.NewCore(logger,
		ldp.WithMetrics(collector),
		ldp.WithHandlers(mgr),
		ldp.WithNotificationSender(mgr),
		ldp.WithAuthPolicy(mgr),
		ldp.WithPendingConnTimeout(ldp.PendingConnTimeoutOption(cfg.Session.PendingConnTimeout)),
	)
	mgr.BindCore(core)
	defer core.Close()

	if err := runServers(cfg, core, mgr, collector, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("ldpd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("ldpd stopped")
	return 0
}

// runServers sets up and runs the discovery receiver, session acceptor,
// gRPC and metrics HTTP servers, and (if enabled) the label bridge, all
// under an errgroup with a signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	core *ldp.Core,
	mgr *neighbor.Manager,
	collector *ldpmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	grpcSrv := newGRPCServer(cfg.GRPC, mgr, core, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	discoveryListeners, err := createDiscoveryListeners(gCtx, cfg, mgr, logger)
	if err != nil {
		return fmt.Errorf("create discovery listeners: %w", err)
	}
	defer closeDiscoveryListeners(discoveryListeners, logger)

	if len(discoveryListeners) > 0 {
		recv := netio.NewDiscoveryReceiver(mgr, mgr, collector, logger)
		g.Go(func() error {
			return recv.Run(gCtx, discoveryListeners...)
		})
	}

	acceptorLn, err := createAcceptorListener(gCtx)
	if err != nil {
		return fmt.Errorf("create session acceptor listener: %w", err)
	}
	defer func() {
		if cerr := acceptorLn.Close(); cerr != nil {
			logger.Warn("failed to close session acceptor listener", slog.String("error", cerr.Error()))
		}
	}()

	acceptor := netio.NewAcceptor(acceptorLn, core, mgr, mgr, logger)
	g.Go(func() error {
		acceptor.Run(gCtx)
		return nil
	})

	startHTTPServers(gCtx, g, cfg, grpcSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	bridgeCloser, err := startLabelBridge(gCtx, g, cfg.LabelBridge, mgr, logger)
	if err != nil {
		return fmt.Errorf("start label bridge: %w", err)
	}
	defer closeLabelBridgeClient(bridgeCloser, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, core, mgr, logger, grpcSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the gRPC and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	grpcSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("addr", cfg.GRPC.Addr))
		return listenAndServe(ctx, &lc, grpcSrv, cfg.GRPC.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// closeLabelBridgeClient closes the label bridge's BGP client if non-nil,
// logging any error.
func closeLabelBridgeClient(client labelbridge.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("failed to close label bridge client", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon is
// beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured watchdog interval. If the watchdog is not configured, the
// goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level only
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP signals and reloads configuration. Only
// the dynamic log level is adjustable this way: neighbors are discovered
// dynamically via Hello, not declared in config, so there is nothing
// declarative to reconcile here.
// Blocks until the context is cancelled (graceful shutdown).
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

// reloadConfig loads a fresh configuration from the given path and updates
// the dynamic log level. Errors during reload are logged but do not stop
// the daemon -- the previous configuration remains in effect.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Discovery + Session Listeners
// -------------------------------------------------------------------------

// createDiscoveryListeners opens one UDP discovery listener per enabled
// address family, joining the all-routers multicast group on every
// interface that enables that family.
func createDiscoveryListeners(ctx context.Context, cfg *config.Config, mgr *neighbor.Manager, logger *slog.Logger) ([]*netio.Listener, error) {
	var ipv4Ifaces, ipv6Ifaces []int
	for _, ri := range mgr.Interfaces() {
		if ri.IPv4 {
			ipv4Ifaces = append(ipv4Ifaces, ri.Index)
		}
		if ri.IPv6 {
			ipv6Ifaces = append(ipv6Ifaces, ri.Index)
		}
	}

	var listeners []*netio.Listener

	if len(ipv4Ifaces) > 0 {
		ln, err := newDiscoveryListener(ctx, cfg.Discovery.ListenIPv4, "0.0.0.0", ipv4Ifaces)
		if err != nil {
			return nil, fmt.Errorf("create IPv4 discovery listener: %w", err)
		}
		logger.Info("IPv4 discovery listener started", slog.Int("interfaces", len(ipv4Ifaces)))
		listeners = append(listeners, ln)
	}

	if len(ipv6Ifaces) > 0 {
		ln, err := newDiscoveryListener(ctx, cfg.Discovery.ListenIPv6, "::", ipv6Ifaces)
		if err != nil {
			closeDiscoveryListeners(listeners, logger)
			return nil, fmt.Errorf("create IPv6 discovery listener: %w", err)
		}
		logger.Info("IPv6 discovery listener started", slog.Int("interfaces", len(ipv6Ifaces)))
		listeners = append(listeners, ln)
	}

	return listeners, nil
}

func newDiscoveryListener(ctx context.Context, configured, wildcard string, ifIndexes []int) (*netio.Listener, error) {
	bindAddr := configured
	if bindAddr == "" {
		bindAddr = wildcard
	}
	addr, err := netip.ParseAddr(bindAddr)
	if err != nil {
		return nil, fmt.Errorf("parse discovery bind address %q: %w", bindAddr, err)
	}

	pc, err := netio.NewDiscoveryListener(ctx, addr, ifIndexes)
	if err != nil {
		return nil, err
	}
	return netio.NewListener(pc), nil
}

func closeDiscoveryListeners(listeners []*netio.Listener, logger *slog.Logger) {
	for _, ln := range listeners {
		if err := ln.Close(); err != nil {
			logger.Warn("failed to close discovery listener", slog.String("error", err.Error()))
		}
	}
}

// createAcceptorListener opens the wildcard TCP listener LDP sessions are
// accepted on, on the well-known LDP port.
func createAcceptorListener(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{}
	addr := fmt.Sprintf(":%d", netio.Port)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return ln, nil
}

// -------------------------------------------------------------------------
// Graceful Shutdown — drain neighbors + stop servers
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, sends
// every attached neighbor a Shutdown Notification, waits for those PDUs to
// reach the wire, then shuts down the HTTP servers.
//
// The parent context is already cancelled when this function is called. A
// fresh timeout context is created internally for server drain.
func gracefulShutdown(
	ctx context.Context,
	core *ldp.Core,
	mgr *neighbor.Manager,
	logger *slog.Logger,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	mgr.DrainAll(ldp.StatusShutdown)
	time.Sleep(drainTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}

	core.Close()
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newGRPCServer creates an HTTP server for the ConnectRPC introspection
// endpoint. The handler is wrapped with h2c to support HTTP/2 without TLS.
// Includes standard gRPC health checking (grpc.health.v1).
func newGRPCServer(cfg config.GRPCConfig, mgr *neighbor.Manager, core *ldp.Core, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(mgr, core, logger)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		introspectionServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Label Bridge Integration
// -------------------------------------------------------------------------

// startLabelBridge creates and starts the label-bridge goroutine if
// enabled. Returns the BGP client (for deferred Close) and any
// initialization error. Returns a nil client when the bridge is disabled.
//
// The bridge is fed from mgr.StateChanges(), not core.StateChanges():
// Core's channel is only ever populated from CloseSession and therefore
// can only report the down/teardown direction, while Manager publishes
// both directions of every FSM transition.
func startLabelBridge(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.LabelBridgeConfig,
	mgr *neighbor.Manager,
	logger *slog.Logger,
) (labelbridge.Client, error) {
	if !cfg.Enabled {
		logger.Info("label bridge disabled")
		return nil, nil
	}

	client, err := labelbridge.NewGRPCClient(labelbridge.GRPCClientConfig{
		Addr: cfg.Addr,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create label bridge client: %w", err)
	}

	bridge, err := labelbridge.New(labelbridge.Config{
		Client:   client,
		Resolver: mgr,
		Strategy: labelbridge.Strategy(cfg.Strategy),
		Dampening: labelbridge.DampeningConfig{
			Enabled:           cfg.Dampening.Enabled,
			SuppressThreshold: cfg.Dampening.SuppressThreshold,
			ReuseThreshold:    cfg.Dampening.ReuseThreshold,
			MaxSuppressTime:   cfg.Dampening.MaxSuppressTime,
			HalfLife:          cfg.Dampening.HalfLife,
		},
		Logger: logger,
	})
	if err != nil {
		closeLabelBridgeClient(client, logger)
		return nil, fmt.Errorf("create label bridge: %w", err)
	}

	g.Go(func() error {
		return bridge.Run(ctx, mgr.StateChanges())
	})

	logger.Info("label bridge enabled",
		slog.String("addr", cfg.Addr),
		slog.String("strategy", cfg.Strategy),
		slog.Bool("dampening", cfg.Dampening.Enabled),
	)

	return client, nil
}

// -------------------------------------------------------------------------
// Config / Logger Bootstrap
// -------------------------------------------------------------------------

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
