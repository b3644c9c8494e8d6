// ABOUTME: Gateway orchestrator that wires the store, subscription engine and HTTP server
// ABOUTME: Manages listeners (TCP or tailnet), the sweeper lifecycle, and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/prompt-forge/internal/auth"
	"github.com/2389/prompt-forge/internal/config"
	"github.com/2389/prompt-forge/internal/dedupe"
	"github.com/2389/prompt-forge/internal/metrics"
	"github.com/2389/prompt-forge/internal/prompts"
	"github.com/2389/prompt-forge/internal/store"
	"github.com/2389/prompt-forge/internal/subscription"
	"github.com/2389/prompt-forge/internal/transport"
)

// Gateway owns every long-lived prompt-forge component.
type Gateway struct {
	config      *config.Config
	store       store.Store
	metrics     *metrics.Metrics
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// broadcaster feeds the per-agent SSE streams
	broadcaster *transport.Broadcaster

	// publisher is every configured transport behind one Publisher
	publisher transport.Publisher

	subscriptions *subscription.Manager
	notifier      *subscription.Notifier
	sweeper       *subscription.Sweeper
	prompts       *prompts.Service

	// idempotency replays publishes retried with the same Idempotency-Key
	idempotency *dedupe.Cache[*prompts.Published]

	// verifier is nil when auth.jwt_secret is unset
	verifier *auth.JWTVerifier
}

// OpenStore opens the store selected by database.driver.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("initializing postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// initPublishers returns the transports configured in addition to the in-process broadcaster.
func initPublishers(cfg *config.Config, logger *slog.Logger) ([]transport.Publisher, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	kp, err := transport.NewKafkaPublisher(transport.KafkaConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}
	logger.Info("kafka transport enabled", "brokers", cfg.Kafka.Brokers)
	return []transport.Publisher{kp}, nil
}

// New creates a Gateway from cfg, opening the store and transports it names.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publishers, err := initPublishers(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gw, err := newGateway(cfg, s, publishers, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway assembles the components around an opened store.
func newGateway(cfg *config.Config, s store.Store, publishers []transport.Publisher, logger *slog.Logger) (*Gateway, error) {
	gw := &Gateway{
		config:      cfg,
		store:       s,
		metrics:     metrics.New(),
		broadcaster: transport.NewBroadcaster(logger),
		logger:      logger.With("component", "gateway"),
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		gw.verifier = verifier
	} else {
		gw.logger.Warn("auth.jwt_secret not set, prompt management endpoints are unauthenticated")
	}

	gw.publisher = append(transport.Multi{gw.broadcaster}, publishers...)

	gw.subscriptions = subscription.NewManager(s, logger, subscription.ManagerOptions{
		AutoSubscribeTimeout: cfg.Subscriptions.AutoSubscribeTimeout,
		Metrics:              gw.metrics,
	})
	gw.notifier = subscription.NewNotifier(gw.subscriptions, gw.publisher, logger, subscription.NotifierOptions{
		SendTimeout:    cfg.Notifications.SendTimeout,
		MaxConcurrency: cfg.Notifications.MaxConcurrency,
		SubjectPrefix:  cfg.Notifications.SubjectPrefix,
		Metrics:        gw.metrics,
	})
	gw.sweeper = subscription.NewSweeper(s, logger, subscription.SweeperOptions{
		Retention: cfg.Subscriptions.Retention,
		Interval:  cfg.Subscriptions.SweepInterval,
		Timeout:   cfg.Subscriptions.SweepTimeout,
		Metrics:   gw.metrics,
	})
	gw.prompts = prompts.NewService(s, gw.notifier, gw.metrics, logger)
	gw.idempotency = dedupe.New[*prompts.Published](cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, gw.metrics.Handler())
	}
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// SSE handlers return once their listener channels close.
	gw.httpServer.RegisterOnShutdown(func() { _ = gw.broadcaster.Close() })

	return gw, nil
}

// Handler returns the HTTP handler serving the gateway API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the sweeper and HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	g.sweeper.Start(ctx)

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the Run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "prompt-forge", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// notifierDrainTimeout bounds the wait for in-flight fan-outs during Shutdown,
// independent of whatever the HTTP shutdown consumed.
const notifierDrainTimeout = 10 * time.Second

// Shutdown stops accepting requests, stops the sweeper, waits for in-flight
// notifications, then releases transports and the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.sweeper.Stop()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifierDrainTimeout)
	defer cancel()
	errs = appendCloseError(errs, "notifier drain", g.notifier.Close(drainCtx))
	errs = appendCloseError(errs, "transport close", g.publisher.Close())

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.idempotency.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
