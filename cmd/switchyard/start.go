package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/switchyard/internal/api"
	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/demo"
	"github.com/mattjoyce/switchyard/internal/dispatch"
	"github.com/mattjoyce/switchyard/internal/eventbus"
	"github.com/mattjoyce/switchyard/internal/eventbus/relay"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/gateway"
	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/lock"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/message"
	"github.com/mattjoyce/switchyard/internal/scheduler"
	"github.com/mattjoyce/switchyard/internal/storage"
	"github.com/mattjoyce/switchyard/internal/tui"
)

const shutdownTimeout = 10 * time.Second

// node is one running switchyard: the gateway, its queues, the bus and
// the ambient pieces around them.
type node struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *sql.DB
	journal *journal.Journal
	writer  *journal.Writer
	hub     *events.Hub
	bus     *eventbus.Bus
	gateway *gateway.Gateway
	queues  []*dispatch.Queue
	sched   *scheduler.Scheduler
	api     *api.Server

	closeRelay func()
}

// newNode wires every component from cfg. Nothing is started.
func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (n *node, err error) {
	n = &node{cfg: cfg, logger: logger, closeRelay: func() {}}
	defer func() {
		if err != nil {
			n.release()
		}
	}()

	n.hub = events.NewHub(cfg.API.EventBuffer)

	gwCfg := gateway.Config{
		BaseURI:        cfg.Gateway.BaseURI,
		Timeout:        cfg.Gateway.Timeout,
		MaxOutstanding: *cfg.Gateway.MaxOutstanding,
		FlushInterval:  cfg.Gateway.FlushInterval,
		Events:         n.hub,
		Logger:         log.WithComponent("gateway"),
	}
	var pruner scheduler.Pruner
	if cfg.Journal.Enabled {
		n.db, err = storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal database: %w", err)
		}
		n.journal = journal.New(n.db)
		n.writer = journal.NewWriter(n.journal, cfg.Journal.Buffer)
		gwCfg.Journal = n.writer
		pruner = n.journal
	}
	n.gateway = gateway.New(gwCfg)

	busOpts := []eventbus.Option{
		eventbus.WithEvents(n.hub),
		eventbus.WithLogger(log.WithComponent("eventbus")),
	}
	fwd, closeRelay, err := relay.Open(relay.Config{
		Kind:          cfg.Relay.Kind,
		URL:           cfg.Relay.URL,
		Brokers:       cfg.Relay.Brokers,
		Exchange:      cfg.Relay.Exchange,
		SubjectPrefix: cfg.Relay.SubjectPrefix,
		ClientName:    cfg.Service.Name,
		ConnTimeout:   cfg.Relay.ConnTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s relay: %w", cfg.Relay.Kind, err)
	}
	n.closeRelay = closeRelay
	if fwd != nil {
		busOpts = append(busOpts,
			eventbus.WithRelay(fwd),
			eventbus.WithRelayLimits(cfg.Relay.Buffer, cfg.Relay.ConnTimeout),
		)
		logger.Info("event relay enabled", "kind", cfg.Relay.Kind)
	}
	n.bus = eventbus.New(cfg.Service.Name, busOpts...)

	returns := message.NewReturns(log.WithComponent("returns"))
	if err := returns.Bind(gateway.ReceiverName, n.gateway); err != nil {
		return nil, err
	}

	var units []demo.Unit
	if cfg.Service.Demo {
		units = demo.Units(n.bus, log.WithComponent("demo"))
	}
	for _, u := range units {
		q, err := dispatch.New(u.Definition, dispatch.Config{
			BatchSize:     cfg.Dispatch.BatchSize,
			FlushInterval: cfg.Dispatch.FlushInterval,
			Capacity:      cfg.Dispatch.Capacity,
			Responses:     returns,
			OnEmpty:       u.Flush,
			OnLimit:       u.Flush,
			Logger:        log.WithService(u.Definition.Name),
		})
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", u.Definition.Name, err)
		}
		if err := n.gateway.Register(q.Definition(), q); err != nil {
			return nil, fmt.Errorf("register %s: %w", u.Definition.Name, err)
		}
		n.bus.JoinService(q, q.Definition().Channels()...)
		n.queues = append(n.queues, q)
	}
	for _, r := range n.gateway.Routes() {
		logger.Info("route registered", "verb", r.Verb, "uri", r.URI, "service", r.Service, "method", r.Method)
	}

	var retention time.Duration
	if cfg.Journal.Enabled {
		retention = cfg.Journal.Retention
	}
	n.sched = scheduler.New(scheduler.Config{
		TickInterval: cfg.Service.TickInterval,
		Retention:    retention,
	}, n.gateway, pruner, n.hub, log.Get())

	if cfg.API.Enabled {
		n.api = api.New(api.Config{
			Listen:         cfg.API.Listen,
			BaseURI:        cfg.Gateway.BaseURI,
			RequestTimeout: cfg.Gateway.Timeout + 5*time.Second,
		}, n.gateway, n.hub, log.WithComponent("api"))
	}
	return n, nil
}

// run starts every component and blocks until ctx ends or one of them fails.
func (n *node) run(ctx context.Context) error {
	for _, q := range n.queues {
		q.Start()
	}
	n.sched.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if n.api != nil {
		g.Go(func() error {
			if err := n.api.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// shutdown stops the idle loop and the queues, answers whatever is still
// outstanding and releases storage and the relay.
func (n *node) shutdown(ctx context.Context) {
	n.sched.Stop()
	for _, q := range n.queues {
		if err := q.Stop(ctx); err != nil {
			n.logger.Warn("queue did not stop cleanly", "service", q.Service(), "error", err)
		}
	}
	if drained := n.gateway.Drain(); drained > 0 {
		n.logger.Warn("answered outstanding requests on shutdown", "count", drained)
	}
	n.release()
}

func (n *node) release() {
	if n.writer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := n.writer.Close(ctx); err != nil {
			n.logger.Warn("journal writer did not drain", "error", err)
		}
		cancel()
		if dropped := n.writer.Dropped(); dropped > 0 {
			n.logger.Warn("journal entries dropped", "count", dropped)
		}
		n.writer = nil
	}
	if n.db != nil {
		_ = n.db.Close()
		n.db = nil
	}
	if n.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := n.bus.Close(ctx); err != nil {
			n.logger.Warn("relay did not drain", "error", err)
		}
		cancel()
		if dropped := n.bus.RelayDropped(); dropped > 0 {
			n.logger.Warn("relay events dropped", "count", dropped)
		}
	}
	n.closeRelay()
	n.closeRelay = func() {}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("switchyard starting", "version", version, "config", cfg.SourcePath)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := newNode(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}

	logger.Info("switchyard running (press Ctrl+C to stop)", "routes", len(n.gateway.Routes()))
	runErr := n.run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	n.shutdown(shutdownCtx)

	if runErr != nil {
		logger.Error("component failed", "error", runErr)
		return 1
	}
	logger.Info("switchyard stopped")
	return 0
}

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	apiURL := fs.String("api-url", envOr("SWITCHYARD_API_URL", "http://localhost:8080"), "switchyard API URL")
	service := fs.String("service", "", "Only show calls to this service")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(tui.NewMonitor(*apiURL, tui.WithService(*service)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
