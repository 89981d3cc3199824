// toolmesh is the tool-orchestration server: a registry of tools,
// pooled resources, and prompts, invoked over stdio and HTTP/WebSocket,
// with a real-time analytics pipeline and pub-sub fan-out over its
// health.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"toolmesh/internal/analytics"
	"toolmesh/internal/auth"
	"toolmesh/internal/broadcast"
	"toolmesh/internal/config"
	"toolmesh/internal/descriptor"
	"toolmesh/internal/health"
	"toolmesh/internal/httpserver"
	"toolmesh/internal/invoker"
	"toolmesh/internal/logging"
	"toolmesh/internal/metrics"
	"toolmesh/internal/pool"
	"toolmesh/internal/prompts"
	"toolmesh/internal/registry"
	"toolmesh/internal/storage"
	"toolmesh/internal/tasks"
	"toolmesh/internal/tools"
	"toolmesh/internal/trace"
	"toolmesh/internal/tracing"
	"toolmesh/internal/transport"
)

func main() {
	manifestPath := flag.String("manifest", "tools.yaml", "path to the static tool/resource manifest")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Println(color.RedString("failed to load configuration: %v", err))
		exit(1)
		return
	}

	log := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level))
	banner(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap(ctx, cfg, *manifestPath, log)
	if err != nil {
		log.Error("bootstrap failed", "error", err)
		exit(1)
		return
	}

	if err := app.run(ctx); err != nil && ctx.Err() == nil {
		log.Error("server exited with error", "error", err)
		exit(2)
		return
	}

	app.shutdown()
}

// exit is a var so tests can stub it instead of terminating the process.
var exit = os.Exit

type application struct {
	cfg      *config.Config
	log      logging.Logger
	reg      *registry.Registry
	lc       *pool.Lifecycle
	pipeline *analytics.Pipeline
	fabric   *broadcast.Fabric
	inv      *invoker.Invoker
	backend  storage.Backend
	stdio    *transport.Stdio
	tasks    *tasks.Supervisor

	healthSrv      *http.Server
	tracerShutdown func(context.Context) error
}

func bootstrap(ctx context.Context, cfg *config.Config, manifestPath string, log logging.Logger) (*application, error) {
	reg := registry.New()
	lc := pool.NewLifecycle(cfg.Pool.HealthCheckInterval)

	if err := loadManifest(reg, lc, cfg, manifestPath); err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	if err := reg.InitializeAll(ctx); err != nil {
		return nil, fmt.Errorf("initializing registry: %w", err)
	}

	backend, err := storage.Open(cfg.Storage.BackendURL, cfg.Analytics.RingSize)
	if err != nil {
		return nil, fmt.Errorf("opening storage backend: %w", err)
	}
	resilient := storage.NewResilientBackend("trace-storage", backend, func(depth int) {
		log.Warn("storage backlog growing", "depth", depth)
	})

	fabric := broadcast.New(broadcast.Config{
		QueueSize:         cfg.Broadcast.QueueSize,
		HeartbeatInterval: cfg.Broadcast.HeartbeatInterval,
		SilenceTimeout:    cfg.Broadcast.SilenceTimeout,
	}, nil, nil)

	pipeline := analytics.New(analytics.Config{
		RingSize:        cfg.Analytics.RingSize,
		TrendPoints:     cfg.Analytics.TrendPoints,
		IngestQueueSize: cfg.Analytics.IngestQueueSize,
	}, resilient, fabric, log)
	fabric.SetSnapshots(pipeline)
	pipeline.Start(ctx)

	inv := invoker.New(reg, trace.Config{MaxNodes: cfg.Tracer.MaxNodes, MaxBytes: cfg.Tracer.MaxBytes}, pipeline, log)

	taskSupervisor := tasks.NewSupervisor()
	taskSupervisor.Add("lifecycle-health", cfg.Pool.HealthCheckInterval, func(ctx context.Context) {
		reports := lc.Tick()
		if len(reports) == 0 {
			return
		}
		var memRatioSum float64
		for _, r := range reports {
			memRatioSum += r.Stats.MemoryUsageRatio
		}
		pipeline.SetResourceUsage(100*memRatioSum/float64(len(reports)), 0)
	})

	checker := auth.CredentialChecker(auth.NoOpChecker{})

	var tracer *tracing.Exporter
	var tracerShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		tracer, tracerShutdown, err = tracing.NewExporter(ctx, tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: "1.0.0",
			Environment:    cfg.Tracing.Environment,
			Endpoint:       cfg.Tracing.Endpoint,
			UseHTTP:        cfg.Tracing.UseHTTP,
			Insecure:       cfg.Tracing.Insecure,
		})
		if err != nil {
			log.Warn("otel exporter disabled, continuing without it", "error", err)
			tracer, tracerShutdown = nil, nil
		}
	}

	metricsReg := metrics.New(pipeline)
	checkerHandler := health.New("1.0.0", pipeline, lc, reg, 2*cfg.Pool.HealthCheckInterval)
	wsCfg := transport.DefaultWebSocketConfig()
	ws := transport.NewWebSocket(wsCfg, fabric, checker)

	promptHandler := prompts.New(reg)
	router := httpserver.New(checkerHandler, metricsReg, ws, promptHandler)
	healthSrv := &http.Server{
		Addr:              ":" + cfg.Server.HealthPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stdio := transport.NewStdio(checker, tracer)

	return &application{
		cfg:            cfg,
		log:            log,
		reg:            reg,
		lc:             lc,
		pipeline:       pipeline,
		fabric:         fabric,
		inv:            inv,
		backend:        resilient,
		stdio:          stdio,
		tasks:          taskSupervisor,
		healthSrv:      healthSrv,
		tracerShutdown: tracerShutdown,
	}, nil
}

func loadManifest(reg *registry.Registry, lc *pool.Lifecycle, cfg *config.Config, path string) error {
	m, err := descriptor.LoadManifest(path)
	if err != nil {
		// a missing manifest is not fatal - the service can still run
		// with tools registered programmatically
		return nil
	}

	bodies := tools.Bodies()
	for _, t := range m.Tools {
		desc := t.ToDescriptor()
		body, ok := bodies[desc.Name]
		if !ok {
			return fmt.Errorf("manifest references unknown tool body %q", desc.Name)
		}
		if err := reg.Register(&descriptor.RegistryEntry{
			Kind:           descriptor.KindTool,
			ToolDescriptor: desc,
			ToolBody:       body,
		}); err != nil {
			return err
		}
	}

	for _, r := range m.Resources {
		desc := r.ToDescriptor()
		if desc.MaxConnections == 0 {
			desc.MaxConnections = cfg.Server.MaxConnsPerResource
		}
		body := tools.CounterResourceBody(desc.Name)
		if err := reg.Register(&descriptor.RegistryEntry{
			Kind:               descriptor.KindResource,
			ResourceDescriptor: desc,
			ResourceBody:       body,
		}); err != nil {
			return err
		}
		p := pool.New(desc, body, cfg.Pool.MaxIdleTime)
		lc.Register(desc.Name, p)
	}

	for _, pr := range m.Prompts {
		desc := pr.ToDescriptor()
		if err := reg.Register(&descriptor.RegistryEntry{
			Kind:             descriptor.KindPrompt,
			PromptDescriptor: desc,
			PromptBody: func(variables, ctx map[string]interface{}) (string, error) {
				return prompts.RenderEntry(desc, variables, ctx)
			},
		}); err != nil {
			return err
		}
	}

	return nil
}

func (a *application) run(ctx context.Context) error {
	errc := make(chan error, 2)

	a.tasks.Run(ctx)

	go func() {
		a.log.Info("health/metrics/ws listening", "addr", a.healthSrv.Addr)
		if err := a.healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("health server: %w", err)
		}
	}()

	go func() {
		errc <- a.stdio.Run(ctx, a.inv)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

func (a *application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.tasks.Stop()

	if err := a.reg.Shutdown(shutdownCtx); err != nil {
		a.log.Error("registry shutdown error", "error", err)
	}
	a.pipeline.Stop()
	if err := a.healthSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("health server shutdown error", "error", err)
	}
	if err := a.backend.Close(); err != nil {
		a.log.Error("storage close error", "error", err)
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(shutdownCtx); err != nil {
			a.log.Error("otel exporter shutdown error", "error", err)
		}
	}
}

func banner(cfg *config.Config) {
	fmt.Println(color.CyanString("----- toolmesh -----"))
	fmt.Println(color.GreenString("health/metrics/ws on :%s", cfg.Server.HealthPort))
	fmt.Println(color.GreenString("stdio transport reading requests from stdin"))
}
