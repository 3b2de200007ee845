package main

import (
	"context"
	"log/slog"

	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/api"
	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/bootstrap"
	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/clients"
	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/config"
	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/store"
	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/telemetry"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	manager      *clients.MySQLManager
	coordinator  *bootstrap.Coordinator
	router       *api.Router
}

// buildAppContext wires the process: OTEL (best-effort), the descriptor
// resolver, the readiness probes, the connection manager, the bootstrap
// coordinator, the message store, the optional cache, and the HTTP router.
func buildAppContext(cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg}

	// OTEL is best-effort: a missing collector must never block startup.
	// An empty endpoint disables telemetry entirely.
	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Info("telemetry disabled (no OTLP endpoint configured)")
	} else {
		tp, err := telemetry.InitProvider(
			context.Background(),
			cfg.Telemetry.OTLPEndpoint,
			cfg.Telemetry.ServiceName,
			cfg.Telemetry.OTLPInsecure,
		)
		if err != nil {
			slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		} else {
			app.otelProvider = tp
		}
	}

	// The resolver is shared by the boot-time coordinator and by the
	// manager's reconnect path, so reconnects pick up a rebuilt descriptor
	// rather than reusing the boot-time one.
	resolve := func() (config.Descriptor, error) {
		return config.Resolve(cfg.Database)
	}

	bootProbe := bootstrap.NewProbe(bootstrap.PolicyFromConfig(cfg.Bootstrap))

	// Reconnects during normal operation get a much shorter budget than the
	// boot-time probe: a request-path caller is waiting.
	reconnectPolicy := bootstrap.PolicyFromConfig(cfg.Bootstrap)
	if cfg.Bootstrap.ReconnectTimeout > 0 {
		reconnectPolicy.Budget = cfg.Bootstrap.ReconnectTimeout
	}
	reconnectProbe := bootstrap.NewProbe(reconnectPolicy)

	app.manager = clients.NewMySQLManager(resolve, reconnectProbe, clients.NewCircuitBreaker("mysql"))
	app.coordinator = bootstrap.New(resolve, bootProbe, app.manager)

	messages := store.NewMessages(app.manager)
	probes := []api.Prober{app.manager}

	if cfg.Cache.Addr != "" {
		cache := clients.NewRedisCache(cfg.Cache, clients.NewCircuitBreaker("redis"))
		probes = append(probes, cache)
		app.router = api.NewRouter(cfg.Telemetry.ServiceName, app.coordinator, messages, cache, probes)
	} else {
		app.router = api.NewRouter(cfg.Telemetry.ServiceName, app.coordinator, messages, nil, probes)
	}

	return app, nil
}
