package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/auth/surface"
	"github.com/Iron-Ham/uplink/internal/config"
	"github.com/Iron-Ham/uplink/internal/logging"
	"github.com/Iron-Ham/uplink/internal/metrics"
	"github.com/Iron-Ham/uplink/internal/orchestrator"
	"github.com/Iron-Ham/uplink/internal/provider"
	"github.com/Iron-Ham/uplink/internal/provider/localfs"
	"github.com/Iron-Ham/uplink/internal/provider/webhook"
)

// app wires the configured providers into an orchestrator for one command.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	orch    *orchestrator.Orchestrator
	router  *provider.Router
	store   *auth.SQLiteStore
	render  *renderer
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		if l, err := logging.NewLogger(cfg.LoggerOptions()); err != nil {
			// Fall back to no logging rather than failing the command
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to create logger: %v\n", err)
		} else {
			logger = l
		}
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Default(),
		render:  newRenderer(cmd.OutOrStdout()),
	}

	surfaceOpts := []surface.Option{
		surface.WithLogger(logger),
		surface.WithNotify(func(authURL string) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Open this URL to sign in:\n  %s\n", authURL)
		}),
	}
	if !cfg.Auth.OpenBrowser {
		surfaceOpts = append(surfaceOpts, surface.WithOpener(nil))
	}

	oc := cfg.OrchestratorConfig()
	oc.Auth.Surface = surface.NewLoopback(surfaceOpts...)
	if path := cfg.SessionDBPath(); path != "" {
		store, err := auth.OpenSQLiteStore(path)
		if err != nil {
			logger.Warn("session store unavailable, sessions will not persist", "path", path, "error", err)
		} else {
			a.store = store
			oc.Auth.Store = store
		}
	}

	a.orch, err = orchestrator.New(oc,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	for _, id := range cfg.ProviderIDs() {
		pc := cfg.Providers[id]
		adapter, err := buildAdapter(pc)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		a.orch.RegisterProvider(id, adapter)
		if pc.OAuth != nil {
			if err := a.orch.RegisterFlow(id, pc.OAuth.Flow()); err != nil {
				a.close()
				return nil, fmt.Errorf("provider %s: %w", id, err)
			}
		}
	}

	a.router, err = cfg.Routing.Router()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("routing: %w", err)
	}
	return a, nil
}

func buildAdapter(pc config.ProviderConfig) (provider.Adapter, error) {
	switch pc.Type {
	case config.ProviderTypeLocalFS:
		var opts []localfs.Option
		if pc.BaseURL != "" {
			opts = append(opts, localfs.WithBaseURL(pc.BaseURL))
		}
		return localfs.NewOS(pc.Root, opts...), nil
	case config.ProviderTypeWebhook:
		return webhook.New(webhook.Config{
			Endpoint:     pc.Endpoint,
			Variant:      provider.Variant(pc.Variant),
			FieldName:    pc.FieldName,
			RequireToken: pc.RequireToken,
		})
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// resolveProvider returns explicit when set, otherwise the routed provider
// for name.
func (a *app) resolveProvider(explicit, name string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if id, ok := a.router.Route(name); ok {
		return id, nil
	}
	return "", fmt.Errorf("no provider for %s: pass --provider or configure routing.default", name)
}

func (a *app) close() {
	if a.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.orch.Close(ctx); err != nil {
			a.logger.Warn("pipelines still running at exit", "error", err)
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logger.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
