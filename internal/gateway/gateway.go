// Package gateway is the service layer that wires the orchestrator
// together: provider registry, pending-task tracker, poll loops,
// dispatcher and the fallback escalator. Channels and the HTTP API talk
// to the gateway; nothing below it knows how requests arrive.
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aviv90/tasker-server-sub010/internal/config"
	"github.com/aviv90/tasker-server-sub010/internal/dispatch"
	"github.com/aviv90/tasker-server-sub010/internal/fallback"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/media"
	"github.com/aviv90/tasker-server-sub010/internal/notify"
	"github.com/aviv90/tasker-server-sub010/internal/poll"
	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/tasks"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Gateway coordinates the generation pipeline.
type Gateway struct {
	config     *config.Config
	registry   *providers.Registry
	store      tasks.Store
	tracker    *tasks.Tracker
	poller     *poll.Poller
	dispatcher *dispatch.Dispatcher
	escalator  *fallback.Escalator
	janitor    *tasks.Janitor
	mediaStore *media.MediaStore
	watcher    *providers.TableWatcher
	suno       *providers.Suno
	startTime  time.Time
}

// New builds the full pipeline from configuration. Providers whose
// credentials are missing are skipped with a warning; the service runs
// with whatever subset came up.
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	g := &Gateway{
		config:    cfg,
		startTime: time.Now(),
	}

	mediaStore, err := media.NewMediaStore(media.StoreConfig{
		Dir:     cfg.Media.Dir,
		TTL:     time.Duration(cfg.Media.TTLHours) * time.Hour,
		MaxSize: int64(cfg.Media.MaxSizeMB) * 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create media store: %w", err)
	}
	g.mediaStore = mediaStore

	store, err := openStore(cfg.Tasks)
	if err != nil {
		return nil, err
	}
	g.store = store
	L_info("gateway: task store ready", "store", cfg.Tasks.Store)

	notifier := notify.NewEventNotifier()
	g.tracker = tasks.NewTracker(store, mediaStore, notifier)

	pollInterval := time.Duration(cfg.Tasks.PollIntervalSecs) * time.Second
	pollBudget := time.Duration(cfg.Tasks.PollBudgetMins) * time.Minute
	g.poller = poll.New(pollInterval, pollBudget, g.tracker)

	g.registry = providers.NewRegistry()
	g.registerProviders(ctx, cfg)
	if len(g.registry.List()) == 0 {
		return nil, fmt.Errorf("no providers configured, set at least one API key")
	}

	if err := g.loadTable(cfg.Providers.TablePath); err != nil {
		return nil, err
	}

	g.dispatcher = dispatch.New(g.registry, g.tracker, g.poller, notifier, dispatch.Config{
		CallbackBudget: time.Duration(cfg.Tasks.CallbackBudgetMins) * time.Minute,
		PollBudget:     pollBudget,
		PollInterval:   pollInterval,
	})

	simplify := fallback.NewRuleSimplifier()
	var generalize fallback.Transformer
	if rewriter, err := fallback.NewPromptRewriter(cfg.Providers.Anthropic); err != nil {
		L_debug("gateway: rule-based prompt rewriter in use", "reason", err)
		generalize = fallback.RuleGeneralizer{}
	} else {
		L_info("gateway: LLM prompt rewriter enabled", "model", cfg.Providers.Anthropic.Model)
		generalize = rewriter
	}
	g.escalator = fallback.New(g.registry, g.dispatcher, g.tracker, notifier, simplify, generalize)

	// Async failures re-enter the recovery ladder; completed tasks with a
	// chained request go back through dispatch.
	g.tracker.SetFailureHandler(g.escalator.Resume)
	g.tracker.SetFollowUpHandler(g.handleFollowUp)

	janitor, err := tasks.NewJanitor(g.tracker, cfg.Tasks.JanitorSchedule)
	if err != nil {
		return nil, err
	}
	g.janitor = janitor

	return g, nil
}

// registerProviders constructs every provider adapter whose configuration
// is usable.
func (g *Gateway) registerProviders(ctx context.Context, cfg *config.Config) {
	if p, err := providers.NewOpenAI(cfg.Providers.OpenAI); err != nil {
		L_warn("gateway: openai provider disabled", "error", err)
	} else {
		g.registry.Register(p)
	}

	if p, err := providers.NewGemini(ctx, cfg.Providers.Gemini); err != nil {
		L_warn("gateway: gemini provider disabled", "error", err)
	} else {
		g.registry.Register(p)
	}

	if p, err := providers.NewVeo(ctx, cfg.Providers.Gemini); err != nil {
		L_warn("gateway: veo provider disabled", "error", err)
	} else {
		g.registry.Register(p)
	}

	if p, err := providers.NewGrok(cfg.Providers.Grok); err != nil {
		L_warn("gateway: grok provider disabled", "error", err)
	} else {
		g.registry.Register(p)
	}

	cbURL, err := g.callbackURL("suno")
	if err != nil {
		L_warn("gateway: suno provider disabled", "error", err)
	} else if p, err := providers.NewSuno(cfg.Providers.Suno, cbURL); err != nil {
		L_warn("gateway: suno provider disabled", "error", err)
	} else {
		g.suno = p
		g.registry.Register(p)
	}
}

// callbackURL builds the externally reachable webhook address handed to a
// provider at submission time.
func (g *Gateway) callbackURL(provider string) (string, error) {
	base := g.config.Server.PublicBaseURL
	if base == "" {
		return "", fmt.Errorf("publicBaseUrl not configured, callbacks cannot be received")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid publicBaseUrl: %w", err)
	}
	u = u.JoinPath("callbacks", provider)
	if token := g.config.Auth.CallbackToken; token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// loadTable installs the provider capability table and arms hot reload
// when a file path is configured. An empty path keeps the registry's
// built-in table.
func (g *Gateway) loadTable(path string) error {
	if path == "" {
		return nil
	}
	table, err := providers.LoadTable(path)
	if err != nil {
		return fmt.Errorf("failed to load provider table: %w", err)
	}
	g.registry.SetTable(table)

	watcher, err := providers.WatchTable(path, func(t providers.Table) {
		g.registry.SetTable(t)
	})
	if err != nil {
		L_warn("gateway: provider table watcher not started", "path", path, "error", err)
		return nil
	}
	g.watcher = watcher
	return nil
}

// openStore picks the task store backend.
func openStore(cfg config.TasksConfig) (tasks.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return tasks.NewMemoryStore(), nil
	case "sqlite":
		store, err := tasks.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open task store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown task store %q", cfg.Store)
	}
}

// Start launches background work: media cleanup, the deadline janitor
// and recovery of tasks left pending by the previous process.
func (g *Gateway) Start(ctx context.Context) {
	L_info("gateway: starting background tasks")
	g.mediaStore.Start()
	g.janitor.Start()
	g.resumePending(ctx)
}

// Stop shuts the pipeline down. Pending tasks stay in the store for the
// next process to resume.
func (g *Gateway) Stop() {
	L_info("gateway: shutting down")
	g.janitor.Stop()
	g.poller.Stop()
	if g.watcher != nil {
		if err := g.watcher.Stop(); err != nil {
			L_warn("gateway: table watcher stop failed", "error", err)
		}
	}
	if err := g.store.Close(); err != nil {
		L_warn("gateway: task store close failed", "error", err)
	}
	g.mediaStore.Close()
}

// MediaStore returns the artifact store.
func (g *Gateway) MediaStore() *media.MediaStore {
	return g.mediaStore
}

// Config returns the loaded configuration.
func (g *Gateway) Config() *config.Config {
	return g.config
}

// Uptime reports how long the gateway has been running.
func (g *Gateway) Uptime() time.Duration {
	return time.Since(g.startTime)
}

// ProviderInfo describes one registered provider for status surfaces.
type ProviderInfo struct {
	ID    string            `json:"id"`
	Label string            `json:"label"`
	Kinds []types.MediaKind `json:"kinds"`
}

// Providers lists the registered providers and their capabilities.
func (g *Gateway) Providers() []ProviderInfo {
	list := g.registry.List()
	infos := make([]ProviderInfo, 0, len(list))
	for _, p := range list {
		infos = append(infos, ProviderInfo{
			ID:    p.ID(),
			Label: p.Label(),
			Kinds: p.Kinds(),
		})
	}
	return infos
}

// PendingTasks lists every entry still waiting on a provider.
func (g *Gateway) PendingTasks(ctx context.Context) ([]*tasks.Task, error) {
	return g.store.List(ctx)
}

// TaskByID returns the pending entry for a service-side task id, or
// tasks.ErrTaskNotFound once the task reached a terminal state.
func (g *Gateway) TaskByID(ctx context.Context, id string) (*tasks.Task, error) {
	return g.store.GetByTaskID(ctx, id)
}
