package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mstavros/corebot/internal/channels"
	"github.com/mstavros/corebot/internal/channels/discordbind"
	"github.com/mstavros/corebot/internal/config"
	"github.com/mstavros/corebot/internal/contextasm"
	"github.com/mstavros/corebot/internal/core"
	"github.com/mstavros/corebot/internal/invoker"
	"github.com/mstavros/corebot/internal/knowledgeclient"
	"github.com/mstavros/corebot/internal/memoryclient"
	"github.com/mstavros/corebot/internal/observability"
	"github.com/mstavros/corebot/internal/pipeline"
	"github.com/mstavros/corebot/internal/reminders"
	"github.com/mstavros/corebot/internal/scheduler"
	"github.com/mstavros/corebot/internal/serializer"
	"github.com/mstavros/corebot/internal/skills"
)

// app bundles every collaborator the Request Execution Core wires together
// at startup, plus the handles needed to stop them cleanly.
type app struct {
	cfg *config.Config

	logger  *observability.Logger
	metrics *observability.Metrics

	channelType channels.Type
	channels    *channels.Registry

	dispatcher *core.Dispatcher
	scheduler  *scheduler.Scheduler
	execStore  *scheduler.SQLiteStore

	skills       *skills.Registry
	reminderDB   *reminders.Store
	reminderWork *reminders.Worker
	captureStore *contextasm.CaptureStore
}

// buildApp loads configPath and constructs every component, wired but not
// started: serialiser → assembler → invoker → pipeline for chat requests,
// scheduler and reminder worker feeding the same pipeline.
func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	})
	metrics := observability.NewMetrics()

	channelRegistry := channels.NewRegistry()
	channelType, err := wireChannelAdapters(cfg, channelRegistry)
	if err != nil {
		return nil, err
	}

	var memClient *memoryclient.Client
	if cfg.Memory.BaseURL != "" {
		memClient, err = memoryclient.New(memoryclient.Config{
			BaseURL: cfg.Memory.BaseURL,
			Timeout: cfg.Memory.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build memory client: %w", err)
		}
	}

	var knowledgeSource contextasm.KnowledgeSource
	if cfg.Knowledge.BaseURL != "" {
		kc, err := knowledgeclient.New(knowledgeclient.Config{
			BaseURL: cfg.Knowledge.BaseURL,
			Timeout: cfg.Knowledge.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build knowledge client: %w", err)
		}
		knowledgeSource = kc
	}

	assemblerOpts := []contextasm.Option{}
	if memClient != nil {
		assemblerOpts = append(assemblerOpts, contextasm.WithMemoryClient(memClient))
	}
	if knowledgeSource != nil {
		assemblerOpts = append(assemblerOpts, contextasm.WithKnowledgeSource(knowledgeSource))
	}
	var captureStore *contextasm.CaptureStore
	if cfg.Capture.Enabled {
		captureStore, err = contextasm.OpenCaptureStore(cfg.Capture.Path, cfg.Capture.MaxEnvelopes)
		if err != nil {
			return nil, fmt.Errorf("open capture store: %w", err)
		}
		assemblerOpts = append(assemblerOpts, contextasm.WithCapture(captureStore))
	}
	assembler := contextasm.New(logger, assemblerOpts...)

	agentInvoker := invoker.New(cfg.Agent, logger, metrics)

	responsePipeline := pipeline.New(channelRegistry, metrics)

	fetcherRegistry := skills.NewFetcherRegistry(cfg.Skills.FetcherTimeout)
	registerDataFetchers(fetcherRegistry)
	skillRegistry := skills.NewRegistry(cfg.Skills.Dir, fetcherRegistry, logger,
		skills.WithWatchDebounce(cfg.Skills.WatchDebounce))
	if err := skillRegistry.Reload(context.Background()); err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}

	chanSerialiser := serializer.New()

	execStore, err := scheduler.OpenSQLiteStore(cfg.Scheduler.ExecutionStorePath)
	if err != nil {
		return nil, fmt.Errorf("open execution store: %w", err)
	}

	schedulerRunner := core.NewSchedulerRunner(
		chanSerialiser,
		assembler,
		agentInvoker,
		responsePipeline,
		skillRegistry,
		channelType,
		logger,
		cfg.Agent.Timeout,
	)

	loc, err := schedulerLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}
	quietStartH, quietStartM, err := config.ParseClockHHMM(cfg.Scheduler.QuietHoursStart)
	if err != nil {
		return nil, fmt.Errorf("scheduler.quiet_hours_start: %w", err)
	}
	quietEndH, quietEndM, err := config.ParseClockHHMM(cfg.Scheduler.QuietHoursEnd)
	if err != nil {
		return nil, fmt.Errorf("scheduler.quiet_hours_end: %w", err)
	}

	sched := scheduler.New(
		scheduler.WithRunner(schedulerRunner),
		scheduler.WithExecutionStore(execStore),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(metrics),
		scheduler.WithDefaultTimezone(loc),
		scheduler.WithQuietHours(quietStartH, quietStartM, quietEndH, quietEndM),
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
		scheduler.WithRetention(cfg.Scheduler.Retention),
		scheduler.WithOverlapPolicy(cfg.Scheduler.OverlapPolicy),
	)
	if err := reloadScheduleDocument(sched, cfg.Scheduler.ScheduleDocument); err != nil {
		return nil, err
	}

	reminderDB, err := reminders.Open(cfg.Reminders.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open reminder store: %w", err)
	}
	deliverer := core.NewReminderDeliverer(responsePipeline, channelType, metrics)
	reminderWorker := reminders.NewWorker(reminderDB, deliverer,
		reminders.WithPollInterval(cfg.Reminders.PollInterval),
		reminders.WithClaimTimeout(cfg.Reminders.ClaimTimeout),
		reminders.WithLogger(logger),
		reminders.WithMetrics(metrics),
	)

	a := &app{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		channelType:  channelType,
		channels:     channelRegistry,
		scheduler:    sched,
		execStore:    execStore,
		skills:       skillRegistry,
		reminderDB:   reminderDB,
		reminderWork: reminderWorker,
		captureStore: captureStore,
	}

	a.dispatcher = core.New(core.Deps{
		Serialiser:     chanSerialiser,
		Assembler:      assembler,
		Invoker:        agentInvoker,
		Pipeline:       responsePipeline,
		Skills:         skillRegistry,
		Memory:         memClient,
		Logger:         logger,
		Metrics:        metrics,
		ChannelType:    channelType,
		IdentityRef:    loadIdentityRef(cfg.IdentityFile),
		RequestTimeout: cfg.Agent.Timeout,
		StatusFunc:     a.statusText,
		ReloadFunc:     a.reload,
	})

	return a, nil
}

// wireChannelAdapters registers one adapter per configured channel and
// returns the adapter type every Request is routed through. discordbind is
// the only concrete binding, so every configured channel entry must name
// "discord".
func wireChannelAdapters(cfg *config.Config, registry *channels.Registry) (channels.Type, error) {
	var primary channels.Type
	for name, ch := range cfg.Channels {
		switch ch.Adapter {
		case "discord":
			adapter, err := discordbind.New(discordbind.Config{Token: ch.Token})
			if err != nil {
				return "", fmt.Errorf("channel %q: %w", name, err)
			}
			registry.Register(adapter)
			primary = adapter.Type()
		default:
			return "", fmt.Errorf("channel %q: unsupported adapter %q", name, ch.Adapter)
		}
	}
	if primary == "" {
		return "", fmt.Errorf("config: at least one channel adapter is required")
	}
	return primary, nil
}

// registerDataFetchers wires the built-in local data fetchers a skill
// document can reference. A skill naming an unregistered data_fetcher
// still runs; its data slot degrades to the sentinel placeholder.
func registerDataFetchers(reg *skills.FetcherRegistry) {
	_ = reg.Register("clock", skills.DataFetcherFunc(func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(fmt.Sprintf(`{"now_utc":%q}`, time.Now().UTC().Format(time.RFC3339))), nil
	}), "")
}

// loadIdentityRef reads path's contents for the envelope's identity/tone
// section. A missing or unset path degrades to an empty section rather
// than failing startup, matching the Context Assembler's never-fail policy.
func loadIdentityRef(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func schedulerLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone %q: %w", name, err)
	}
	return loc, nil
}

func reloadScheduleDocument(sched *scheduler.Scheduler, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schedule document: %w", err)
	}
	if err := sched.Reload(string(data)); err != nil {
		return fmt.Errorf("parse schedule document: %w", err)
	}
	return nil
}

// reload re-reads the schedule document and skill directory, for the in-chat
// "/reload-schedule" command. The reload-schedule subcommand does not call it;
// it builds a fresh app, which parses both from scratch.
func (a *app) reload() error {
	if err := reloadScheduleDocument(a.scheduler, a.cfg.Scheduler.ScheduleDocument); err != nil {
		return err
	}
	return a.skills.Reload(context.Background())
}

// statusText builds the "/status" / `corebot status` report: scheduler
// bindings and next-run times, since that's the only state an operator
// can't already see from the logs.
func (a *app) statusText() string {
	jobs := a.scheduler.Jobs()
	if len(jobs) == 0 {
		return "no scheduled jobs bound"
	}
	out := fmt.Sprintf("%d scheduled job(s) bound:\n", len(jobs))
	for _, j := range jobs {
		next, ok := a.scheduler.NextRun(j.Name)
		if !ok {
			out += fmt.Sprintf("- %s (%s): not scheduled\n", j.Name, j.SkillName)
			continue
		}
		out += fmt.Sprintf("- %s (%s): next run %s\n", j.Name, j.SkillName, next.Format(time.RFC3339))
	}
	return out
}

// Close releases every durable handle the app opened.
func (a *app) Close() {
	if a.execStore != nil {
		_ = a.execStore.Close()
	}
	if a.reminderDB != nil {
		_ = a.reminderDB.Close()
	}
	if a.skills != nil {
		_ = a.skills.Close()
	}
	if a.captureStore != nil {
		_ = a.captureStore.Close()
	}
}
