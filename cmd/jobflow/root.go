package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/amishk599/jobflow/internal/ai"
	"github.com/amishk599/jobflow/internal/browser"
	"github.com/amishk599/jobflow/internal/config"
	"github.com/amishk599/jobflow/internal/filter"
	"github.com/amishk599/jobflow/internal/mailbox"
	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/notifier"
	"github.com/amishk599/jobflow/internal/persist"
	"github.com/amishk599/jobflow/internal/ratelimit"
	"github.com/amishk599/jobflow/internal/scheduler"
	"github.com/amishk599/jobflow/internal/sink"
	"github.com/amishk599/jobflow/internal/source"
	"github.com/amishk599/jobflow/internal/store"
	"github.com/amishk599/jobflow/internal/workflow"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "jobflow",
	Short: "Job-posting workflow engine",
	Long:  "jobflow runs one extraction workflow per job source, classifies the postings and stores new ones.",
	// Bare `jobflow` runs the daemon, like `jobflow start`.
	RunE:          runStart,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: JOBFLOW_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > JOBFLOW_CONFIG env var > "./config.yaml"
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("JOBFLOW_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	return newLogger(os.Stdout, dbg)
}

func newLogger(w io.Writer, dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func setupNotifier(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) model.Notifier {
	switch cfg.Notification.Type {
	case "slack":
		logger.Info("using slack notifier")
		return notifier.NewSlackNotifier(cfg.Notification.WebhookURL, httpClient, logger)
	default:
		return notifier.NewLogNotifier(logger)
	}
}

// recordStore is what the CLI needs from a configured store.
type recordStore interface {
	model.RecordStore
	model.RecordQuerier
	model.ExecutionRecorder
	io.Closer
}

type nopCloser struct{ *store.MemoryStore }

func (nopCloser) Close() error { return nil }

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (recordStore, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := store.NewPostgresStore(ctx, store.PostgresConfig{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres store")
		return s, nil
	case "memory":
		logger.Info("using in-memory store, nothing will be kept")
		return nopCloser{store.NewMemoryStore()}, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite store", "path", cfg.Path)
		return s, nil
	}
}

func setupClassifier(ctx context.Context, cfg *config.Config, limiter *ratelimit.KeyedLimiter, logger *slog.Logger) (model.Classifier, error) {
	cc := cfg.Classifier
	if !cc.Enabled() {
		logger.Info("classifier disabled, every posting is kept")
		return ai.NewNopClassifier(), nil
	}
	provider, err := ai.NewProvider(ctx, ai.ProviderConfig{
		Provider:    cc.Provider,
		Model:       cc.Model,
		APIKey:      cc.APIKey,
		BaseURL:     cc.BaseURL,
		MaxTokens:   cc.MaxTokens,
		Temperature: cc.Temperature,
		Timeout:     cc.Timeout,
	}, &http.Client{Timeout: cc.Timeout})
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	logger.Info("classifier enabled", "provider", cc.Provider, "model", cc.Model)
	c := ai.NewLLMClassifier(provider, ai.ClassifyTemplate, cc.Keywords, logger)
	return ratelimit.NewRateLimitedClassifier(c, limiter, "llm:"+cc.Provider), nil
}

func setupMailbox(ctx context.Context, cfg config.MailboxConfig, logger *slog.Logger) mailbox.Mailbox {
	switch cfg.Type {
	case "graph":
		return mailbox.NewGraphMailbox(ctx, mailbox.GraphConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			User:         cfg.Graph.User,
		}, logger)
	case "imap":
		return mailbox.NewIMAPMailbox(mailbox.IMAPConfig{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			UseTLS:   cfg.IMAP.UseTLS,
			Folder:   cfg.IMAP.Folder,
		}, logger)
	default:
		logger.Warn("no mailbox configured, mail sources and one-time codes are unavailable")
		return nil
	}
}

// setupSink builds the output sinks. The returned cleanup closes any
// connections opened here.
func setupSink(cfg config.SinkConfig, logger *slog.Logger) (model.OutputSink, func(), error) {
	var sinks sink.MultiSink
	cleanup := func() {}
	if cfg.CSVEnabled {
		sinks = append(sinks, sink.NewCSVSink(cfg.CSVDir, logger))
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		cleanup = func() { _ = client.Close() }
		sinks = append(sinks, sink.NewRedisSink(client, cfg.RedisStream, cfg.RedisMaxLen, logger))
		logger.Info("publishing listings to redis", "stream", cfg.RedisStream)
	}
	switch len(sinks) {
	case 0:
		return nil, cleanup, nil
	case 1:
		return sinks[0], cleanup, nil
	default:
		return sinks, cleanup, nil
	}
}

// buildRegistry wires the provider graphs against the configured capabilities.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*workflow.Registry, error) {
	overrides := make(map[string]time.Duration, len(cfg.RateLimit.HostOverrides)+1)
	for host, d := range cfg.RateLimit.HostOverrides {
		overrides[host] = d
	}
	if cfg.Classifier.Enabled() {
		overrides["llm:"+cfg.Classifier.Provider] = cfg.RateLimit.ClassifierDelay
	}
	limiter := ratelimit.NewKeyedLimiter(cfg.RateLimit.MinDelay, overrides)

	classifier, err := setupClassifier(ctx, cfg, limiter, logger)
	if err != nil {
		return nil, err
	}

	driver := browser.NewChromeDriver(browser.ChromeConfig{
		Headless:      cfg.Browser.Headless,
		NoSandbox:     cfg.Browser.NoSandbox,
		UserAgent:     cfg.Browser.UserAgent,
		ExecPath:      cfg.Browser.ExecPath,
		ActionTimeout: cfg.Browser.ActionTimeout,
	}, logger)

	deps := source.Deps{
		Driver:     driver,
		Mailbox:    setupMailbox(ctx, cfg.Mailbox, logger),
		Classifier: classifier,
		Filter: filter.NewKeywordFilter(
			cfg.Filters.TitleKeywords,
			cfg.Filters.TitleExcludeKeywords,
			cfg.Filters.Locations,
			cfg.Filters.ExcludeLocations,
		),
		Limiter:        limiter,
		StepPolicy:     cfg.Runner.StepRetry.Policy(),
		ClassifyPolicy: cfg.Runner.ClassifyRetry.Policy(),
		OTPWait: mailbox.OTPWait{
			Timeout:      cfg.Mailbox.OTPTimeout,
			PollInterval: cfg.Mailbox.OTPPollInterval,
		},
		PageSettle:  cfg.Browser.PageSettle,
		DetailBatch: cfg.Browser.DetailBatch,
		Logger:      logger,
	}

	reg := workflow.NewRegistry(source.Table(deps))
	for name, err := range reg.Errors() {
		logger.Error("workflow failed validation", "workflow", name, "error", err)
	}
	return reg, nil
}

// buildRequests turns source names into run requests. Inputs come from the
// config entry, overridden per key by the inputs file.
func buildRequests(cfg *config.Config, names []string, fileInputs map[string]map[string]string) []scheduler.Request {
	reqs := make([]scheduler.Request, 0, len(names))
	for _, name := range names {
		sc, _ := cfg.Source(name)
		in := config.MergeInputs(sc.Inputs(), fileInputs[name])
		reqs = append(reqs, scheduler.Request{Workflow: name, Input: workflow.Input(in)})
	}
	return reqs
}

func runnerOptions(cfg config.RunnerConfig) scheduler.Options {
	return scheduler.Options{
		Mode:             scheduler.Mode(cfg.Mode),
		MaxParallel:      cfg.MaxParallel,
		FailFast:         cfg.FailFast,
		PersistPartial:   cfg.PersistPartial,
		ExecutionTimeout: cfg.ExecutionTimeout,
	}
}

// app bundles everything a run needs. close releases the store and sinks.
type app struct {
	cfg    *config.Config
	store  recordStore
	runner *scheduler.Runner
	close  func()
}

func newApp(ctx context.Context, cfg *config.Config, opts scheduler.Options, dryRun bool, logger *slog.Logger, extra ...scheduler.RunnerOption) (*app, error) {
	storeCfg := cfg.Store
	if dryRun {
		logger.Info("dry-run mode: nothing is stored, written or notified")
		storeCfg.Driver = "memory"
	}
	st, err := openStore(ctx, storeCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	reg, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	runnerOpts := []scheduler.RunnerOption{scheduler.WithRecorder(st)}
	cleanup := func() {}
	if !dryRun {
		out, c, err := setupSink(cfg.Sink, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		cleanup = c
		if out != nil {
			runnerOpts = append(runnerOpts, scheduler.WithSink(out))
		}
		httpClient := &http.Client{Timeout: 30 * time.Second}
		runnerOpts = append(runnerOpts, scheduler.WithNotifier(setupNotifier(cfg, httpClient, logger)))
	}
	runnerOpts = append(runnerOpts, extra...)

	runner := scheduler.NewRunner(reg, persist.NewPersister(st, logger), opts, logger, runnerOpts...)
	return &app{
		cfg:    cfg,
		store:  st,
		runner: runner,
		close: func() {
			cleanup()
			if err := st.Close(); err != nil {
				logger.Warn("closing store", "error", err)
			}
		},
	}, nil
}
