package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/retry"
)

// Config is the root configuration for jobflow.
type Config struct {
	Runner       RunnerConfig
	Schedule     ScheduleConfig
	Store        StoreConfig
	Classifier   ClassifierConfig
	RateLimit    RateLimitConfig
	Browser      BrowserConfig
	Mailbox      MailboxConfig
	Sink         SinkConfig
	Notification NotificationConfig
	Filters      FilterConfig
	Sources      []SourceConfig `validate:"dive"`
}

// RunnerConfig controls how a batch of executions is launched.
type RunnerConfig struct {
	Mode             string `validate:"oneof=sequential parallel"`
	MaxParallel      int    `validate:"gte=1,lte=32"`
	FailFast         bool
	PersistPartial   bool
	ExecutionTimeout time.Duration // zero means unbounded
	StepRetry        RetryConfig
	ClassifyRetry    RetryConfig
}

// RetryConfig is the YAML form of a retry.Policy.
type RetryConfig struct {
	MaxAttempts int `validate:"gte=1,lte=10"`
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

// Policy converts the config into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Timeout:     r.Timeout,
	}
}

// ScheduleConfig drives the `start` daemon.
type ScheduleConfig struct {
	Cron       string // standard 5-field cron expression
	RunOnStart bool
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver   string `validate:"oneof=sqlite postgres memory"`
	Path     string `validate:"required_if=Driver sqlite"`
	DSN      string `validate:"required_if=Driver postgres"`
	MaxConns int32
}

// ClassifierConfig controls the LLM relevance classifier. An empty or "none"
// provider keeps every posting.
type ClassifierConfig struct {
	Provider    string `validate:"omitempty,oneof=openai anthropic gemini none"`
	Model       string
	APIKey      string // expanded from env var by Load
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Keywords    []string // profile of interest rendered into the prompt
}

// Enabled reports whether an LLM provider is configured.
func (c ClassifierConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != "none"
}

// RateLimitConfig controls per-host and per-provider pacing.
type RateLimitConfig struct {
	MinDelay        time.Duration            // minimum gap between page loads on the same host
	HostOverrides   map[string]time.Duration // per-host overrides
	ClassifierDelay time.Duration            // minimum gap between classifier calls
}

// BrowserConfig controls the Chrome driver used by portal sources.
type BrowserConfig struct {
	Headless      bool
	NoSandbox     bool
	UserAgent     string
	ExecPath      string
	ActionTimeout time.Duration
	PageSettle    time.Duration
	DetailBatch   int `validate:"gte=0,lte=100"`
}

// MailboxConfig selects where job mails and one-time codes are read from.
type MailboxConfig struct {
	Type            string `validate:"omitempty,oneof=graph imap"`
	Graph           GraphConfig
	IMAP            IMAPConfig
	OTPTimeout      time.Duration
	OTPPollInterval time.Duration
}

// GraphConfig holds Microsoft Graph app credentials.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	User         string `yaml:"user"`
}

// IMAPConfig holds IMAP connection settings.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
	Folder   string `yaml:"folder"`
}

// SinkConfig controls where vetted listings are written besides the store.
type SinkConfig struct {
	CSVEnabled  bool
	CSVDir      string
	RedisURL    string
	RedisStream string
	RedisMaxLen int64 `validate:"gte=0"`
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type       string `yaml:"type" validate:"omitempty,oneof=log slack"` // "log" or "slack"
	WebhookURL string `yaml:"webhook_url"`                               // required if type is "slack"
}

// FilterConfig holds keyword and location filter settings.
type FilterConfig struct {
	TitleKeywords        []string
	TitleExcludeKeywords []string
	Locations            []string
	ExcludeLocations     []string
}

// SourceConfig is one provider entry with its execution inputs.
type SourceConfig struct {
	Name      string `validate:"required"`
	Enabled   bool
	Username  string
	Password  string
	MaxPages  int `validate:"gte=0"`
	DaysBack  int `validate:"gte=0"`
	OutputDir string
}

// Inputs returns the execution inputs for the source. Zero values are omitted
// so the workflow defaults apply.
func (s SourceConfig) Inputs() map[string]string {
	in := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			in[k] = v
		}
	}
	set("username", s.Username)
	set("password", s.Password)
	set("output_dir", s.OutputDir)
	if s.MaxPages > 0 {
		in["max_pages"] = fmt.Sprint(s.MaxPages)
	}
	if s.DaysBack > 0 {
		in["days_back"] = fmt.Sprint(s.DaysBack)
	}
	return in
}

// EnabledSources returns the names of enabled sources in file order.
func (c *Config) EnabledSources() []string {
	var out []string
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s.Name)
		}
	}
	return out
}

// Source returns the entry for name.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	Runner       rawRunnerConfig    `yaml:"runner"`
	Schedule     rawScheduleConfig  `yaml:"schedule"`
	Store        rawStoreConfig     `yaml:"store"`
	Classifier   rawClassifier      `yaml:"classifier"`
	RateLimit    rawRateLimitConfig `yaml:"rate_limit"`
	Browser      rawBrowserConfig   `yaml:"browser"`
	Mailbox      rawMailboxConfig   `yaml:"mailbox"`
	Sink         rawSinkConfig      `yaml:"sink"`
	Notification NotificationConfig `yaml:"notification"`
	Filters      rawFilterConfig    `yaml:"filters"`
	Sources      []rawSourceConfig  `yaml:"sources"`
}

type rawRunnerConfig struct {
	Mode             string   `yaml:"mode"`
	MaxParallel      int      `yaml:"max_parallel"`
	FailFast         bool     `yaml:"fail_fast"`
	PersistPartial   *bool    `yaml:"persist_partial"`
	ExecutionTimeout string   `yaml:"execution_timeout"`
	StepRetry        rawRetry `yaml:"step_retry"`
	ClassifyRetry    rawRetry `yaml:"classify_retry"`
}

type rawRetry struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
	Timeout     string `yaml:"timeout"`
}

type rawScheduleConfig struct {
	Cron       string `yaml:"cron"`
	RunOnStart *bool  `yaml:"run_on_start"`
}

type rawStoreConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type rawClassifier struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	Timeout     string   `yaml:"timeout"`
	Keywords    []string `yaml:"keywords"`
}

type rawRateLimitConfig struct {
	MinDelay        string            `yaml:"min_delay"`
	HostOverrides   map[string]string `yaml:"host_overrides"`
	ClassifierDelay string            `yaml:"classifier_delay"`
}

type rawBrowserConfig struct {
	Headless      *bool  `yaml:"headless"`
	NoSandbox     bool   `yaml:"no_sandbox"`
	UserAgent     string `yaml:"user_agent"`
	ExecPath      string `yaml:"exec_path"`
	ActionTimeout string `yaml:"action_timeout"`
	PageSettle    string `yaml:"page_settle"`
	DetailBatch   int    `yaml:"detail_batch"`
}

type rawMailboxConfig struct {
	Type            string      `yaml:"type"`
	Graph           GraphConfig `yaml:"graph"`
	IMAP            IMAPConfig  `yaml:"imap"`
	OTPTimeout      string      `yaml:"otp_timeout"`
	OTPPollInterval string      `yaml:"otp_poll_interval"`
}

type rawSinkConfig struct {
	CSV struct {
		Enabled *bool  `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	} `yaml:"csv"`
	Redis struct {
		URL    string `yaml:"url"`
		Stream string `yaml:"stream"`
		MaxLen int64  `yaml:"max_len"`
	} `yaml:"redis"`
}

type rawFilterConfig struct {
	TitleKeywords        []string `yaml:"title_keywords"`
	TitleExcludeKeywords []string `yaml:"title_exclude_keywords"`
	Locations            []string `yaml:"locations"`
	ExcludeLocations     []string `yaml:"exclude_locations"`
}

type rawSourceConfig struct {
	Name      string `yaml:"name"`
	Enabled   *bool  `yaml:"enabled"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	MaxPages  int    `yaml:"max_pages"`
	DaysBack  int    `yaml:"days_back"`
	OutputDir string `yaml:"output_dir"`
}

// durations collects parse errors so Load reports all of them at once.
type durations struct {
	errs []error
}

func (d *durations) parse(field, raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("parse %s %q: %w", field, raw, err))
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
// A .env file next to the config is loaded first; variables already set win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg, err := build(raw)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(raw rawConfig) (*Config, error) {
	var d durations

	retryConfig := func(field string, r rawRetry, def RetryConfig) RetryConfig {
		return RetryConfig{
			MaxAttempts: intOr(r.MaxAttempts, def.MaxAttempts),
			BaseDelay:   d.parse(field+".base_delay", r.BaseDelay, def.BaseDelay),
			MaxDelay:    d.parse(field+".max_delay", r.MaxDelay, def.MaxDelay),
			Timeout:     d.parse(field+".timeout", r.Timeout, def.Timeout),
		}
	}

	hostOverrides := make(map[string]time.Duration)
	for host, v := range raw.RateLimit.HostOverrides {
		hostOverrides[host] = d.parse(fmt.Sprintf("rate_limit.host_overrides[%q]", host), v, 0)
	}

	sources := make([]SourceConfig, 0, len(raw.Sources))
	for _, s := range raw.Sources {
		sources = append(sources, SourceConfig{
			Name:      s.Name,
			Enabled:   boolOr(s.Enabled, true),
			Username:  s.Username,
			Password:  s.Password,
			MaxPages:  s.MaxPages,
			DaysBack:  s.DaysBack,
			OutputDir: s.OutputDir,
		})
	}

	cfg := &Config{
		Runner: RunnerConfig{
			Mode:             stringOr(raw.Runner.Mode, "sequential"),
			MaxParallel:      intOr(raw.Runner.MaxParallel, 4),
			FailFast:         raw.Runner.FailFast,
			PersistPartial:   boolOr(raw.Runner.PersistPartial, true),
			ExecutionTimeout: d.parse("runner.execution_timeout", raw.Runner.ExecutionTimeout, 0),
			StepRetry: retryConfig("runner.step_retry", raw.Runner.StepRetry, RetryConfig{
				MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Timeout: 3 * time.Minute,
			}),
			ClassifyRetry: retryConfig("runner.classify_retry", raw.Runner.ClassifyRetry, RetryConfig{
				MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Timeout: time.Minute,
			}),
		},
		Schedule: ScheduleConfig{
			Cron:       stringOr(raw.Schedule.Cron, "0 8 * * 1-5"),
			RunOnStart: boolOr(raw.Schedule.RunOnStart, true),
		},
		Store: StoreConfig{
			Driver:   stringOr(raw.Store.Driver, "sqlite"),
			Path:     stringOr(raw.Store.Path, "jobflow.db"),
			DSN:      raw.Store.DSN,
			MaxConns: raw.Store.MaxConns,
		},
		Classifier: ClassifierConfig{
			Provider:    raw.Classifier.Provider,
			Model:       raw.Classifier.Model,
			APIKey:      raw.Classifier.APIKey,
			BaseURL:     raw.Classifier.BaseURL,
			MaxTokens:   raw.Classifier.MaxTokens,
			Temperature: raw.Classifier.Temperature,
			Timeout:     d.parse("classifier.timeout", raw.Classifier.Timeout, 30*time.Second),
			Keywords:    raw.Classifier.Keywords,
		},
		RateLimit: RateLimitConfig{
			MinDelay:        d.parse("rate_limit.min_delay", raw.RateLimit.MinDelay, 2*time.Second),
			HostOverrides:   hostOverrides,
			ClassifierDelay: d.parse("rate_limit.classifier_delay", raw.RateLimit.ClassifierDelay, 500*time.Millisecond),
		},
		Browser: BrowserConfig{
			Headless:      boolOr(raw.Browser.Headless, true),
			NoSandbox:     raw.Browser.NoSandbox,
			UserAgent:     raw.Browser.UserAgent,
			ExecPath:      raw.Browser.ExecPath,
			ActionTimeout: d.parse("browser.action_timeout", raw.Browser.ActionTimeout, 30*time.Second),
			PageSettle:    d.parse("browser.page_settle", raw.Browser.PageSettle, 2*time.Second),
			DetailBatch:   raw.Browser.DetailBatch,
		},
		Mailbox: MailboxConfig{
			Type:            raw.Mailbox.Type,
			Graph:           raw.Mailbox.Graph,
			IMAP:            raw.Mailbox.IMAP,
			OTPTimeout:      d.parse("mailbox.otp_timeout", raw.Mailbox.OTPTimeout, 2*time.Minute),
			OTPPollInterval: d.parse("mailbox.otp_poll_interval", raw.Mailbox.OTPPollInterval, 5*time.Second),
		},
		Sink: SinkConfig{
			CSVEnabled:  boolOr(raw.Sink.CSV.Enabled, true),
			CSVDir:      stringOr(raw.Sink.CSV.Dir, "output"),
			RedisURL:    raw.Sink.Redis.URL,
			RedisStream: raw.Sink.Redis.Stream,
			RedisMaxLen: raw.Sink.Redis.MaxLen,
		},
		Notification: raw.Notification,
		Filters: FilterConfig{
			TitleKeywords:        raw.Filters.TitleKeywords,
			TitleExcludeKeywords: raw.Filters.TitleExcludeKeywords,
			Locations:            raw.Filters.Locations,
			ExcludeLocations:     raw.Filters.ExcludeLocations,
		},
		Sources: sources,
	}

	if len(d.errs) > 0 {
		return nil, errors.Join(d.errs...)
	}
	return cfg, nil
}

var structValidator = validator.New()

func validate(cfg *Config) error {
	var errs []error
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q check (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if _, err := cron.ParseStandard(cfg.Schedule.Cron); err != nil {
		errs = append(errs, fmt.Errorf("schedule.cron %q: %w", cfg.Schedule.Cron, err))
	}

	seen := make(map[string]bool)
	for _, s := range cfg.Sources {
		if !model.Source(s.Name).Valid() {
			errs = append(errs, fmt.Errorf("sources: unknown source %q", s.Name))
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("sources: %q listed twice", s.Name))
		}
		seen[s.Name] = true
	}
	if len(cfg.EnabledSources()) == 0 {
		errs = append(errs, errors.New("at least one source must be enabled"))
	}

	if cfg.Notification.Type == "slack" {
		if cfg.Notification.WebhookURL == "" {
			errs = append(errs, errors.New("notification.webhook_url is required when type is \"slack\""))
		} else if !strings.HasPrefix(cfg.Notification.WebhookURL, "https://hooks.slack.com/") {
			errs = append(errs, errors.New("notification.webhook_url must start with https://hooks.slack.com/"))
		}
	}

	if cfg.Classifier.Enabled() {
		if cfg.Classifier.APIKey == "" {
			errs = append(errs, fmt.Errorf("classifier.api_key is required for provider %q", cfg.Classifier.Provider))
		}
		if cfg.Classifier.Model == "" {
			errs = append(errs, fmt.Errorf("classifier.model is required for provider %q", cfg.Classifier.Provider))
		}
	}

	switch cfg.Mailbox.Type {
	case "graph":
		g := cfg.Mailbox.Graph
		if g.TenantID == "" || g.ClientID == "" || g.ClientSecret == "" || g.User == "" {
			errs = append(errs, errors.New("mailbox.graph requires tenant_id, client_id, client_secret and user"))
		}
	case "imap":
		if cfg.Mailbox.IMAP.Host == "" || cfg.Mailbox.IMAP.Username == "" {
			errs = append(errs, errors.New("mailbox.imap requires host and username"))
		}
	}

	return errors.Join(errs...)
}

// fieldPath turns "Config.Runner.MaxParallel" into "runner.max_parallel".
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] >= 'a' && s[i-1] <= 'z' {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
