// Package app assembles talker components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ai-talker/internal/config"
	"ai-talker/internal/dialogue"
	"ai-talker/internal/fields"
	"ai-talker/internal/integrations/openai"
	"ai-talker/internal/integrations/paramstore"
	"ai-talker/internal/logging"
	"ai-talker/internal/observability"
	"ai-talker/internal/repository"
	"ai-talker/internal/steps"
	"ai-talker/internal/usecase"
)

// App holds the wired components for one process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Catalog  *steps.Registry
	Source   fields.Source
	Gateway  dialogue.Gateway
	Engine   *dialogue.Engine
	Store    usecase.SessionStore
	Archiver *repository.FileStore
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	closers []func() error
}

type builder struct {
	cfg   *config.Config
	hooks dialogue.Hooks

	gateway dialogue.Gateway
	awsCfg  *aws.Config
	params  *paramstore.Client
}

type Option func(*builder)

// WithHooks adds dialogue hooks after the metrics hooks.
func WithHooks(h dialogue.Hooks) Option {
	return func(b *builder) { b.hooks = b.hooks.Merge(h) }
}

// WithGateway replaces the configured model client.
func WithGateway(g dialogue.Gateway) Option {
	return func(b *builder) { b.gateway = g }
}

// WithAWSConfig skips loading the default AWS configuration.
func WithAWSConfig(cfg aws.Config) Option {
	return func(b *builder) { b.awsCfg = &cfg }
}

// New builds every component cfg selects. AWS configuration is loaded up
// front, and only when a selected backend needs it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &builder{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	if cfg.NeedsAWS() {
		if _, err := b.aws(ctx); err != nil {
			return nil, err
		}
	}

	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = observability.NewMetrics(a.Registry)

	var err error
	if a.Catalog, err = b.catalog(); err != nil {
		return nil, err
	}
	if a.Source, err = b.source(ctx); err != nil {
		return nil, err
	}
	gw, err := b.modelGateway(ctx)
	if err != nil {
		return nil, err
	}
	a.Gateway = a.Metrics.InstrumentGateway(gw)

	sup := dialogue.NewSupervisor(a.Gateway,
		dialogue.WithSupervisorMaxTokens(cfg.Supervisor.MaxTokens),
		dialogue.AllowJumps(cfg.Supervisor.AllowJumps),
	)
	engineOpts := []dialogue.Option{
		dialogue.WithLogger(logger),
		dialogue.WithHooks(a.Metrics.Hooks().Merge(b.hooks)),
		dialogue.WithSupervisor(sup),
		dialogue.WithMaxTokens(cfg.Gateway.MaxTokens),
	}
	if len(cfg.Steps.ExitWords) > 0 {
		engineOpts = append(engineOpts, dialogue.WithExitWords(cfg.Steps.ExitWords...))
	}
	a.Engine, err = dialogue.NewEngine(a.Catalog, a.Source, a.Gateway, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: engine: %w", err)
	}

	if err := b.store(ctx, a); err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.Archiver, err = repository.NewFileStore(cfg.Store.ArchiveDir); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("app: archive: %w", err)
	}
	return a, nil
}

// ConversationService wraps the engine and store for request handling.
func (a *App) ConversationService() (*usecase.ConversationService, error) {
	return usecase.NewConversationService(a.Engine, a.Store, a.Source,
		usecase.WithArchiver(a.Archiver),
		usecase.WithLogger(a.Logger),
		usecase.WithLimits(a.Config.Limits.MaxMessageLength, a.Config.Limits.MaxUserTurns),
	)
}

// MetricsHandler serves the app registry, or nil when metrics are disabled.
func (a *App) MetricsHandler() http.Handler {
	if a.Config.Server.DisableMetrics {
		return nil
	}
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (b *builder) aws(ctx context.Context) (aws.Config, error) {
	if b.awsCfg != nil {
		return *b.awsCfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
	}
	b.awsCfg = &cfg
	return cfg, nil
}

func (b *builder) paramStore(ctx context.Context) (*paramstore.Client, error) {
	if b.params != nil {
		return b.params, nil
	}
	awsCfg, err := b.aws(ctx)
	if err != nil {
		return nil, err
	}
	p, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithCacheTTL(b.cfg.Fields.CacheTTL))
	if err != nil {
		return nil, fmt.Errorf("app: paramstore: %w", err)
	}
	b.params = p
	return p, nil
}

func (b *builder) catalog() (*steps.Registry, error) {
	if b.cfg.Steps.File == "" {
		return steps.Default(), nil
	}
	r, err := steps.LoadFile(b.cfg.Steps.File)
	if err != nil {
		return nil, fmt.Errorf("app: step catalog: %w", err)
	}
	return r, nil
}

func (b *builder) source(ctx context.Context) (fields.Source, error) {
	switch b.cfg.Fields.Backend {
	case "static":
		return fields.Map(b.cfg.Fields.Static), nil
	case "dynamodb":
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		return fields.NewDynamoSource(awsdynamodb.NewFromConfig(awsCfg), b.cfg.Fields.Table)
	case "ssm":
		p, err := b.paramStore(ctx)
		if err != nil {
			return nil, err
		}
		return fields.NewParamSource(p, b.cfg.Fields.ParamPrefix)
	default:
		return fields.None{}, nil
	}
}

func (b *builder) modelGateway(ctx context.Context) (dialogue.Gateway, error) {
	if b.gateway != nil {
		return b.gateway, nil
	}
	gc := b.cfg.Gateway
	opts := []openai.Option{
		openai.WithHTTPClient(&http.Client{Timeout: gc.Timeout}),
		openai.WithModel(gc.Model),
		openai.WithAPIKeyHeader(gc.APIKeyHeader),
		openai.WithRateLimit(gc.RateLimit, gc.Burst),
	}
	if gc.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(gc.BaseURL))
	}
	if gc.Endpoint != "" {
		opts = append(opts, openai.WithEndpoint(gc.Endpoint))
	}
	if gc.APIKey != "" {
		opts = append(opts, openai.WithAPIKey(gc.APIKey))
	} else if gc.TokenParam != "" {
		p, err := b.paramStore(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, openai.WithTokenParameter(p, gc.TokenParam))
	}
	c, err := openai.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("app: gateway: %w", err)
	}
	return c, nil
}

func (b *builder) store(ctx context.Context, a *App) error {
	sc := b.cfg.Store
	switch sc.Backend {
	case "redis":
		s := repository.NewRedisStore(sc.RedisAddr, sc.RedisPassword, sc.RedisDB, repository.WithTTL(sc.TTL))
		a.closers = append(a.closers, s.Close)
		if err := s.Ping(ctx); err != nil {
			return fmt.Errorf("app: redis: %w", err)
		}
		a.Store = s
	case "dynamodb":
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return err
		}
		c, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), sc.Table)
		if err != nil {
			return fmt.Errorf("app: dynamodb store: %w", err)
		}
		a.Store = c
	default:
		s, err := repository.NewFileStore(sc.Dir)
		if err != nil {
			return fmt.Errorf("app: file store: %w", err)
		}
		a.Store = s
	}
	return nil
}
