// Package config loads talker settings from an optional YAML file and
// TALKER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"ai-talker/internal/domain"
	"ai-talker/internal/logging"
)

const (
	envPrefix         = "TALKER_"
	maxConfigFileSize = 1 << 20
)

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Gateway    GatewayConfig    `koanf:"gateway"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Fields     FieldsConfig     `koanf:"fields"`
	Scope      ScopeConfig      `koanf:"scope"`
	Store      StoreConfig      `koanf:"store"`
	Steps      StepsConfig      `koanf:"steps"`
	Server     ServerConfig     `koanf:"server"`
	Limits     LimitsConfig     `koanf:"limits"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// GatewayConfig points at an OpenAI-compatible chat completion API. Set
// either APIKey or TokenParam.
type GatewayConfig struct {
	BaseURL      string        `koanf:"base_url"`
	Endpoint     string        `koanf:"endpoint"`
	Model        string        `koanf:"model"`
	APIKey       string        `koanf:"api_key"`
	APIKeyHeader string        `koanf:"api_key_header"`
	TokenParam   string        `koanf:"token_param"`
	MaxTokens    int           `koanf:"max_tokens"`
	Timeout      time.Duration `koanf:"timeout"`
	RateLimit    float64       `koanf:"rate_limit"`
	Burst        int           `koanf:"burst"`
}

type SupervisorConfig struct {
	MaxTokens  int  `koanf:"max_tokens"`
	AllowJumps bool `koanf:"allow_jumps"`
}

// FieldsConfig selects the field source: none, static, dynamodb or ssm.
type FieldsConfig struct {
	Backend     string            `koanf:"backend"`
	Table       string            `koanf:"table"`
	ParamPrefix string            `koanf:"param_prefix"`
	CacheTTL    time.Duration     `koanf:"cache_ttl"`
	Static      map[string]string `koanf:"static"`
}

type ScopeConfig struct {
	OrgID   string `koanf:"org_id"`
	UseCase string `koanf:"use_case"`
	BotName string `koanf:"bot_name"`
}

func (s ScopeConfig) Scope() domain.Scope {
	return domain.Scope{OrgID: s.OrgID, UseCase: s.UseCase, BotName: s.BotName}
}

// StoreConfig selects the session store: file, redis or dynamodb.
type StoreConfig struct {
	Backend       string        `koanf:"backend"`
	Dir           string        `koanf:"dir"`
	ArchiveDir    string        `koanf:"archive_dir"`
	Table         string        `koanf:"table"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	TTL           time.Duration `koanf:"ttl"`
}

// StepsConfig selects the catalog and default sequence. ExitWords, when
// set, replaces exit, quit and bye.
type StepsConfig struct {
	File      string   `koanf:"file"`
	Sequence  []string `koanf:"sequence"`
	ExitWords []string `koanf:"exit_words"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	DisableMetrics  bool          `koanf:"disable_metrics"`
}

type LimitsConfig struct {
	MaxMessageLength int `koanf:"max_message_length"`
	MaxUserTurns     int `koanf:"max_user_turns"`
	Concurrency      int `koanf:"concurrency"`
}

// Load reads path when it is non-empty, then applies TALKER_* overrides
// (TALKER_GATEWAY_MAX_TOKENS sets gateway.max_tokens), then defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path = strings.TrimSpace(path); path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.applyDefaults(k.Exists)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps TALKER_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config: %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return content, nil
}

// applyDefaults fills zero values. Keys for which set reports true keep an
// explicit zero.
func (c *Config) applyDefaults(set func(key string) bool) {
	setDefault(&c.Log.Level, "info")
	setDefault(&c.Log.Format, "text")

	setDefaultInt(&c.Gateway.MaxTokens, 150)
	setDefaultInt(&c.Gateway.Burst, 1)
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	setDefaultInt(&c.Supervisor.MaxTokens, 16)

	setDefault(&c.Fields.Backend, "none")
	if c.Fields.CacheTTL == 0 {
		c.Fields.CacheTTL = 5 * time.Minute
	}

	setDefault(&c.Store.Backend, "file")
	setDefault(&c.Store.Dir, "conversation_data")
	setDefault(&c.Store.ArchiveDir, c.Store.Dir)
	if c.Store.TTL == 0 && !set("store.ttl") {
		c.Store.TTL = 24 * time.Hour
	}

	setDefault(&c.Server.Addr, ":8000")
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	setDefaultInt(&c.Limits.MaxMessageLength, 2000)
	setDefaultInt(&c.Limits.MaxUserTurns, 50)
	setDefaultInt(&c.Limits.Concurrency, 4)
}

func setDefault(v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		*v = def
	}
}

func setDefaultInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// Validate checks enum values, numeric ranges and backend requirements.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if c.Gateway.MaxTokens < 1 {
		errs = append(errs, errors.New("gateway.max_tokens must be positive"))
	}
	if c.Gateway.RateLimit < 0 {
		errs = append(errs, errors.New("gateway.rate_limit must not be negative"))
	}
	if c.Supervisor.MaxTokens < 1 {
		errs = append(errs, errors.New("supervisor.max_tokens must be positive"))
	}

	switch c.Fields.Backend {
	case "none", "static":
	case "dynamodb":
		if c.Fields.Table == "" {
			errs = append(errs, errors.New("fields.table is required for the dynamodb backend"))
		}
	case "ssm":
		if c.Fields.ParamPrefix == "" {
			errs = append(errs, errors.New("fields.param_prefix is required for the ssm backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("fields.backend %q is not one of none, static, dynamodb, ssm", c.Fields.Backend))
	}

	switch c.Store.Backend {
	case "file":
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	case "dynamodb":
		if c.Store.Table == "" {
			errs = append(errs, errors.New("store.table is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of file, redis, dynamodb", c.Store.Backend))
	}
	if c.Store.TTL < 0 {
		errs = append(errs, errors.New("store.ttl must not be negative"))
	}

	if c.Limits.MaxMessageLength < 1 || c.Limits.MaxUserTurns < 1 || c.Limits.Concurrency < 1 {
		errs = append(errs, errors.New("limits must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Relocate moves relative store directories under base. Lambda only allows
// writes below /tmp.
func (s *StoreConfig) Relocate(base string) {
	if !filepath.IsAbs(s.Dir) {
		s.Dir = filepath.Join(base, s.Dir)
	}
	if !filepath.IsAbs(s.ArchiveDir) {
		s.ArchiveDir = filepath.Join(base, s.ArchiveDir)
	}
}

// NeedsAWS reports whether any configured backend talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.Fields.Backend == "dynamodb" ||
		c.Fields.Backend == "ssm" ||
		c.Store.Backend == "dynamodb" ||
		(c.Gateway.APIKey == "" && c.Gateway.TokenParam != "")
}
