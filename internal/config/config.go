package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"recurcal/internal/model"
)

// NotionConfig holds the API credential and the database recurrence lives in.
type NotionConfig struct {
	Token      string `yaml:"token" json:"-" validate:"required"`
	DatabaseID string `yaml:"database_id" json:"database_id" validate:"required"`

	// BaseURL and Version override the API endpoint; empty uses the defaults.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	MaxRetries        int     `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`
}

// SyncConfig controls the window a pass looks at.
type SyncConfig struct {
	// LookbackDays reaches back for templates edited after their date.
	LookbackDays  int `yaml:"lookback_days" json:"lookback_days" validate:"gte=1"`
	LookaheadDays int `yaml:"lookahead_days" json:"lookahead_days" validate:"gte=1"`

	// RolloutCutoff: records dated earlier are never processed.
	RolloutCutoff time.Time `yaml:"rollout_cutoff" json:"rollout_cutoff"`

	// SyncContent also rewrites the blocks of already generated
	// occurrences when a template changes. Default true.
	SyncContent *bool `yaml:"sync_content" json:"sync_content"`
}

// Content reports the effective SyncContent value.
func (s SyncConfig) Content() bool {
	return s.SyncContent == nil || *s.SyncContent
}

func (s SyncConfig) Lookback() time.Duration {
	return time.Duration(s.LookbackDays) * 24 * time.Hour
}

func (s SyncConfig) Lookahead() time.Duration {
	return time.Duration(s.LookaheadDays) * 24 * time.Hour
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=json console"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"-" validate:"required"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// Timezone is the IANA zone used for dates that carry neither a zone
	// nor an offset it agrees with.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required,timezone"`

	// RefreshCron schedules the automatic sync (standard 5-field cron).
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"required,cron"`

	Notion     NotionConfig        `yaml:"notion" json:"notion"`
	Sync       SyncConfig          `yaml:"sync" json:"sync"`
	Properties model.PropertyNames `yaml:"properties" json:"properties"`
	Log        LogConfig           `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "UTC"
	defaultRefresh       = "0 * * * *"
	defaultRPS           = 3
	defaultMaxRetries    = 4
	defaultLookbackDays  = 30
	defaultLookaheadDays = 90
)

// DefaultRolloutCutoff is the date before which records are left alone.
var DefaultRolloutCutoff = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	content := true
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		RefreshCron: defaultRefresh,
		Notion: NotionConfig{
			RequestsPerSecond: defaultRPS,
			MaxRetries:        defaultMaxRetries,
		},
		Sync: SyncConfig{
			LookbackDays:  defaultLookbackDays,
			LookaheadDays: defaultLookaheadDays,
			RolloutCutoff: DefaultRolloutCutoff,
			SyncContent:   &content,
		},
		Properties: model.DefaultPropertyNames(),
		Log:        LogConfig{Level: "info", Format: "json"},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.Notion.RequestsPerSecond <= 0 {
		c.Notion.RequestsPerSecond = defaultRPS
	}
	if c.Notion.MaxRetries < 0 {
		c.Notion.MaxRetries = 0
	}
	if c.Sync.LookbackDays <= 0 {
		c.Sync.LookbackDays = defaultLookbackDays
	}
	if c.Sync.LookaheadDays <= 0 {
		c.Sync.LookaheadDays = defaultLookaheadDays
	}
	if c.Sync.RolloutCutoff.IsZero() {
		c.Sync.RolloutCutoff = DefaultRolloutCutoff
	}
	if c.Sync.SyncContent == nil {
		content := true
		c.Sync.SyncContent = &content
	}
	c.Properties.Normalize()

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	case "warning":
		c.Log.Level = "warn"
	default:
		c.Log.Level = "info"
	}
	if c.Log.Format != "console" {
		c.Log.Format = "json"
	}
}

// Location loads the configured default zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Warnings lists settings that load and validate but are likely not what
// the operator meant.
func (c *Config) Warnings() []string {
	var out []string
	if c.Timezone == "UTC" {
		out = append(out, "timezone is UTC: floating template times will not follow daylight saving; set timezone or RECURCAL_TIMEZONE to your IANA zone")
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the config is complete enough to run a sync.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "cron":
			msgs = append(msgs, fmt.Sprintf("%s: invalid cron spec %q", field, fe.Value()))
		case "timezone":
			msgs = append(msgs, fmt.Sprintf("%s: unknown time zone %q", field, fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		}
	}
	return errors.New("invalid config: " + strings.Join(msgs, "; "))
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".recurcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}

// String renders the config for logs with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Notion.Token != "" {
		masked.Notion.Token = "***" + strconv.Itoa(len(c.Notion.Token))
	}
	if c.BasicAuth != nil {
		ba := *c.BasicAuth
		ba.Password = "***"
		masked.BasicAuth = &ba
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return err.Error()
	}
	return string(data)
}
