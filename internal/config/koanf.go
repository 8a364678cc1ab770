package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envKeys maps the recognized environment variables onto koanf paths.
// Anything not listed here is ignored.
var envKeys = map[string]string{
	"notion_token":       "notion.token",
	"notion_database_id": "notion.database_id",
	"recurcal_listen":    "listen",
	"recurcal_timezone":  "timezone",
	"log_level":          "log.level",
}

// envTransformFunc returns the koanf path for a variable, or "" to skip it.
// Blank values are skipped so an empty export does not wipe the file value.
func envTransformFunc(key, value string) (string, any) {
	path, ok := envKeys[strings.ToLower(key)]
	if !ok {
		return "", nil
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	return path, value
}

var timeType = reflect.TypeOf(time.Time{})

// stringToTimeHook accepts RFC 3339 timestamps and bare dates (UTC midnight).
func stringToTimeHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != timeType {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

// Load reads the YAML file at path, layers environment overrides on top
// and normalizes the result.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and then loaded.
//   - Environment variables win over file values; see envKeys.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, err
		}
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := k.Load(env.ProviderWithValue("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToTimeHook,
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}
