// Package config loads roomdag configuration from YAML, a .env file and
// ROOMDAG_* environment variables, and validates the result against an
// embedded CUE schema.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/roomdag/internal/indexer"
	"github.com/roach88/roomdag/internal/refs"
	"github.com/roach88/roomdag/internal/store"
)

// DefaultMaxEventSize matches the federation limit on a PDU.
const DefaultMaxEventSize = 65536

// Config is the complete roomdag configuration.
type Config struct {
	Database   DatabaseConfig  `yaml:"database" json:"database"`
	ServerName string          `yaml:"server_name" json:"server_name"`
	Refs       RefsConfig      `yaml:"refs" json:"refs"`
	Admission  AdmissionConfig `yaml:"admission" json:"admission"`
	Log        LogConfig       `yaml:"log" json:"log"`
}

// DatabaseConfig locates the pebble store.
type DatabaseConfig struct {
	Path     string `yaml:"path" json:"path"`
	Sync     bool   `yaml:"sync" json:"sync"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

// RefsConfig selects the edge kinds the indexer emits.
type RefsConfig struct {
	Kinds           []string `yaml:"kinds" json:"kinds"`
	Horizon         bool     `yaml:"horizon" json:"horizon"`
	ReadReceiptType string   `yaml:"read_receipt_type" json:"read_receipt_type"`
}

// AdmissionConfig tunes the engine.
type AdmissionConfig struct {
	Authorize    bool      `yaml:"authorize" json:"authorize"`
	Shards       int       `yaml:"shards" json:"shards"`
	QueueSize    int       `yaml:"queue_size" json:"queue_size"`
	MaxEventSize SizeBytes `yaml:"max_event_size" json:"max_event_size"`
}

// LogConfig sets the slog level.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// SizeBytes is a byte count read from strings like "64KiB" or plain integers.
type SizeBytes int64

// UnmarshalYAML accepts humanized sizes.
func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// String renders the size for humans.
func (s SizeBytes) String() string {
	return humanize.IBytes(uint64(s))
}

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	kinds := make([]string, 0, len(refs.AllKinds()))
	for _, k := range refs.AllKinds() {
		kinds = append(kinds, k.String())
	}
	return Config{
		Database:   DatabaseConfig{Path: "roomdag.db"},
		ServerName: "localhost",
		Refs: RefsConfig{
			Kinds:           kinds,
			Horizon:         true,
			ReadReceiptType: indexer.DefaultReadReceiptType,
		},
		Admission: AdmissionConfig{
			Authorize:    true,
			Shards:       4,
			QueueSize:    1024,
			MaxEventSize: DefaultMaxEventSize,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadOptions locate the configuration sources.
type LoadOptions struct {
	// Path is a YAML file. Empty means defaults only.
	Path string
	// EnvFile is a dotenv file loaded into the process environment before
	// overrides apply. A missing file is ignored.
	EnvFile string
}

// Load builds a Config: defaults, then the YAML file, then ROOMDAG_*
// environment variables. The result is validated before it is returned.
func Load(opts LoadOptions) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	cfg := Default()
	if opts.Path != "" {
		f, err := os.Open(opts.Path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := Decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", opts.Path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML from r onto cfg. Unknown keys are an error.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("ROOMDAG_DB_PATH", &cfg.Database.Path)
	str("ROOMDAG_SERVER_NAME", &cfg.ServerName)
	str("ROOMDAG_READ_RECEIPT_TYPE", &cfg.Refs.ReadReceiptType)
	str("ROOMDAG_LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup("ROOMDAG_KINDS"); ok && v != "" {
		cfg.Refs.Kinds = splitList(v)
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"ROOMDAG_DB_SYNC", &cfg.Database.Sync},
		{"ROOMDAG_DB_IN_MEMORY", &cfg.Database.InMemory},
		{"ROOMDAG_HORIZON", &cfg.Refs.Horizon},
		{"ROOMDAG_AUTHORIZE", &cfg.Admission.Authorize},
	}
	for _, b := range bools {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return &ValidationError{Path: b.name, Message: fmt.Sprintf("invalid boolean %q", v)}
		}
		*b.dst = parsed
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"ROOMDAG_SHARDS", &cfg.Admission.Shards},
		{"ROOMDAG_QUEUE_SIZE", &cfg.Admission.QueueSize},
	}
	for _, n := range ints {
		v, ok := lookup(n.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Path: n.name, Message: fmt.Sprintf("invalid integer %q", v)}
		}
		*n.dst = parsed
	}

	if v, ok := lookup("ROOMDAG_MAX_EVENT_SIZE"); ok && v != "" {
		size, err := parseSize(v)
		if err != nil {
			return &ValidationError{Path: "ROOMDAG_MAX_EVENT_SIZE", Message: err.Error()}
		}
		cfg.Admission.MaxEventSize = size
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks cfg against the schema and the rules the schema cannot
// express.
func (c *Config) Validate() error {
	if c.Refs.Kinds == nil {
		c.Refs.Kinds = []string{}
	}
	for i, k := range c.Refs.Kinds {
		c.Refs.Kinds[i] = strings.ToUpper(strings.TrimSpace(k))
	}
	c.Log.Level = strings.ToLower(c.Log.Level)

	if err := validateSchema(c); err != nil {
		return err
	}
	if !c.Database.InMemory && c.Database.Path == "" {
		return &ValidationError{Path: "database.path", Message: "required unless database.in_memory is set"}
	}
	return nil
}

// Kinds returns the enabled edge kinds. An empty refs.kinds list enables
// none; Default lists every kind.
func (c Config) Kinds() refs.Kinds {
	set, err := refs.ParseKinds(c.Refs.Kinds)
	if err != nil {
		// Validate rejects unknown names.
		return 0
	}
	return set
}

// IndexOptions converts the refs section for the indexer.
func (c Config) IndexOptions() indexer.Options {
	return indexer.Options{
		Kinds:           c.Kinds(),
		Horizon:         c.Refs.Horizon,
		ServerName:      c.ServerName,
		ReadReceiptType: c.Refs.ReadReceiptType,
	}
}

// StoreOptions converts the database section for store.Open.
func (c Config) StoreOptions(logger *slog.Logger) store.Options {
	return store.Options{
		Sync:     c.Database.Sync,
		InMemory: c.Database.InMemory,
		Logger:   logger,
	}
}

// MaxEventBytes returns the admission size limit in bytes.
func (c Config) MaxEventBytes() int {
	return int(c.Admission.MaxEventSize)
}

// LogLevel returns the slog level named by log.level.
func (c Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
