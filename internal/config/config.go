// Package config loads instance settings from an optional <root>/talon.yaml.
//
// The file is validated against an embedded CUE schema before it is
// decoded, then merged over Default. Engine options applied afterwards
// override both.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in a storage root.
const FileName = "talon.yaml"

//go:embed schema.cue
var schemaSource string

// Config is the complete set of instance settings.
type Config struct {
	Storage StorageConfig
	KV      KVConfig
	MQ      MQConfig
	Vector  VectorConfig
	SQL     SQLConfig
	Log     LogConfig
}

// StorageConfig selects the SQLite driver and durability settings.
type StorageConfig struct {
	Driver        string
	Synchronous   string
	BusyTimeoutMS int
}

// KVConfig tunes the key-value module.
type KVConfig struct {
	ReapInterval time.Duration
	ReapBatch    int
	LockStripes  int
}

// MQConfig tunes the message-queue module.
type MQConfig struct {
	CompressThreshold int
}

// VectorConfig tunes the vector module.
type VectorConfig struct {
	MaxDimension int
}

// SQLConfig tunes the sql module.
type SQLConfig struct {
	MaxRows int
}

// LogConfig selects the log level and handler format.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: "sqlite3", Synchronous: "NORMAL", BusyTimeoutMS: 5000},
		KV:      KVConfig{ReapInterval: time.Second, ReapBatch: 512, LockStripes: 64},
		MQ:      MQConfig{CompressThreshold: 4096},
		Vector:  VectorConfig{MaxDimension: 4096},
		SQL:     SQLConfig{MaxRows: 10000},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Error reports an invalid config file.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: config: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return "config: " + e.Message
}

// Load reads <root>/talon.yaml. A missing file yields Default.
func Load(root string) (Config, error) {
	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse validates and decodes YAML config data. filename is used in error
// positions only.
func Parse(filename string, data []byte) (Config, error) {
	if err := validate(filename, data); err != nil {
		return Config{}, err
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, &Error{Message: err.Error()}
	}

	cfg := Default()
	if err := f.apply(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(filename string, data []byte) error {
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return formatCUEError(err)
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return formatCUEError(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	return formatCUEError(unified.Validate(cue.Concrete(true)))
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}

	first := errs[0]
	e := &Error{Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}

// fileConfig mirrors the YAML layout. Nil fields keep their defaults.
type fileConfig struct {
	Storage struct {
		Driver        *string `yaml:"driver"`
		Synchronous   *string `yaml:"synchronous"`
		BusyTimeoutMS *int    `yaml:"busy_timeout_ms"`
	} `yaml:"storage"`
	KV struct {
		ReapInterval *string `yaml:"reap_interval"`
		ReapBatch    *int    `yaml:"reap_batch"`
		LockStripes  *int    `yaml:"lock_stripes"`
	} `yaml:"kv"`
	MQ struct {
		CompressThreshold *int `yaml:"compress_threshold"`
	} `yaml:"mq"`
	Vector struct {
		MaxDimension *int `yaml:"max_dimension"`
	} `yaml:"vector"`
	SQL struct {
		MaxRows *int `yaml:"max_rows"`
	} `yaml:"sql"`
	Log struct {
		Level  *string `yaml:"level"`
		Format *string `yaml:"format"`
	} `yaml:"log"`
}

func (f *fileConfig) apply(cfg *Config) error {
	set(&cfg.Storage.Driver, f.Storage.Driver)
	set(&cfg.Storage.Synchronous, f.Storage.Synchronous)
	set(&cfg.Storage.BusyTimeoutMS, f.Storage.BusyTimeoutMS)
	if f.KV.ReapInterval != nil {
		d, err := time.ParseDuration(*f.KV.ReapInterval)
		if err != nil {
			return &Error{Message: fmt.Sprintf("kv.reap_interval: %v", err)}
		}
		cfg.KV.ReapInterval = d
	}
	set(&cfg.KV.ReapBatch, f.KV.ReapBatch)
	set(&cfg.KV.LockStripes, f.KV.LockStripes)
	set(&cfg.MQ.CompressThreshold, f.MQ.CompressThreshold)
	set(&cfg.Vector.MaxDimension, f.Vector.MaxDimension)
	set(&cfg.SQL.MaxRows, f.SQL.MaxRows)
	set(&cfg.Log.Level, f.Log.Level)
	set(&cfg.Log.Format, f.Log.Format)
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w in the configured format.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
