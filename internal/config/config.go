// Package config loads settings from defaults, an optional YAML file,
// FLASHSYNC_ environment variables and command-line flags, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"

	"github.com/conorfennell/flashsync/internal/signal"
	"github.com/conorfennell/flashsync/internal/sync"
)

const envPrefix = "FLASHSYNC_"

type Config struct {
	DB          string     `koanf:"db" validate:"required"`
	FallbackDir string     `koanf:"fallback_dir"`
	ReposDir    string     `koanf:"repos_dir" validate:"required"`
	Listen      string     `koanf:"listen" validate:"required,hostname_port"`
	PublicURL   string     `koanf:"public_url" validate:"omitempty,url"`
	Log         LogConfig  `koanf:"log"`
	Sync        SyncConfig `koanf:"sync"`
	QR          QRConfig   `koanf:"qr"`
	CORS        CORSConfig `koanf:"cors"`
	Sources     []string   `koanf:"sources"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type SyncConfig struct {
	ChunkSize    int           `koanf:"chunk_size" validate:"gt=0"`
	MaxBuffered  int           `koanf:"max_buffered" validate:"gt=0"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
}

type QRConfig struct {
	Chunks   int           `koanf:"chunks" validate:"gt=0"`
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
	Size     int           `koanf:"size" validate:"gte=64"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DB:          "flashsync.db",
		FallbackDir: "flashsync-data",
		ReposDir:    "repos",
		Listen:      "127.0.0.1:8080",
		Log:         LogConfig{Level: "info", Format: "text"},
		Sync: SyncConfig{
			ChunkSize:    sync.DefaultChunkSize,
			MaxBuffered:  sync.DefaultMaxBuffered,
			PollInterval: sync.DefaultPollInterval,
		},
		QR: QRConfig{
			Chunks:   30,
			Interval: 50 * time.Millisecond,
			Size:     650,
		},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// Load reads path (if non-empty), the environment and flags over the
// defaults. A missing file at path is not an error. flags may be nil; only
// flags the user actually set take effect.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}

	if flags != nil {
		p := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return Config{}, fmt.Errorf("failed to read flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// BaseURL is where peers reach this server.
func (c Config) BaseURL() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	return "http://" + c.Listen
}

func (c Config) SyncOptions(logger *slog.Logger) sync.Options {
	return sync.Options{
		ChunkSize:    c.Sync.ChunkSize,
		MaxBuffered:  c.Sync.MaxBuffered,
		PollInterval: c.Sync.PollInterval,
		Logger:       logger,
	}
}

func (c Config) SignalOptions(logger *slog.Logger) signal.Options {
	return signal.Options{Chunks: c.QR.Chunks, Interval: c.QR.Interval, Logger: logger}
}

// NewLogger builds the logger described by c, writing to w. Text output is
// colored only when w is a file and NO_COLOR is unset.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level := new(slog.LevelVar)
	switch strings.ToLower(c.Level) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}

	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	_, isFile := w.(*os.File)
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isFile || os.Getenv("NO_COLOR") != "",
	}))
}
