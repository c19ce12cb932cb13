package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. GEESE_MODEL_PATH.
const EnvPrefix = "GEESE"

// Model backends.
const (
	BackendONNX    = "onnx"
	BackendRemote  = "remote"
	BackendUniform = "uniform"
)

// Config holds all geese configuration
type Config struct {
	// Model
	ModelBackend    string `mapstructure:"model_backend"`
	ModelPath       string `mapstructure:"model_path"`
	ONNXLibraryPath string `mapstructure:"onnx_library_path"`
	InferenceAddr   string `mapstructure:"inference_addr"`
	MaxBatch        int    `mapstructure:"max_batch"`
	CheckpointPath  string `mapstructure:"checkpoint_path"`

	// Service endpoints
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Actor settings
	ActorID string `mapstructure:"actor_id"`
	Workers int    `mapstructure:"workers"`
	Masked  bool   `mapstructure:"masked"`
	Seed    int64  `mapstructure:"seed"`

	// Game rules
	NumPlayers int `mapstructure:"num_players"`
	MaxSteps   int `mapstructure:"max_steps"`

	// Episode management
	MaxEpisodes    int           `mapstructure:"max_episodes"`
	EpisodeTimeout time.Duration `mapstructure:"episode_timeout"`

	// Rollout settings
	RolloutCapacity uint64        `mapstructure:"rollout_capacity"`
	BatchSize       int           `mapstructure:"batch_size"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	Gamma           float64       `mapstructure:"gamma"`
	GAELambda       float64       `mapstructure:"gae_lambda"`

	// Downstream sinks; empty disables them
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
	DatabaseURL string `mapstructure:"database_url"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		ModelBackend:    BackendUniform,
		MaxBatch:        16,
		InferenceAddr:   "localhost:50061",
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50061",
		ShutdownTimeout: 10 * time.Second,
		ActorID:         "actor-1",
		Workers:         1,
		Masked:          true,
		Seed:            0, // time based
		NumPlayers:      4,
		MaxSteps:        200,
		MaxEpisodes:     -1, // unlimited
		EpisodeTimeout:  30 * time.Second,
		RolloutCapacity: 100000,
		BatchSize:       256,
		FlushInterval:   5 * time.Second,
		Gamma:           0.99,
		GAELambda:       0.95,
		NATSSubject:     "geese.episodes",
		LogLevel:        "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.ModelBackend {
	case BackendONNX:
		if c.ModelPath == "" {
			return fmt.Errorf("model_path is required for the onnx backend")
		}
	case BackendRemote:
		if c.InferenceAddr == "" {
			return fmt.Errorf("inference_addr is required for the remote backend")
		}
	case BackendUniform:
	default:
		return fmt.Errorf("unknown model_backend %q", c.ModelBackend)
	}
	if c.MaxBatch <= 0 {
		return fmt.Errorf("max_batch must be positive")
	}
	if c.ActorID == "" {
		return fmt.Errorf("actor_id is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.NumPlayers < 1 || c.NumPlayers > 4 {
		return fmt.Errorf("num_players must be between 1 and 4")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if c.EpisodeTimeout <= 0 {
		return fmt.Errorf("episode_timeout must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive")
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in [0, 1]")
	}
	if c.GAELambda < 0 || c.GAELambda > 1 {
		return fmt.Errorf("gae_lambda must be in [0, 1]")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("nats_subject is required when nats_url is set")
	}
	return nil
}

// Load builds a Config from, in increasing precedence: defaults, the optional
// config file at path, GEESE_* environment variables (a .env file in the
// working directory is read first) and flags the user set explicitly.
// Flag names use dashes where keys use underscores.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil || f.Name == "config" {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("model_backend", d.ModelBackend)
	v.SetDefault("model_path", d.ModelPath)
	v.SetDefault("onnx_library_path", d.ONNXLibraryPath)
	v.SetDefault("inference_addr", d.InferenceAddr)
	v.SetDefault("max_batch", d.MaxBatch)
	v.SetDefault("checkpoint_path", d.CheckpointPath)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("actor_id", d.ActorID)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("masked", d.Masked)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("num_players", d.NumPlayers)
	v.SetDefault("max_steps", d.MaxSteps)
	v.SetDefault("max_episodes", d.MaxEpisodes)
	v.SetDefault("episode_timeout", d.EpisodeTimeout)
	v.SetDefault("rollout_capacity", d.RolloutCapacity)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("flush_interval", d.FlushInterval)
	v.SetDefault("gamma", d.Gamma)
	v.SetDefault("gae_lambda", d.GAELambda)
	v.SetDefault("nats_url", d.NATSURL)
	v.SetDefault("nats_subject", d.NATSSubject)
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("log_level", d.LogLevel)
}
