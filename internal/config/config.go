package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Overlap variable choices for the path-size estimator
const (
	OverlapNone     = "none"
	OverlapCount    = "count"
	OverlapDistance = "distance"
	OverlapTime     = "time"
)

// Pathfinding modes
const (
	ModeDeterministic = "deterministic"
	ModeStochastic    = "stochastic"
	ModeReplay        = "replay"
)

// Run holds the assignment options recognized by the engine.
type Run struct {
	MaxOuterIterations       int     `yaml:"max_outer_iterations" validate:"gt=0"`
	MaxPathfindingIterations int     `yaml:"max_pathfinding_iterations" validate:"gt=0"`
	ConvergenceGap           float64 `yaml:"convergence_gap" validate:"gte=0"`
	CapacityEnforced         bool    `yaml:"capacity_enforced"`
	BumpOneAtATime           bool    `yaml:"bump_one_at_a_time"`
	SimulationEnabled        bool    `yaml:"simulation_enabled"`
	Dispersion               float64 `yaml:"dispersion" validate:"gt=0"`
	OverlapVariable          string  `yaml:"overlap_variable" validate:"oneof=none count distance time"`
	OverlapScaleParameter    float64 `yaml:"overlap_scale_parameter" validate:"gte=0"`
	WorkerCount              int     `yaml:"worker_count"` // <=0 means processor count
	PathfindingMode          string  `yaml:"pathfinding_mode" validate:"oneof=deterministic stochastic replay"`
	Hyperpath                bool    `yaml:"hyperpath"`
	TimeWindowMin            float64 `yaml:"time_window_min" validate:"gt=0"`
	MaxPaths                 int     `yaml:"max_paths" validate:"gt=0"`
	RandomSeed               int64   `yaml:"random_seed"`
}

// Weight is one row of the cost-weight table. Growth selects how the
// attribute value maps to cost; log_base, logistic_max and logistic_mid
// parameterize the non-linear growth functions.
type Weight struct {
	UserClass   string  `yaml:"user_class" validate:"required"`
	Purpose     string  `yaml:"purpose" validate:"required"`
	LinkKind    string  `yaml:"link_kind" validate:"oneof=access egress transfer trip"`
	Mode        string  `yaml:"mode" validate:"required"`
	Attribute   string  `yaml:"attribute" validate:"oneof=time fare distance wait"`
	Value       float64 `yaml:"value"`
	Growth      string  `yaml:"growth" validate:"oneof=constant exponential logarithmic logistic"`
	LogBase     float64 `yaml:"log_base"`
	LogisticMax float64 `yaml:"logistic_max"`
	LogisticMid float64 `yaml:"logistic_mid"`
}

// Config is the full engine configuration.
type Config struct {
	Run     Run      `yaml:"run" validate:"required"`
	Weights []Weight `yaml:"weights" validate:"required,min=1,dive"`
}

// Infra holds deployment endpoints, resolved from the environment the
// way the rest of the service configures Postgres and Redis.
type Infra struct {
	DatabaseURL string
	RedisAddr   string
	NATSURL     string
	MetricsAddr string
	OutputDir   string
}

// ConfigError is a fatal configuration problem: the run must not
// start.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the engine defaults; a parsed file overrides them.
func Default() *Config {
	return &Config{
		Run: Run{
			MaxOuterIterations:       1,
			MaxPathfindingIterations: 10,
			ConvergenceGap:           0.001,
			CapacityEnforced:         true,
			BumpOneAtATime:           false,
			SimulationEnabled:        true,
			Dispersion:               0.5,
			OverlapVariable:          OverlapCount,
			OverlapScaleParameter:    1.0,
			WorkerCount:              0,
			PathfindingMode:          ModeStochastic,
			Hyperpath:                true,
			TimeWindowMin:            30,
			MaxPaths:                 10,
		},
	}
}

// Validate applies struct tags plus the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return &ConfigError{Reason: err.Error()}
	}
	for i, w := range c.Weights {
		switch w.Growth {
		case "logarithmic":
			if w.LogBase <= 1 {
				return &ConfigError{Reason: fmt.Sprintf(
					"weights[%d]: logarithmic growth requires log_base > 1", i)}
			}
		case "logistic":
			if w.Value <= 0 || w.LogisticMax <= 0 {
				return &ConfigError{Reason: fmt.Sprintf(
					"weights[%d]: logistic growth requires positive value and logistic_max", i)}
			}
		case "exponential":
			if w.Value <= 0 {
				return &ConfigError{Reason: fmt.Sprintf(
					"weights[%d]: exponential growth requires positive value", i)}
			}
		}
	}
	return nil
}

// Workers resolves the configured worker count; <=0 means processor
// count.
func (r Run) Workers() int {
	if r.WorkerCount > 0 {
		return r.WorkerCount
	}
	return runtime.NumCPU()
}

// LoadInfra resolves deployment endpoints from the environment,
// loading a .env file first if one is present.
func LoadInfra() *Infra {
	_ = godotenv.Load()
	return &Infra{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:     os.Getenv("NATS_URL"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		OutputDir:   getEnv("OUTPUT_DIR", "output"),
	}
}

// getEnv retrieves an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
