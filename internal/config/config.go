package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/Chichichkin/otelbridge/internal/logging"
)

const (
	envPrefix = "OTELBRIDGE_"
	// Resource attribute keys contain dots, so koanf paths use another
	// delimiter.
	keyDelim = "::"
	// FileEnv names the variable holding an optional YAML config file path.
	FileEnv = envPrefix + "CONFIG_FILE"
)

type Config struct {
	ServiceName        string            `koanf:"service_name" validate:"required"`
	Level              string            `koanf:"level" validate:"level_filter"`
	DiagLevel          string            `koanf:"diag_level"`
	EmitLogsToStderr   bool              `koanf:"emit_logs_to_stderr"`
	ResourceAttributes map[string]string `koanf:"resource_attributes"`
	LogTargets         []LogTarget       `koanf:"log_targets" validate:"dive"`
	RegexFilters       []RegexFilter     `koanf:"regex_filters" validate:"dive"`
	ShutdownTimeout    time.Duration     `koanf:"shutdown_timeout"`
	Source             *SourceConfig     `koanf:"source"`
}

// LogTarget is one export destination. An empty ExportSeverity exports
// every record, including ones without a severity. Stdout targets need no
// URL.
type LogTarget struct {
	URL                string        `koanf:"url" validate:"required_unless=Protocol stdout"`
	Protocol           string        `koanf:"protocol" validate:"omitempty,oneof=otlp loki stdout"`
	Interval           time.Duration `koanf:"interval"`
	Timeout            time.Duration `koanf:"timeout"`
	CACertPath         string        `koanf:"ca_cert_path"`
	ExportSeverity     string        `koanf:"export_severity" validate:"omitempty,oneof=trace debug info warn warning error fatal"`
	MaxQueueSize       int           `koanf:"max_queue_size" validate:"gte=0"`
	MaxExportBatchSize int           `koanf:"max_export_batch_size" validate:"gte=0"`
	MaxRetries         int           `koanf:"max_retries" validate:"gte=0"`
}

// RegexFilter drops records whose target matches ModuleRegex and whose body
// matches LogTextRegex.
type RegexFilter struct {
	ModuleRegex  string `koanf:"module_regex" validate:"required"`
	LogTextRegex string `koanf:"log_text_regex" validate:"required"`
}

// SourceConfig configures tailing of container log files.
type SourceConfig struct {
	RootPath        string        `koanf:"root_path" validate:"required"`
	NodeName        string        `koanf:"node_name"`
	ScanInterval    time.Duration `koanf:"scan_interval"`
	Workers         int           `koanf:"workers" validate:"gte=0"`
	FileQueueSize   int           `koanf:"file_queue_size" validate:"gte=0"`
	FileIdleTimeout time.Duration `koanf:"file_idle_timeout"`
}

func Default() Config {
	return Config{
		ServiceName:      "App",
		Level:            "info",
		DiagLevel:        "info",
		EmitLogsToStderr: true,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Load reads .env if present, then the YAML file named by FileEnv, then
// OTELBRIDGE_* variables. Later sources override earlier ones. Nested keys
// in variable names are separated by a double underscore, for example
// OTELBRIDGE_SOURCE__ROOT_PATH.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("could not load .env: %w", err)
	}
	return load(os.Getenv(FileEnv))
}

func load(path string) (*Config, error) {
	k := koanf.New(keyDelim)

	if path != "" {
		if err := k.Load(File(path), nil); err != nil {
			return nil, fmt.Errorf("could not load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("could not load env variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.RegisterValidation("level_filter", validLevelFilter); err != nil {
		return err
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// validLevelFilter accepts directive lists such as "info,db=debug".
func validLevelFilter(fl validator.FieldLevel) bool {
	_, err := logging.ParseLevelFilter(fl.Field().String())
	return err == nil
}
