// Package config loads kanveo configuration and sets up logging.
package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Import ImportConfig `yaml:"import" mapstructure:"import"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0,ltefield=MaxConns"`
}

// ImportConfig configures import sessions and the commit pipeline.
type ImportConfig struct {
	ChunkSize          int      `yaml:"chunk_size" mapstructure:"chunk_size" validate:"gte=1,lte=5000"`
	AcceptedExtensions []string `yaml:"accepted_extensions" mapstructure:"accepted_extensions" validate:"min=1,dive,required"`
	KeyField           string   `yaml:"key_field" mapstructure:"key_field" validate:"required"`
	MaxRows            int      `yaml:"max_rows" mapstructure:"max_rows" validate:"gte=0"`
	MaxFileMB          int      `yaml:"max_file_mb" mapstructure:"max_file_mb" validate:"gte=1"`
	DuplicatePreview   int      `yaml:"duplicate_preview" mapstructure:"duplicate_preview" validate:"gte=0"`
	FieldsFile         string   `yaml:"fields_file" mapstructure:"fields_file"`
}

// MaxFileBytes returns the upload size limit in bytes.
func (c ImportConfig) MaxFileBytes() int64 {
	return int64(c.MaxFileMB) << 20
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`
	CORSOrigins       []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	UploadRPS         float64  `yaml:"upload_rps" mapstructure:"upload_rps" validate:"gt=0"`
	UploadBurst       int      `yaml:"upload_burst" mapstructure:"upload_burst" validate:"gte=1"`
	SessionTTLMinutes int      `yaml:"session_ttl_minutes" mapstructure:"session_ttl_minutes" validate:"gte=1"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KANVEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "kanveo.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("import.chunk_size", 50)
	v.SetDefault("import.accepted_extensions", []string{".csv", ".xlsx", ".txt"})
	v.SetDefault("import.key_field", "email")
	v.SetDefault("import.max_rows", 50000)
	v.SetDefault("import.max_file_mb", 25)
	v.SetDefault("import.duplicate_preview", 5)
	v.SetDefault("import.fields_file", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.upload_rps", 2.0)
	v.SetDefault("server.upload_burst", 5)
	v.SetDefault("server.session_ttl_minutes", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	vd := validator.New(validator.WithRequiredStructEnabled())
	vd.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return vd
}

// Validate checks every section and reports all violations at once, each
// named by its config key (e.g. "import.chunk_size").
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return eris.Wrap(err, "config: validate")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return eris.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	key := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "oneof":
		return key + " must be one of [" + fe.Param() + "]"
	case "gt":
		return key + " must be > " + fe.Param()
	case "gte", "min":
		return key + " must be >= " + fe.Param()
	case "lte":
		return key + " must be <= " + fe.Param()
	case "ltefield":
		return key + " must not exceed " + fe.Param()
	default:
		return key + " failed " + fe.Tag()
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
