package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/conversation"
	"github.com/Veraticus/chatfin/internal/document"
	"github.com/Veraticus/chatfin/internal/engine"
	"github.com/Veraticus/chatfin/internal/learner"
	"github.com/Veraticus/chatfin/internal/search"
)

// EnvPrefix prefixes every environment override, e.g. CHATFIN_DATABASE_PATH.
const EnvPrefix = "CHATFIN"

// Config is the full application configuration.
type Config struct {
	User         string             `mapstructure:"user" validate:"required"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Sessions     SessionsConfig     `mapstructure:"sessions"`
	Model        ModelConfig        `mapstructure:"model"`
	OCR          OCRConfig          `mapstructure:"ocr"`
	Categorizer  CategorizerConfig  `mapstructure:"categorizer"`
	Learner      LearnerConfig      `mapstructure:"learner"`
	Document     DocumentConfig     `mapstructure:"document"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Search       SearchConfig       `mapstructure:"search"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
}

// SessionsConfig selects where conversation sessions live between turns.
type SessionsConfig struct {
	Backend  string        `mapstructure:"backend" validate:"oneof=database memory dynamodb"`
	Table    string        `mapstructure:"table" validate:"required_if=Backend dynamodb"`
	Region   string        `mapstructure:"region"`
	Endpoint string        `mapstructure:"endpoint"`
	MaxAge   time.Duration `mapstructure:"max_age" validate:"gt=0"`
}

// ModelConfig locates the global classifier artifact. An empty path uses the
// built-in base knowledge model.
type ModelConfig struct {
	Path string `mapstructure:"path"`
}

// OCRConfig configures receipt recognition.
type OCRConfig struct {
	Engine        string        `mapstructure:"engine" validate:"oneof=auto tesseract plaintext"`
	TesseractPath string        `mapstructure:"tesseract_path"`
	Language      string        `mapstructure:"language"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryAttempts int           `mapstructure:"retry_attempts" validate:"gte=1,lte=10"`
}

// CategorizerConfig mirrors engine.Config.
type CategorizerConfig struct {
	AlphaFixed       *float64 `mapstructure:"alpha_fixed" validate:"omitempty,gte=0,lte=1"`
	AlphaNew         float64  `mapstructure:"alpha_new" validate:"gte=0,lte=1"`
	AlphaExperienced float64  `mapstructure:"alpha_experienced" validate:"gte=0,lte=1"`
	ExperiencedAfter int      `mapstructure:"experienced_after" validate:"gt=0"`
	Smoothing        float64  `mapstructure:"smoothing" validate:"gt=0"`
	Threshold        float64  `mapstructure:"threshold" validate:"gte=0,lte=1"`
	Candidates       int      `mapstructure:"candidates" validate:"gte=1"`
}

// LearnerConfig tunes learning.
type LearnerConfig struct {
	AmountBuckets   []float64     `mapstructure:"amount_buckets" validate:"min=1,dive,gt=0"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CorrectionDecay float64       `mapstructure:"correction_decay" validate:"gte=0,lte=1"`
	CorrectionBoost float64       `mapstructure:"correction_boost" validate:"gt=0"`
}

// DocumentConfig sets the reconciliation tolerance.
type DocumentConfig struct {
	TolerancePercent float64 `mapstructure:"tolerance_percent" validate:"gte=0,lte=1"`
	ToleranceMinimum float64 `mapstructure:"tolerance_minimum" validate:"gte=0"`
	PricedLines      bool    `mapstructure:"priced_lines"`
}

// ConversationConfig tunes the clarification dialogue.
type ConversationConfig struct {
	CurrencySymbol string `mapstructure:"currency_symbol"`
	MaxTurns       int    `mapstructure:"max_turns" validate:"gte=1"`
}

// SearchConfig tunes retrieval ranking.
type SearchConfig struct {
	Boost float64 `mapstructure:"boost" validate:"gte=0"`
	Limit int     `mapstructure:"limit" validate:"gte=1"`
}

// SetDefaults registers the default for every key.
func SetDefaults(v *viper.Viper) {
	ec := engine.DefaultConfig()
	lc := learner.DefaultConfig()
	cc := conversation.DefaultConfig()
	so := search.DefaultOptions()

	v.SetDefault("user", "default")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "~/.local/share/chatfin/chatfin.db")
	v.SetDefault("sessions.backend", "database")
	v.SetDefault("sessions.table", "chatfin-sessions")
	v.SetDefault("sessions.max_age", 24*time.Hour)
	v.SetDefault("ocr.engine", "auto")
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.timeout", 30*time.Second)
	v.SetDefault("ocr.retry_attempts", 3)
	v.SetDefault("categorizer.alpha_new", ec.AlphaNew)
	v.SetDefault("categorizer.alpha_experienced", ec.AlphaExperienced)
	v.SetDefault("categorizer.experienced_after", ec.ExperiencedAfter)
	v.SetDefault("categorizer.smoothing", ec.Smoothing)
	v.SetDefault("categorizer.threshold", ec.Threshold)
	v.SetDefault("categorizer.candidates", ec.Candidates)
	v.SetDefault("learner.amount_buckets", []float64{100, 500, 2000})
	v.SetDefault("learner.cache_ttl", lc.CacheTTL)
	v.SetDefault("learner.correction_decay", lc.CorrectionDecay)
	v.SetDefault("learner.correction_boost", lc.CorrectionBoost)
	v.SetDefault("document.tolerance_percent", 0.01)
	v.SetDefault("document.tolerance_minimum", 1.0)
	v.SetDefault("document.priced_lines", true)
	v.SetDefault("conversation.currency_symbol", cc.CurrencySymbol)
	v.SetDefault("conversation.max_turns", cc.MaxTurns)
	v.SetDefault("search.boost", so.Boost)
	v.SetDefault("search.limit", so.Limit)
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Model.Path = ExpandPath(cfg.Model.Path)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	if err := cfg.EngineConfig().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// EngineConfig returns the categorizer parameters.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		AlphaFixed:       c.Categorizer.AlphaFixed,
		AlphaNew:         c.Categorizer.AlphaNew,
		AlphaExperienced: c.Categorizer.AlphaExperienced,
		ExperiencedAfter: c.Categorizer.ExperiencedAfter,
		Smoothing:        c.Categorizer.Smoothing,
		Threshold:        c.Categorizer.Threshold,
		Candidates:       c.Categorizer.Candidates,
	}
}

// LearnerConfig returns the learner parameters.
func (c *Config) LearnerConfig() learner.Config {
	lc := learner.DefaultConfig()
	lc.AmountBuckets = make([]decimal.Decimal, 0, len(c.Learner.AmountBuckets))
	for _, b := range c.Learner.AmountBuckets {
		lc.AmountBuckets = append(lc.AmountBuckets, decimal.NewFromFloat(b))
	}
	lc.CacheTTL = c.Learner.CacheTTL
	lc.CorrectionDecay = c.Learner.CorrectionDecay
	lc.CorrectionBoost = c.Learner.CorrectionBoost
	return lc
}

// DocumentOptions returns the structurer options.
func (c *Config) DocumentOptions() document.Options {
	opts := document.DefaultOptions()
	opts.TotalTolerance = document.Tolerance{
		Percent: c.Document.TolerancePercent,
		Minimum: decimal.NewFromFloat(c.Document.ToleranceMinimum),
	}
	opts.PricedLines = c.Document.PricedLines
	return opts
}

// ConversationConfig returns the state machine settings.
func (c *Config) ConversationConfig() conversation.Config {
	cc := conversation.DefaultConfig()
	if c.Conversation.CurrencySymbol != "" {
		cc.CurrencySymbol = c.Conversation.CurrencySymbol
	}
	cc.MaxTurns = c.Conversation.MaxTurns
	return cc
}

// SearchOptions returns the ranking options.
func (c *Config) SearchOptions() search.Options {
	return search.Options{Boost: c.Search.Boost, Limit: c.Search.Limit}
}
