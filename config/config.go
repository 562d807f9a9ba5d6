// Package config loads featview configuration files and turns them into
// the feature, group and scoring providers a View reads.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/hupe1980/featview"
	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/scoring"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// Config is the file configuration.
type Config struct {
	Features []FeatureConfig `json:"features" yaml:"features" validate:"required,min=1,dive"`
	Groups   []GroupConfig   `json:"groups" yaml:"groups" validate:"dive"`
	Scoring  ScoringConfig   `json:"scoring" yaml:"scoring"`
	Store    StoreConfig     `json:"store" yaml:"store"`
	View     ViewConfig      `json:"view" yaml:"view"`
	Log      LogConfig       `json:"log" yaml:"log"`
}

// FeatureConfig describes one feature column.
type FeatureConfig struct {
	ID       int32   `json:"id" yaml:"id" validate:"gt=0"`
	Name     string  `json:"name" yaml:"name" validate:"required"`
	Min      float64 `json:"min" yaml:"min"`
	Max      float64 `json:"max" yaml:"max" validate:"gtefield=Min"`
	Virtual  bool    `json:"virtual" yaml:"virtual"`
	Inactive bool    `json:"inactive" yaml:"inactive"`
}

// GroupConfig describes one group.
type GroupConfig struct {
	ID          uint32             `json:"id" yaml:"id" validate:"gt=0"`
	Name        string             `json:"name" yaml:"name"`
	Hidden      bool               `json:"hidden" yaml:"hidden"`
	ScoreColor  int32              `json:"score_color" yaml:"score_color" validate:"gte=0"`
	Constraints []ConstraintConfig `json:"constraints" yaml:"constraints" validate:"dive"`
}

// ConstraintConfig describes a static constraint (IDs set) or a dynamic
// constraint (Feature, Op and Threshold set).
type ConstraintConfig struct {
	ID        uint64   `json:"id" yaml:"id"`
	Inactive  bool     `json:"inactive" yaml:"inactive"`
	IDs       []uint32 `json:"ids" yaml:"ids" validate:"dive,gt=0"`
	Feature   int32    `json:"feature" yaml:"feature" validate:"gte=0"`
	Op        string   `json:"op" yaml:"op"`
	Threshold float64  `json:"threshold" yaml:"threshold"`
}

// ScoringConfig selects the scoring strategy.
type ScoringConfig struct {
	Strategy string            `json:"strategy" yaml:"strategy" validate:"omitempty,oneof=mean weighted_sum"`
	Name     string            `json:"name" yaml:"name"`
	Weights  map[int32]float64 `json:"weights" yaml:"weights"`
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" validate:"oneof=memory sqlite badger"`
	Path   string `json:"path" yaml:"path" validate:"required_unless=Driver memory"`
}

// ViewConfig holds the View options.
type ViewConfig struct {
	Parallelism int     `json:"parallelism" yaml:"parallelism" validate:"gte=0"`
	MemoryLimit int64   `json:"memory_limit" yaml:"memory_limit" validate:"gte=0"`
	QueryRate   float64 `json:"query_rate" yaml:"query_rate" validate:"gte=0"`
	QueryBurst  int     `json:"query_burst" yaml:"query_burst" validate:"gte=0"`
	MaxSessions int64   `json:"max_sessions" yaml:"max_sessions" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=text json"`
}

// SlogLevel returns the configured level.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Default returns a configuration with defaults for everything but the
// features.
func Default() Config {
	return Config{
		Scoring: ScoringConfig{Strategy: "mean", Name: "score"},
		Store:   StoreConfig{Driver: "memory"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads and validates a YAML or JSON configuration file.
// Environment variables override file values (see applyEnv).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	return parse(data, true)
}

// Parse decodes and validates configuration data. Environment variables
// are not consulted.
func Parse(data []byte) (*Config, error) {
	return parse(data, false)
}

func parse(data []byte, env bool) (*Config, error) {
	cfg := Default()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}

	if env {
		applyEnv(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides store and view settings from FEATVIEW_* variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FEATVIEW_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("FEATVIEW_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FEATVIEW_PARALLELISM"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.View.Parallelism = i
		}
	}
	if v := os.Getenv("FEATVIEW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks struct tags and cross references: unique ids, known
// operators, constraint shape, and referenced features.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	// feature id -> virtual
	features := make(map[int32]bool, len(c.Features))
	for _, f := range c.Features {
		if _, dup := features[f.ID]; dup {
			return fmt.Errorf("%w: feature %d defined twice", ErrInvalidConfig, f.ID)
		}
		features[f.ID] = f.Virtual
	}

	groups := make(map[uint32]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		if _, dup := groups[g.ID]; dup {
			return fmt.Errorf("%w: group %d defined twice", ErrInvalidConfig, g.ID)
		}
		groups[g.ID] = struct{}{}

		if _, ok := features[g.ScoreColor]; g.ScoreColor != 0 && !ok {
			return fmt.Errorf("%w: group %d colored by unknown feature %d", ErrInvalidConfig, g.ID, g.ScoreColor)
		}

		constraints := make(map[uint64]struct{}, len(g.Constraints))
		for i, cc := range g.Constraints {
			if cc.ID != 0 {
				if _, dup := constraints[cc.ID]; dup {
					return fmt.Errorf("%w: group %d holds constraint %d twice", ErrInvalidConfig, g.ID, cc.ID)
				}
				constraints[cc.ID] = struct{}{}
			}
			if err := cc.validate(features); err != nil {
				return fmt.Errorf("%w: group %d constraint %d: %w", ErrInvalidConfig, g.ID, i, err)
			}
		}
	}

	for fid := range c.Scoring.Weights {
		if _, ok := features[fid]; !ok {
			return fmt.Errorf("%w: scoring weight for unknown feature %d", ErrInvalidConfig, fid)
		}
	}
	return nil
}

func (cc ConstraintConfig) validate(features map[int32]bool) error {
	dynamic := cc.Feature != 0 || cc.Op != ""
	switch {
	case len(cc.IDs) > 0 && dynamic:
		return errors.New("constraint is both static and dynamic")
	case len(cc.IDs) > 0:
		return nil
	case !dynamic:
		return errors.New("constraint needs ids or a predicate")
	}

	virtual, ok := features[cc.Feature]
	switch {
	case !ok:
		return fmt.Errorf("unknown feature %d", cc.Feature)
	case virtual:
		return fmt.Errorf("feature %d is virtual and cannot be scanned", cc.Feature)
	}
	_, err := cc.predicate()
	return err
}

func (cc ConstraintConfig) predicate() (constraint.Predicate, error) {
	op, err := constraint.ParseOperator(cc.Op)
	if err != nil {
		return constraint.Predicate{}, err
	}
	p := constraint.Predicate{Feature: model.FeatureID(cc.Feature), Op: op, Threshold: cc.Threshold}
	return p, p.Validate()
}

// build converts cc. A zero id is drawn from alloc.
func (cc ConstraintConfig) build(alloc *constraint.IDAllocator) (constraint.Constraint, error) {
	id := constraint.ID(cc.ID)
	if id == 0 {
		id = alloc.Next()
	}

	var (
		c   constraint.Constraint
		err error
	)
	if len(cc.IDs) > 0 {
		ids := make([]model.RecordID, len(cc.IDs))
		for i, v := range cc.IDs {
			ids[i] = model.RecordID(v)
		}
		c, err = constraint.NewStatic(id, ids)
	} else {
		var p constraint.Predicate
		if p, err = cc.predicate(); err != nil {
			return constraint.Constraint{}, err
		}
		c, err = constraint.NewDynamic(id, p)
	}
	if err != nil {
		return constraint.Constraint{}, err
	}
	return c.WithActive(!cc.Inactive), nil
}

// Build creates the configured scoring strategy.
func (s ScoringConfig) Build() (scoring.Strategy, error) {
	weights := make(map[model.FeatureID]float64, len(s.Weights))
	for fid, w := range s.Weights {
		weights[model.FeatureID(fid)] = w
	}
	return scoring.ByName(s.Strategy, weights)
}

// Logger creates the configured logger.
func (l LogConfig) Logger() *featview.Logger {
	if l.Format == "json" {
		return featview.NewJSONLogger(l.SlogLevel())
	}
	return featview.NewTextLogger(l.SlogLevel())
}

// Options converts the view and log settings into View options.
// Zero values keep the View defaults.
func (c *Config) Options() []featview.Option {
	opts := []featview.Option{featview.WithLogger(c.Log.Logger())}
	if c.View.Parallelism > 0 {
		opts = append(opts, featview.WithParallelism(c.View.Parallelism))
	}
	if c.View.MemoryLimit > 0 {
		opts = append(opts, featview.WithMemoryLimit(c.View.MemoryLimit))
	}
	if c.View.QueryRate > 0 {
		opts = append(opts, featview.WithQueryRateLimit(c.View.QueryRate, c.View.QueryBurst))
	}
	if c.View.MaxSessions > 0 {
		opts = append(opts, featview.WithMaxSessions(c.View.MaxSessions))
	}
	return opts
}
