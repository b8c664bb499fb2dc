// Package config loads bouncer.yaml.
//
// Loading runs in three steps: ${VAR} references are substituted from the
// environment, the raw document is checked against the embedded CUE schema
// (key set and types), and the decoded struct is checked with validator
// tags (cross-field rules). Values absent from the file keep their
// defaults.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/bouncer/internal/bouncer"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full bouncer configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Debounce  DebounceConfig  `yaml:"debounce"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig selects the timestamp store.
type StoreConfig struct {
	Driver      string        `yaml:"driver" validate:"oneof=sqlite memory postgres"`
	Path        string        `yaml:"path" validate:"required_if=Driver sqlite"`
	DSN         string        `yaml:"dsn" validate:"required_if=Driver postgres"`
	RecordGrace time.Duration `yaml:"record_grace" validate:"gte=0"`
}

// DebounceConfig holds the debounce timing.
type DebounceConfig struct {
	Delay         time.Duration `yaml:"delay" validate:"gte=0"`
	Buffer        time.Duration `yaml:"buffer" validate:"gte=0"`
	SkipBuffer    time.Duration `yaml:"skip_buffer" validate:"gte=0"`
	SkipCheck     bool          `yaml:"skip_check"`
	FirstRun      bool          `yaml:"first_run"`
	ResetFirstRun bool          `yaml:"reset_first_run"`
}

// WorkerConfig tunes the SQLite job worker.
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	BatchSize    int           `yaml:"batch_size" validate:"gt=0"`
}

// SchedulerConfig selects where jobs are scheduled.
type SchedulerConfig struct {
	Backend  string         `yaml:"backend" validate:"oneof=sqlite temporal"`
	Temporal TemporalConfig `yaml:"temporal"`
}

// TemporalConfig holds Temporal client settings.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" validate:"required"`
	Namespace string `yaml:"namespace" validate:"required"`
	TaskQueue string `yaml:"task_queue" validate:"required"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:      "sqlite",
			Path:        "bouncer.db",
			RecordGrace: bouncer.DefaultRecordGrace,
		},
		Debounce: DebounceConfig{
			Delay:      bouncer.DefaultDelay,
			Buffer:     bouncer.DefaultBuffer,
			SkipBuffer: bouncer.DefaultSkipBuffer,
			SkipCheck:  true,
		},
		Worker: WorkerConfig{
			PollInterval: 250 * time.Millisecond,
			BatchSize:    100,
		},
		Scheduler: SchedulerConfig{
			Backend: "sqlite",
			Temporal: TemporalConfig{
				HostPort:  "localhost:7233",
				Namespace: "default",
				TaskQueue: "bouncer",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Error is a configuration problem with the file at Path.
type Error struct {
	Path    string
	Details []string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := "config"
	if e.Path != "" {
		prefix += " " + e.Path
	}
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %v: %s", prefix, e.Err, e.Details[0])
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

var (
	// ErrSchema means the document does not match the config schema.
	ErrSchema = errors.New("schema violation")

	// ErrInvalid means a decoded value is out of range or inconsistent.
	ErrInvalid = errors.New("invalid value")
)

// LoadEnvFile loads KEY=VALUE pairs from path into the environment.
// Variables that are already set keep their values.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the config file at the given path.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes a config document. name is used in error messages.
func Parse(name string, data []byte) (*Config, error) {
	// Substitute environment variables
	data = envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(varName)))
	})

	// Start with defaults
	cfg := DefaultConfig()

	if len(bytes.TrimSpace(data)) > 0 {
		if err := checkSchema(name, data); err != nil {
			return nil, err
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.Path = name
		}
		return nil, err
	}
	return cfg, nil
}

// checkSchema unifies the raw document with #Config.
func checkSchema(name string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return &Error{Path: name, Err: ErrSchema, Details: []string{err.Error()}}
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return &Error{Path: name, Err: ErrSchema, Details: cueDetails(err)}
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return &Error{Path: name, Err: ErrSchema, Details: cueDetails(err)}
	}
	return nil
}

func cueDetails(err error) []string {
	var details []string
	for _, e := range cueerrors.Errors(err) {
		msg := e.Error()
		if pos := e.Position(); pos.IsValid() {
			msg = fmt.Sprintf("%s:%d:%d: %s", pos.Filename(), pos.Line(), pos.Column(), msg)
		}
		details = append(details, msg)
	}
	return details
}

var validate = validator.New()

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return &Error{Err: ErrInvalid, Details: details}
}

// DebouncerOptions converts the debounce and store settings into
// bouncer options.
func (c *Config) DebouncerOptions() []bouncer.Option {
	return []bouncer.Option{
		bouncer.WithDelay(c.Debounce.Delay),
		bouncer.WithBuffer(c.Debounce.Buffer),
		bouncer.WithSkipBuffer(c.Debounce.SkipBuffer),
		bouncer.WithSkipCheck(c.Debounce.SkipCheck),
		bouncer.WithFirstRun(c.Debounce.FirstRun),
		bouncer.WithResetFirstRun(c.Debounce.ResetFirstRun),
		bouncer.WithRecordGrace(c.Store.RecordGrace),
	}
}
