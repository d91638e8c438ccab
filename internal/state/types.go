package state

import "time"

// DefKind categorizes a global definition.
type DefKind string

const (
	KindFunction DefKind = "function"
	KindAlias    DefKind = "alias"
	KindModule   DefKind = "module"
)

// Definition is a named global installed by a merge.
type Definition struct {
	Name   string  `json:"name"`
	Kind   DefKind `json:"kind"`
	Body   string  `json:"body"`
	FileID int     `json:"file_id,omitempty"`
}

// Disposition describes how a signal name is handled by the runtime.
type Disposition string

const (
	DispositionDefault Disposition = "default"
	DispositionIgnore  Disposition = "ignore"
	DispositionTrap    Disposition = "trap"
)

// Span marks a half-open byte range inside a registered source file.
type Span struct {
	FileID int `json:"file_id"`
	Start  int `json:"start"`
	End    int `json:"end"`
}

// Config is the shared shell configuration record.
type Config struct {
	Prompt      string            `yaml:"prompt" json:"prompt"`
	HistorySize int               `yaml:"history_size" json:"history_size"`
	Options     map[string]string `yaml:"options" json:"options,omitempty"`
}

// DefaultConfig returns the configuration a fresh runtime starts with.
func DefaultConfig() Config {
	return Config{
		Prompt:      "shmux> ",
		HistorySize: 500,
	}
}

// Delta is the set of globals a session proposes in one merge.
type Delta struct {
	Definitions []Definition
	Env         map[string]string
}

// View is a consistent, fully-copied snapshot of the runtime state.
// Mutating a View never affects the Store it came from.
type View struct {
	Definitions map[string]Definition
	Env         map[string]string
	Config      Config
	Signals     map[string]Disposition
	Files       []string
	Spans       []Span
	ConfigPath  string
	StartupTime time.Time
	Generation  uint64
}

// Stats summarizes the runtime state for the control API.
type Stats struct {
	Definitions int       `json:"definitions"`
	EnvVars     int       `json:"env_vars"`
	Files       int       `json:"files"`
	Spans       int       `json:"spans"`
	Generation  uint64    `json:"generation"`
	Recoveries  uint64    `json:"recoveries"`
	StartupTime time.Time `json:"startup_time"`
}

// runtime is the single mutable copy guarded by the Store lock.
type runtime struct {
	definitions map[string]Definition
	env         map[string]string
	config      Config
	signals     map[string]Disposition
	files       []string
	spans       []Span
	configPath  string
	startupTime time.Time
	generation  uint64
}

func newRuntime() *runtime {
	return &runtime{
		definitions: make(map[string]Definition),
		env:         make(map[string]string),
		config:      DefaultConfig(),
		signals:     make(map[string]Disposition),
		startupTime: time.Now(),
	}
}

// clone deep-copies the runtime so snapshots never alias live maps.
func (r *runtime) clone() *runtime {
	c := &runtime{
		definitions: make(map[string]Definition, len(r.definitions)),
		env:         make(map[string]string, len(r.env)),
		config:      r.config.clone(),
		signals:     make(map[string]Disposition, len(r.signals)),
		files:       append([]string(nil), r.files...),
		spans:       append([]Span(nil), r.spans...),
		configPath:  r.configPath,
		startupTime: r.startupTime,
		generation:  r.generation,
	}
	for k, v := range r.definitions {
		c.definitions[k] = v
	}
	for k, v := range r.env {
		c.env[k] = v
	}
	for k, v := range r.signals {
		c.signals[k] = v
	}
	return c
}

func (c Config) clone() Config {
	out := c
	if c.Options != nil {
		out.Options = make(map[string]string, len(c.Options))
		for k, v := range c.Options {
			out.Options[k] = v
		}
	}
	return out
}
