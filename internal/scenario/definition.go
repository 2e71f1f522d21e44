package scenario

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"scrai/internal/llm"
)

// Definition is the YAML run configuration: which scenario to load and how
// the engine, oracle, and persistence behave around it.
type Definition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Version     string `yaml:"version,omitempty"`

	// Scenario is the path of the scenario JSON, relative to the
	// definition file unless absolute.
	Scenario string `yaml:"scenario"`

	Rules  Rules      `yaml:"rules"`
	Oracle llm.Config `yaml:"oracle"`

	// DataDir holds round journals, snapshots, and the memory database.
	DataDir string `yaml:"data_dir,omitempty"`

	Memory  MemoryConfig  `yaml:"memory,omitempty"`
	Observe ObserveConfig `yaml:"observe,omitempty"`
}

// Rules tune the round loop.
type Rules struct {
	MaxInFlight         int           `yaml:"max_in_flight,omitempty"`
	DecideTimeout       time.Duration `yaml:"decide_timeout,omitempty"`
	RoundInterval       time.Duration `yaml:"round_interval,omitempty"`
	MaxRounds           uint64        `yaml:"max_rounds,omitempty"`
	SnapshotEveryRounds int           `yaml:"snapshot_every_rounds,omitempty"`
}

// MemoryConfig selects the long-term memory backend.
type MemoryConfig struct {
	// Driver is "sqlite" or "inmemory"; empty means inmemory.
	Driver string `yaml:"driver,omitempty"`
	// Path overrides the default <data_dir>/memory.db.
	Path string `yaml:"path,omitempty"`
}

// ObserveConfig enables the websocket observer endpoint.
type ObserveConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// DefaultDefinition carries the tuning used when a field is absent.
func DefaultDefinition() Definition {
	return Definition{
		Version: "1.0",
		Rules: Rules{
			MaxInFlight:         4,
			DecideTimeout:       30 * time.Second,
			SnapshotEveryRounds: 10,
		},
		Oracle:  llm.DefaultConfig(),
		DataDir: "data",
		Observe: ObserveConfig{Addr: ":8787"},
	}
}

// LoadDefinition reads a YAML definition, layering it over the defaults.
func LoadDefinition(path string) (Definition, error) {
	def := DefaultDefinition()
	raw, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("definition: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return def, fmt.Errorf("definition: parse %s: %w", path, err)
	}
	if err := def.validate(); err != nil {
		return def, fmt.Errorf("definition: %s: %w", path, err)
	}
	return def, nil
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("missing name")
	}
	if d.Scenario == "" {
		return fmt.Errorf("missing scenario path")
	}
	if d.Rules.MaxInFlight < 0 {
		return fmt.Errorf("max_in_flight must not be negative")
	}
	switch d.Memory.Driver {
	case "", "inmemory", "sqlite":
	default:
		return fmt.Errorf("unknown memory driver %q", d.Memory.Driver)
	}
	return nil
}
