// Package experiment builds and runs training experiments described by
// YAML configuration files.
//
// A Config aggregates the configuration of every component. Build
// turns it into an Experiment: an on-policy driver with its logging,
// evaluation, checkpointing and tracking hooks attached.
package experiment

import (
	"bytes"
	"fmt"
	"os"

	"github.com/samuelfneumann/onpolicy/agent"
	"github.com/samuelfneumann/onpolicy/algorithm"
	"github.com/samuelfneumann/onpolicy/logging"
	"github.com/samuelfneumann/onpolicy/pool"
	"github.com/samuelfneumann/onpolicy/preprocess"
	"github.com/samuelfneumann/onpolicy/sampler"
	"gopkg.in/yaml.v3"
)

// CheckpointConfig describes periodic checkpointing of the agent
type CheckpointConfig struct {
	// Every is the number of iterations between checkpoints; zero
	// disables checkpointing
	Every int    `yaml:"every"`
	Dir   string `yaml:"dir"`
}

// Config describes an experiment
type Config struct {
	Seed uint64 `yaml:"seed"`

	Agent      agent.Config       `yaml:"agent"`
	Pool       pool.Config        `yaml:"pool"`
	Rule       sampler.Rule       `yaml:"rule"`
	Preprocess preprocess.Config  `yaml:"preprocess"`
	Schedule   algorithm.Schedule `yaml:"schedule"`
	Logging    logging.Config     `yaml:"logging"`

	// Eval enables periodic evaluation on a separate environment
	Eval *algorithm.EvalConfig `yaml:"eval"`

	// KLTarget stops the epochs of a call to Learn once the approximate
	// KL divergence of a minibatch exceeds it; zero disables the check
	KLTarget float64 `yaml:"kl_target"`

	// StopReturn ends training once the average return of a collection
	// pass reaches it; nil disables the check
	StopReturn *float64 `yaml:"stop_return"`

	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// ReturnsFile and LengthsFile are where the returns and lengths of
	// all completed episodes are saved when training ends, if set
	ReturnsFile string `yaml:"returns_file"`
	LengthsFile string `yaml:"lengths_file"`
}

// Validate checks whether the Config describes a legal experiment
func (c Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("validate: agent: %w", err)
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("validate: pool: %w", err)
	}
	if err := c.Rule.Validate(); err != nil {
		return fmt.Errorf("validate: rule: %w", err)
	}
	if err := c.Preprocess.Validate(); err != nil {
		return fmt.Errorf("validate: preprocess: %w", err)
	}
	if c.Pool.Mode == pool.Subprocess && !c.Preprocess.Empty() {
		return fmt.Errorf("validate: preprocessing in %v mode: %w",
			c.Pool.Mode, pool.ErrUnsupported)
	}
	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("validate: schedule: %w", err)
	}
	if c.Eval != nil {
		if err := c.Eval.Validate(); err != nil {
			return fmt.Errorf("validate: eval: %w", err)
		}
	}
	if c.KLTarget < 0 {
		return fmt.Errorf("validate: kl target must be non-negative, "+
			"have(%v)", c.KLTarget)
	}
	if c.Checkpoint.Every < 0 {
		return fmt.Errorf("validate: checkpoint interval must be "+
			"non-negative, have(%v)", c.Checkpoint.Every)
	}
	return nil
}

// Load reads and validates the Config in a YAML file
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("load: %v: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML Config. Unknown fields are
// rejected.
func Parse(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	return c, nil
}
