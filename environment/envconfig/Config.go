// Package envconfig provides configuration structs for constructing
// environments by name. Environment configurations in this package are
// YAML serializable, so that an experiment file can name the
// environment to train on and the subprocess worker binary can rebuild
// the same environment from its flags.
package envconfig

import (
	"fmt"
	"sort"
	"time"

	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/environment/box2d/lunarlander"
	"github.com/samuelfneumann/onpolicy/environment/classiccontrol/acrobot"
	"github.com/samuelfneumann/onpolicy/environment/classiccontrol/cartpole"
	"github.com/samuelfneumann/onpolicy/environment/classiccontrol/pendulum"
	"github.com/samuelfneumann/onpolicy/environment/dummy"
)

// EnvName stores the name of environments that can be configured with
// this package
type EnvName string

// Environments available for configuration
const (
	Cartpole EnvName = "CartPole-v1"
	Acrobot  EnvName = "Acrobot-v1"
	Pendulum EnvName = "Pendulum-v1"
	Cycle    EnvName = "Cycle"

	LunarLander           EnvName = "LunarLander-v2"
	LunarLanderContinuous EnvName = "LunarLanderContinuous-v2"
)

type constructor struct {
	create   func() env.Environment
	maxSteps int
}

var registry = map[EnvName]constructor{
	Cartpole: {
		create:   func() env.Environment { return cartpole.New() },
		maxSteps: cartpole.MaxEpisodeSteps,
	},
	Acrobot: {
		create:   func() env.Environment { return acrobot.New() },
		maxSteps: acrobot.MaxEpisodeSteps,
	},
	Pendulum: {
		create:   func() env.Environment { return pendulum.New() },
		maxSteps: pendulum.MaxEpisodeSteps,
	},
	LunarLander: {
		create:   func() env.Environment { return lunarlander.NewDiscrete() },
		maxSteps: lunarlander.MaxEpisodeSteps,
	},
	LunarLanderContinuous: {
		create:   func() env.Environment { return lunarlander.NewContinuous() },
		maxSteps: lunarlander.MaxEpisodeSteps,
	},
	Cycle: {
		create:   func() env.Environment { return dummy.NewCycle() },
		maxSteps: 0,
	},
}

// Config describes an environment to construct
type Config struct {
	Name EnvName `yaml:"name"`

	// MaxSteps overrides the environment's default truncation horizon
	// if positive
	MaxSteps int `yaml:"max_steps"`

	// StepDelay makes every step block for the given duration
	StepDelay time.Duration `yaml:"step_delay"`
}

// Validate checks that the Config names a known environment
func (c Config) Validate() error {
	if _, ok := registry[c.Name]; !ok {
		return fmt.Errorf("validate: %q: %w (want one of %v)", c.Name,
			env.ErrUnknown, Names())
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("validate: max steps must be non-negative, "+
			"have(%v)", c.MaxSteps)
	}
	if c.StepDelay < 0 {
		return fmt.Errorf("validate: step delay must be non-negative, "+
			"have(%v)", c.StepDelay)
	}
	return nil
}

// Create returns the environment described by the Config, wrapped in
// an environment.TimeLimit at the configured horizon.
func (c Config) Create() (env.Environment, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	ctor := registry[c.Name]

	e := ctor.create()
	if c.StepDelay > 0 {
		e = dummy.NewSleepy(e, c.StepDelay)
	}

	maxSteps := ctor.maxSteps
	if c.MaxSteps > 0 {
		maxSteps = c.MaxSteps
	}
	return env.NewTimeLimit(e, maxSteps), nil
}

// Make is shorthand for Config{Name: name}.Create()
func Make(name EnvName) (env.Environment, error) {
	return Config{Name: name}.Create()
}

// Names returns the registered environment names in sorted order
func Names() []EnvName {
	names := make([]EnvName, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
