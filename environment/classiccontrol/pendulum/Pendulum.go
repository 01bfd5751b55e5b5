// Package pendulum implements the Pendulum classic control environment
package pendulum

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/utils/floatutils"
	"gonum.org/v1/gonum/spatial/r1"
)

const (
	SpeedBound  float64 = 8.0 // +/- Speed bounds
	TorqueBound float64 = 2.0 // +/- Torque bounds

	dt      float64 = 0.05
	Gravity float64 = 10.0
	Mass    float64 = 1.0
	Length  float64 = 1.0

	// MaxEpisodeSteps is the truncation horizon of Pendulum-v1
	MaxEpisodeSteps int = 200

	ActionDims      int = 1
	ObservationDims int = 3
)

// Pendulum implements the classic control environment Pendulum. A
// pendulum is attached to a fixed joint and the agent applies a
// continuous torque to swing it up and keep it upright.
//
// Observations are [cos θ, sin θ, θ̇] where θ = 0 points straight up.
// Actions are a single torque, clipped to [-2, 2]. The reward on each
// step is
//
//	-(θ² + 0.1 θ̇² + 0.001 u²)
//
// with θ normalized to [-π, π). Pendulum never terminates; wrap it in an
// environment.TimeLimit to truncate episodes.
type Pendulum struct {
	starter      env.Starter
	angleBounds  r1.Interval
	speedBounds  r1.Interval
	torqueBounds r1.Interval
	state        []float64
}

// New returns a new Pendulum environment. The environment must be Reset
// before the first Step.
func New() *Pendulum {
	starter := env.NewUniformStarter([]r1.Interval{
		{Min: -math.Pi, Max: math.Pi},
		{Min: -1, Max: 1},
	})
	return &Pendulum{
		starter:      starter,
		angleBounds:  r1.Interval{Min: -math.Pi, Max: math.Pi},
		speedBounds:  r1.Interval{Min: -SpeedBound, Max: SpeedBound},
		torqueBounds: r1.Interval{Min: -TorqueBound, Max: TorqueBound},
	}
}

// Reset implements the environment.Environment interface
func (p *Pendulum) Reset(seed uint64) (backend.ValueBuffer, error) {
	p.state = p.starter.Start(seed)
	return p.observation()
}

// Step implements the environment.Environment interface
func (p *Pendulum) Step(a backend.ValueBuffer) (env.Snapshot, error) {
	if p.state == nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", env.ErrNeedsReset)
	}
	action, err := env.ContinuousAction(a, ActionDims)
	if err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}
	torque := floatutils.ClipInterval(action[0], p.torqueBounds)

	th, thDot := p.state[0], p.state[1]
	angle := floatutils.WrapInterval(th, p.angleBounds)
	cost := angle*angle + 0.1*thDot*thDot + 0.001*torque*torque

	newThDot := thDot + (3*Gravity/(2*Length)*math.Sin(th)+
		3.0/(Mass*Length*Length)*torque)*dt
	newThDot = floatutils.ClipInterval(newThDot, p.speedBounds)
	newTh := th + newThDot*dt

	p.state = []float64{newTh, newThDot}
	obs, err := p.observation()
	if err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}
	return env.Snapshot{State: obs, Reward: float32(-cost)}, nil
}

// Describe implements the environment.Environment interface
func (p *Pendulum) Describe() env.Description {
	high := []float32{1, 1, float32(SpeedBound)}
	low := []float32{-1, -1, -float32(SpeedBound)}
	return env.Description{
		Observation: env.NewContinuous(ObservationDims, low, high),
		Action: env.NewContinuous(ActionDims,
			[]float32{-float32(TorqueBound)}, []float32{float32(TorqueBound)}),
	}
}

func (p *Pendulum) observation() (backend.ValueBuffer, error) {
	th, thDot := p.state[0], p.state[1]
	return backend.FromFloat64([]float64{math.Cos(th), math.Sin(th), thDot})
}

func (p *Pendulum) String() string {
	if p.state == nil {
		return "Pendulum | not reset"
	}
	return fmt.Sprintf("Pendulum | θ: %v | θ̇: %v", p.state[0], p.state[1])
}
