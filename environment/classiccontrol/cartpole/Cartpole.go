// Package cartpole implements the Cartpole classic control environment
package cartpole

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
	"gonum.org/v1/gonum/spatial/r1"
)

const (
	// Physical constants
	Gravity        float64 = 9.8
	CartMass       float64 = 1.0
	PoleMass       float64 = 0.1
	TotalMass      float64 = CartMass + PoleMass
	HalfPoleLength float64 = 0.5  // half of pole length
	ForceMag       float64 = 10.0 // Magnification of force applied
	Dt             float64 = 0.02 // seconds between state updates

	// Episodes terminate when the cart or pole leaves these bounds
	PositionThreshold float64 = 2.4
	FailAngle         float64 = 12 * 2 * math.Pi / 360

	// MaxEpisodeSteps is the truncation horizon of CartPole-v1
	MaxEpisodeSteps int = 500

	ObservationDims int = 4
	NumActions      int = 2

	startBound float64 = 0.05
)

// Cartpole implements the classic control environment Cartpole. In
// this environment, a pole is attached to a cart, which can move
// horizontally. The agent must keep the pole upright for as long as
// possible.
//
// The state features are continuous and consist of the cart's x
// position and speed, as well as the pole's angle from the positive
// y-axis and the pole's angular velocity. Start states are drawn
// uniformly from [-0.05, 0.05] for each feature.
//
// Actions are discrete, given as a one-hot vector of length 2 or as a
// single index:
//
//	Action	Meaning
//	  0		Push cart left
//	  1		Push cart right
//
// A reward of +1 is given on every step, including the last. Episodes
// terminate when |x| > 2.4 or |θ| > 12°. Cartpole itself never
// truncates; wrap it in an environment.TimeLimit for that.
type Cartpole struct {
	starter env.Starter
	failure env.IntervalLimit
	state   []float64
	done    bool
}

// New constructs a new Cartpole environment. The environment must be
// Reset before the first Step.
func New() *Cartpole {
	bounds := make([]r1.Interval, ObservationDims)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -startBound, Max: startBound}
	}

	failure := env.NewIntervalLimit(
		[]r1.Interval{
			{Min: -PositionThreshold, Max: PositionThreshold},
			{Min: -FailAngle, Max: FailAngle},
		},
		[]int{0, 2},
	)

	return &Cartpole{
		starter: env.NewUniformStarter(bounds),
		failure: failure,
	}
}

// Reset implements the environment.Environment interface
func (c *Cartpole) Reset(seed uint64) (backend.ValueBuffer, error) {
	c.state = c.starter.Start(seed)
	c.done = false
	return backend.FromFloat64(c.state)
}

// Step implements the environment.Environment interface
func (c *Cartpole) Step(a backend.ValueBuffer) (env.Snapshot, error) {
	if c.state == nil || c.done {
		return env.Snapshot{}, fmt.Errorf("step: %w", env.ErrNeedsReset)
	}
	action, err := env.DiscreteAction(a, NumActions)
	if err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}

	force := ForceMag
	if action == 0 {
		force = -ForceMag
	}

	x, xDot, th, thDot := c.state[0], c.state[1], c.state[2], c.state[3]
	cosTheta := math.Cos(th)
	sinTheta := math.Sin(th)
	poleMassLength := PoleMass * HalfPoleLength

	temp := (force + poleMassLength*thDot*thDot*sinTheta) / TotalMass
	thAcc := (Gravity*sinTheta - cosTheta*temp) / (HalfPoleLength *
		(4.0/3.0 - PoleMass*cosTheta*cosTheta/TotalMass))
	xAcc := temp - poleMassLength*thAcc*cosTheta/TotalMass

	// Euler kinematic integration
	x += Dt * xDot
	xDot += Dt * xAcc
	th += Dt * thDot
	thDot += Dt * thAcc

	c.state = []float64{x, xDot, th, thDot}
	c.done = c.failure.Exceeded(c.state)

	state, err := backend.FromFloat64(c.state)
	if err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}
	return env.Snapshot{State: state, Reward: 1, Terminated: c.done}, nil
}

// Describe implements the environment.Environment interface
func (c *Cartpole) Describe() env.Description {
	inf := float32(math.Inf(1))
	high := []float32{float32(2 * PositionThreshold), inf,
		float32(2 * FailAngle), inf}
	low := make([]float32, len(high))
	for i := range high {
		low[i] = -high[i]
	}

	return env.Description{
		Observation: env.NewContinuous(ObservationDims, low, high),
		Action:      env.NewDiscrete(NumActions),
	}
}

func (c *Cartpole) String() string {
	if c.state == nil {
		return "Cartpole | not reset"
	}
	return fmt.Sprintf("Cartpole | Position: %v | Speed: %v | Angle: %v"+
		" | Angular Velocity: %v", c.state[0], c.state[1], c.state[2],
		c.state[3])
}
