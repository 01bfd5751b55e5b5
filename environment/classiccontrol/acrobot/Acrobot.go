// Package acrobot implements the Acrobot classic control environment
package acrobot

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/utils/floatutils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

const (
	dt float64 = 0.2

	LinkLength1 float64 = 1.0 // Metres, length of link 1
	LinkLength2 float64 = 1.0 // Metres, length of link 2
	LinkMass1   float64 = 1.0 // Kg, mass of link 1
	LinkMass2   float64 = 1.0 // Kg, mass of link 2
	LinkCOMPos1 float64 = 0.5 // Metres, centre of mass link 1
	LinkCOMPos2 float64 = 0.5 // Metres, centre of mass link 2
	LinkMOI     float64 = 1.0 // Moments of inertia for both links
	MaxVel1     float64 = 4 * math.Pi
	MaxVel2     float64 = 9 * math.Pi
	Gravity     float64 = 9.8

	// MaxEpisodeSteps is the truncation horizon of Acrobot-v1
	MaxEpisodeSteps int = 500

	ObservationDims int = 6
	NumActions      int = 3

	startBound float64 = 0.1
)

// torques maps discrete actions to the torque applied to the joint
var torques = [NumActions]float64{-1.0, 0.0, 1.0}

// Acrobot implements the classic control environment Acrobot. The
// acrobot is a two-link pendulum with an actuated joint between the
// links. The agent must swing the tip of the lower link above a line
// one link-length above the fixed joint.
//
// The internal state is (θ1, θ2, θ̇1, θ̇2). Observations expose the
// angles through their cosines and sines:
//
//	[cos θ1, sin θ1, cos θ2, sin θ2, θ̇1, θ̇2]
//
// Actions are discrete torques given as a one-hot vector of length 3
// or a single index:
//
//	Action	Torque
//	  0		-1
//	  1		 0
//	  2		+1
//
// A reward of -1 is given on every step that does not reach the goal
// and 0 on the step that does. Reaching the goal terminates the
// episode. Dynamics follow the book version of the equations of motion
// and are integrated with RK4.
type Acrobot struct {
	starter         env.Starter
	angleBounds     r1.Interval
	velocity1Bounds r1.Interval
	velocity2Bounds r1.Interval
	state           []float64
	done            bool
}

// New returns a new Acrobot environment. The environment must be Reset
// before the first Step.
func New() *Acrobot {
	bounds := make([]r1.Interval, 4)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -startBound, Max: startBound}
	}
	return &Acrobot{
		starter:         env.NewUniformStarter(bounds),
		angleBounds:     r1.Interval{Min: -math.Pi, Max: math.Pi},
		velocity1Bounds: r1.Interval{Min: -MaxVel1, Max: MaxVel1},
		velocity2Bounds: r1.Interval{Min: -MaxVel2, Max: MaxVel2},
	}
}

// Reset implements the environment.Environment interface
func (a *Acrobot) Reset(seed uint64) (backend.ValueBuffer, error) {
	a.state = a.starter.Start(seed)
	a.done = false
	return a.observation()
}

// Step implements the environment.Environment interface
func (a *Acrobot) Step(action backend.ValueBuffer) (env.Snapshot, error) {
	if a.state == nil || a.done {
		return env.Snapshot{}, fmt.Errorf("step: %w", env.ErrNeedsReset)
	}
	index, err := env.DiscreteAction(action, NumActions)
	if err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}
	a.state = a.nextState(torques[index])
	a.done = a.atGoal()

	obs, err := a.observation()
	if err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}

	reward := float32(-1.0)
	if a.done {
		reward = 0.0
	}
	return env.Snapshot{State: obs, Reward: reward, Terminated: a.done}, nil
}

// Describe implements the environment.Environment interface
func (a *Acrobot) Describe() env.Description {
	high := []float32{1, 1, 1, 1, float32(MaxVel1), float32(MaxVel2)}
	low := make([]float32, len(high))
	for i := range high {
		low[i] = -high[i]
	}
	return env.Description{
		Observation: env.NewContinuous(ObservationDims, low, high),
		Action:      env.NewDiscrete(NumActions),
	}
}

// atGoal returns whether the tip of the second link is above the goal
// height
func (a *Acrobot) atGoal() bool {
	th1, th2 := a.state[0], a.state[1]
	return -math.Cos(th1)-math.Cos(th2+th1) > 1.0
}

func (a *Acrobot) observation() (backend.ValueBuffer, error) {
	s := a.state
	return backend.FromFloat64([]float64{
		math.Cos(s[0]), math.Sin(s[0]),
		math.Cos(s[1]), math.Sin(s[1]),
		s[2], s[3],
	})
}

// nextState integrates the equations of motion over one step with the
// torque held constant
func (a *Acrobot) nextState(torque float64) []float64 {
	sAugmented := mat.NewVecDense(5, append(append([]float64(nil),
		a.state...), torque))

	integrated := rk4(dsDt, sAugmented, []float64{0.0, dt})
	r, _ := integrated.Dims()
	ns := append([]float64(nil), integrated.RawRowView(r - 1)[:4]...)

	ns[0] = floatutils.WrapInterval(ns[0], a.angleBounds)
	ns[1] = floatutils.WrapInterval(ns[1], a.angleBounds)
	ns[2] = floatutils.ClipInterval(ns[2], a.velocity1Bounds)
	ns[3] = floatutils.ClipInterval(ns[3], a.velocity2Bounds)

	return ns
}

func (a *Acrobot) String() string {
	if a.state == nil {
		return "Acrobot | not reset"
	}
	return fmt.Sprintf("Acrobot | θ1: %v | θ2: %v | θ̇1: %v | θ̇2: %v",
		a.state[0], a.state[1], a.state[2], a.state[3])
}

// dsDt computes the derivative of the augmented state (state plus the
// applied torque) at time t.
func dsDt(sAugmented *mat.VecDense, t float64) []float64 {
	m1 := LinkMass1
	m2 := LinkMass2
	l1 := LinkLength1
	lc1 := LinkCOMPos1
	lc2 := LinkCOMPos2
	i1 := LinkMOI
	i2 := LinkMOI
	g := Gravity

	theta1 := sAugmented.AtVec(0)
	theta2 := sAugmented.AtVec(1)
	dtheta1 := sAugmented.AtVec(2)
	dtheta2 := sAugmented.AtVec(3)
	torque := sAugmented.AtVec(4)

	d1 := m1*lc1*lc1 + m2*(l1*l1+lc2*lc2+2*l1*lc2*math.Cos(theta2)) +
		i1 + i2
	d2 := m2*(lc2*lc2+l1*lc2*math.Cos(theta2)) + i2

	phi2 := m2 * lc2 * g * math.Cos(theta1+theta2-math.Pi/2.0)
	phi1 := -m2*l1*lc2*dtheta2*dtheta2*math.Sin(theta2) -
		2*m2*l1*lc2*dtheta2*dtheta1*math.Sin(theta2) +
		(m1*lc1+m2*l1)*g*math.Cos(theta1-math.Pi/2.0) + phi2

	ddtheta2 := (torque + d2/d1*phi1 -
		m2*l1*lc2*dtheta1*dtheta1*math.Sin(theta2) - phi2) /
		(m2*lc2*lc2 + i2 - d2*d2/d1)
	ddtheta1 := -(d2*ddtheta2 + phi1) / d1

	return []float64{dtheta1, dtheta2, ddtheta1, ddtheta2, 0.0}
}

// rk4 integrates derivs from y0 over the times in t with the classic
// fourth-order Runge-Kutta method, returning one row per time.
func rk4(derivs func(*mat.VecDense, float64) []float64, y0 *mat.VecDense,
	t []float64) *mat.Dense {
	ny := y0.Len()
	yout := mat.NewDense(len(t), ny, nil)
	yout.SetRow(0, y0.RawVector().Data)

	for i := 0; i < len(t)-1; i++ {
		thist := t[i]
		step := t[i+1] - thist
		half := step / 2.0

		y := mat.NewVecDense(ny, append([]float64(nil), yout.RawRowView(i)...))

		k1 := mat.NewVecDense(ny, derivs(y, thist))

		input := mat.NewVecDense(ny, nil)
		input.AddScaledVec(y, half, k1)
		k2 := mat.NewVecDense(ny, derivs(input, thist+half))

		input.AddScaledVec(y, half, k2)
		k3 := mat.NewVecDense(ny, derivs(input, thist+half))

		input.AddScaledVec(y, step, k3)
		k4 := mat.NewVecDense(ny, derivs(input, thist+step))

		row := mat.NewVecDense(ny, nil)
		row.CopyVec(k1)
		row.AddScaledVec(row, 2.0, k2)
		row.AddScaledVec(row, 2.0, k3)
		row.AddVec(row, k4)
		row.AddScaledVec(y, step/6.0, row)

		yout.SetRow(i+1, row.RawVector().Data)
	}
	return yout
}
