// Package lunarlander implements the Lunar Lander environment on the
// Box2D physics engine, with continuous and discrete actions.
package lunarlander

import (
	"fmt"
	"math"

	"github.com/ByteArena/box2d"
	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/utils/floatutils"
	"golang.org/x/exp/rand"
)

const (
	FPS float64 = 50

	// Scale converts pixels to Box2D units
	Scale float64 = 30.0

	XGravity float64 = 0.0
	YGravity float64 = -10.0

	MainEnginePower float64 = 13.0
	SideEnginePower float64 = 0.6

	LegAway         float64 = 20.0
	LegDown         float64 = 18.0
	LegW            float64 = 2.0
	LegH            float64 = 8.0
	LegSpringTorque float64 = 40.0

	SideEngineHeight float64 = 14.0
	SideEngineAway   float64 = 12.0

	Chunks int = 11

	ViewportW float64 = 600
	ViewportH float64 = 400

	ObservationDims int = 8
	ActionDims      int = 2
	NumActions      int = 4

	// MaxEpisodeSteps is the truncation horizon of LunarLander-v2
	MaxEpisodeSteps int = 1000

	// Box2D limits velocity to 2 units per step
	MaxVelocity float64 = 2.0 * FPS

	InitialX float64 = ViewportW / Scale / 2
	InitialY float64 = (ViewportH - ViewportH/25) / Scale

	// InitialRandom bounds each component of the random force applied
	// to the lander at the start of an episode
	InitialRandom float64 = 1000.0
)

const (
	staticBody  uint8 = 0
	dynamicBody uint8 = 2
)

// LanderPoly is the hull of the lander in pixels
var LanderPoly = [][2]float64{
	{-14, 17},
	{-17, 0},
	{-17, -10},
	{17, -10},
	{17, 0},
	{14, 17},
}

// lander holds the Box2D world shared by the continuous and discrete
// variants
type lander struct {
	world    box2d.B2World
	boundary []*box2d.B2Body
	moon     *box2d.B2Body
	body     *box2d.B2Body
	legs     []*box2d.B2Body

	moonVertices [][2]float64
	legContact   [2]bool
	helipadY     float64
	gameOver     bool

	rng *rand.Rand

	// prevShaping is the shaping potential of the previous state; it is
	// unset on the first step of an episode
	prevShaping float64
	shaped      bool

	state []float64
	done  bool
}

// contactDetector records collisions of the lander with the moon
type contactDetector struct {
	l *lander
}

func touches(contact box2d.B2ContactInterface, body *box2d.B2Body) bool {
	return contact.GetFixtureA().GetBody() == body ||
		contact.GetFixtureB().GetBody() == body
}

func (c contactDetector) BeginContact(contact box2d.B2ContactInterface) {
	// Only the legs may touch the ground
	if touches(contact, c.l.body) {
		c.l.gameOver = true
	}
	for i, leg := range c.l.legs {
		if touches(contact, leg) {
			c.l.legContact[i] = true
		}
	}
}

func (c contactDetector) EndContact(contact box2d.B2ContactInterface) {
	for i, leg := range c.l.legs {
		if touches(contact, leg) {
			c.l.legContact[i] = false
		}
	}
}

func (c contactDetector) PreSolve(box2d.B2ContactInterface, box2d.B2Manifold) {}

func (c contactDetector) PostSolve(box2d.B2ContactInterface,
	*box2d.B2ContactImpulse) {
}

// reset builds a new world with terrain drawn from seed
func (l *lander) reset(seed uint64) (backend.ValueBuffer, error) {
	l.rng = rand.New(rand.NewSource(seed))
	l.world = box2d.MakeB2World(box2d.MakeB2Vec2(XGravity, YGravity))
	l.world.SetContactListener(contactDetector{l})
	l.gameOver = false
	l.legContact = [2]bool{}
	l.shaped = false
	l.done = false

	w := ViewportW / Scale
	h := ViewportH / Scale
	l.buildBoundary(w, h)
	l.buildMoon(w, h)
	l.buildLander()

	// Settle the lander with one idle step
	if _, _, err := l.step(0, 0); err != nil {
		return backend.ValueBuffer{}, fmt.Errorf("reset: %w", err)
	}
	l.shaped = false
	if l.done {
		return backend.ValueBuffer{}, fmt.Errorf("reset: episode ended " +
			"as soon as it began")
	}
	return backend.FromFloat64(l.state)
}

// buildBoundary walls in the sides of the viewport. The walls reach
// twice the viewport height and nothing caps the top, since the
// lander spawns within its hull's height of the top edge.
func (l *lander) buildBoundary(w, h float64) {
	walls := [][2]box2d.B2Vec2{
		{box2d.MakeB2Vec2(0, 0), box2d.MakeB2Vec2(0, 2*h)},
		{box2d.MakeB2Vec2(w, 0), box2d.MakeB2Vec2(w, 2*h)},
	}
	l.boundary = make([]*box2d.B2Body, len(walls))
	for i, wall := range walls {
		def := box2d.NewB2BodyDef()
		def.Type = staticBody
		l.boundary[i] = l.world.CreateBody(def)

		shape := box2d.NewB2EdgeShape()
		shape.Set(wall[0], wall[1])
		fix := box2d.MakeB2FixtureDef()
		fix.Shape = shape
		l.boundary[i].CreateFixtureFromDef(&fix)
	}
}

// buildMoon creates random terrain with a flat helipad in the centre
func (l *lander) buildMoon(w, h float64) {
	height := make([]float64, Chunks+1)
	for i := range height {
		height[i] = l.rng.Float64() * (h / 2)
	}
	chunkX := make([]float64, Chunks)
	for i := range chunkX {
		chunkX[i] = float64(i) * (w / float64(Chunks-1))
	}

	l.helipadY = h / 4
	for i := Chunks/2 - 2; i <= Chunks/2+2; i++ {
		height[i] = l.helipadY
	}

	smoothY := make([]float64, Chunks)
	for i := range smoothY {
		prev := Chunks - 1
		if i > 0 {
			prev = i - 1
		}
		smoothY[i] = 0.33 * (height[prev] + height[i] + height[i+1])
	}

	def := box2d.NewB2BodyDef()
	def.Type = staticBody
	l.moon = l.world.CreateBody(def)

	ground := box2d.NewB2EdgeShape()
	ground.Set(box2d.MakeB2Vec2(0, 0), box2d.MakeB2Vec2(w, 0))
	fix := box2d.MakeB2FixtureDef()
	fix.Shape = ground
	l.moon.CreateFixtureFromDef(&fix)

	l.moonVertices = make([][2]float64, 0, 2*(Chunks-1))
	for i := 0; i < Chunks-1; i++ {
		p1 := [2]float64{chunkX[i], smoothY[i]}
		p2 := [2]float64{chunkX[i+1], smoothY[i+1]}
		l.moonVertices = append(l.moonVertices, p1, p2)

		edge := box2d.NewB2EdgeShape()
		edge.Set(box2d.MakeB2Vec2(p1[0], p1[1]), box2d.MakeB2Vec2(p2[0], p2[1]))
		fix := box2d.MakeB2FixtureDef()
		fix.Shape = edge
		fix.Friction = 0.1
		l.moon.CreateFixtureFromDef(&fix)
	}
}

// buildLander creates the lander and its legs at the top of the
// viewport and pushes it with a random force
func (l *lander) buildLander() {
	def := box2d.MakeB2BodyDef()
	def.Type = dynamicBody
	def.Position = box2d.MakeB2Vec2(InitialX, InitialY)
	l.body = l.world.CreateBody(&def)

	hull := box2d.NewB2PolygonShape()
	vertices := make([]box2d.B2Vec2, len(LanderPoly))
	for i, v := range LanderPoly {
		vertices[i] = box2d.MakeB2Vec2(v[0]/Scale, v[1]/Scale)
	}
	hull.Set(vertices, len(vertices))

	fix := box2d.MakeB2FixtureDef()
	fix.Shape = hull
	fix.Density = 5.0
	fix.Friction = 0.1
	fix.Filter = box2d.MakeB2Filter()
	fix.Filter.CategoryBits = 0x0010
	fix.Filter.MaskBits = 0x001
	l.body.CreateFixtureFromDef(&fix)

	force := box2d.MakeB2Vec2(
		(2*l.rng.Float64()-1)*InitialRandom,
		(2*l.rng.Float64()-1)*InitialRandom,
	)
	l.body.ApplyForceToCenter(force, true)

	l.legs = make([]*box2d.B2Body, 0, 2)
	for _, i := range []float64{-1, 1} {
		legDef := box2d.NewB2BodyDef()
		legDef.Type = dynamicBody
		legDef.Position = box2d.MakeB2Vec2(InitialX-i*LegAway/Scale, InitialY)
		legDef.Angle = i * 0.05
		leg := l.world.CreateBody(legDef)
		l.legs = append(l.legs, leg)

		shape := box2d.NewB2PolygonShape()
		shape.SetAsBox(LegW/Scale, LegH/Scale)
		legFix := box2d.MakeB2FixtureDef()
		legFix.Shape = shape
		legFix.Density = 1.0
		legFix.Filter = box2d.MakeB2Filter()
		legFix.Filter.CategoryBits = 0x0020
		legFix.Filter.MaskBits = 0x001
		leg.CreateFixtureFromDef(&legFix)

		joint := box2d.MakeB2RevoluteJointDef()
		joint.BodyA = l.body
		joint.BodyB = leg
		joint.LocalAnchorA = box2d.MakeB2Vec2(0, 0)
		joint.LocalAnchorB = box2d.MakeB2Vec2(i*LegAway/Scale, LegDown/Scale)
		joint.EnableMotor = true
		joint.EnableLimit = true
		joint.MaxMotorTorque = LegSpringTorque
		joint.MotorSpeed = 0.3 * i
		if i < 0 {
			joint.LowerAngle = 0.9 - 0.5
			joint.UpperAngle = 0.9
		} else {
			joint.LowerAngle = -0.9
			joint.UpperAngle = -0.9 + 0.5
		}
		l.world.CreateJoint(&joint)
	}
}

// step fires the engines with the given throttles, each in [-1, 1],
// and advances the world by one frame
func (l *lander) step(main, lateral float64) (float32, bool, error) {
	if l.rng == nil || l.done {
		return 0, false, env.ErrNeedsReset
	}
	main = floatutils.Clip(main, -1, 1)
	lateral = floatutils.Clip(lateral, -1, 1)

	angle := l.body.GetAngle()
	tip := [2]float64{math.Sin(angle), math.Cos(angle)}
	side := [2]float64{-tip[1], tip[0]}
	dispersion := [2]float64{
		(2*l.rng.Float64() - 1) / Scale,
		(2*l.rng.Float64() - 1) / Scale,
	}
	pos := l.body.GetPosition()

	// The main engine throttles from 50% to 100% over (0, 1]
	var mPower float64
	if main > 0 {
		mPower = (main + 1) * 0.5
		ox := tip[0]*(4/Scale+2*dispersion[0]) + side[0]*dispersion[1]
		oy := -tip[1]*(4/Scale+2*dispersion[0]) - side[1]*dispersion[1]
		l.body.ApplyLinearImpulse(
			box2d.MakeB2Vec2(-ox*MainEnginePower*mPower,
				-oy*MainEnginePower*mPower),
			box2d.MakeB2Vec2(pos.X+ox, pos.Y+oy),
			true,
		)
	}

	// The side engines are off over [-0.5, 0.5]
	var sPower float64
	if math.Abs(lateral) > 0.5 {
		direction := math.Copysign(1, lateral)
		sPower = floatutils.Clip(math.Abs(lateral), 0.5, 1)
		ox := tip[0]*dispersion[0] + side[0]*(3*dispersion[1]+
			direction*SideEngineAway/Scale)
		oy := -tip[1]*dispersion[0] - side[1]*(3*dispersion[1]+
			direction*SideEngineAway/Scale)
		l.body.ApplyLinearImpulse(
			box2d.MakeB2Vec2(-ox*SideEnginePower*sPower,
				-oy*SideEnginePower*sPower),
			box2d.MakeB2Vec2(pos.X+ox-tip[0]*17/Scale,
				pos.Y+oy+tip[1]*SideEngineHeight/Scale),
			true,
		)
	}

	l.world.Step(1/FPS, 6*int(Scale), 2*int(Scale))

	pos = l.body.GetPosition()
	vel := l.body.GetLinearVelocity()
	l.state = []float64{
		(pos.X - ViewportW/Scale/2) / (ViewportW / Scale / 2),
		(pos.Y - (l.helipadY + LegDown/Scale)) / (ViewportH/Scale - l.helipadY),
		vel.X * (ViewportW / Scale / 2) / FPS,
		vel.Y * (ViewportH / Scale / 2) / FPS,
		floatutils.Wrap(l.body.GetAngle(), -math.Pi, math.Pi),
		20 * l.body.GetAngularVelocity() / FPS,
		indicator(l.legContact[0]),
		indicator(l.legContact[1]),
	}

	// Shaping rewards approaching the pad slowly and upright, on legs
	s := l.state
	shaping := -100*math.Hypot(s[0], s[1]) - 100*math.Hypot(s[2], s[3]) -
		100*math.Abs(s[4]) + 10*s[6] + 10*s[7]
	var reward float64
	if l.shaped {
		reward = shaping - l.prevShaping
	}
	l.prevShaping = shaping
	l.shaped = true

	reward -= mPower * 0.30
	reward -= sPower * 0.03

	switch {
	case l.gameOver || math.Abs(s[0]) >= 1:
		reward = -100
		l.done = true
	case !l.body.IsAwake():
		reward = 100
		l.done = true
	}
	return float32(reward), l.done, nil
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (l *lander) snapshot(reward float32, done bool) (env.Snapshot, error) {
	state, err := backend.FromFloat64(l.state)
	if err != nil {
		return env.Snapshot{}, err
	}
	return env.Snapshot{State: state, Reward: reward, Terminated: done}, nil
}

func (l *lander) observationSpace() env.Space {
	v := float32(MaxVelocity)
	return env.NewContinuous(ObservationDims,
		[]float32{-1, -1, -v, -v, -math.Pi, -v, 0, 0},
		[]float32{1, 1, v, v, math.Pi, v, 1, 1},
	)
}

// Continuous is the Lunar Lander environment with continuous actions.
// The lander must be flown onto the helipad at the centre of randomly
// generated terrain.
//
// Observations hold the x and y position relative to the helipad, the
// x and y velocity, the angle wrapped to [-π, π], the angular velocity,
// and whether each leg touches the ground. Unlike LunarLander in Gym,
// the viewport is walled in, so the position features stay bounded.
//
// Actions are 2-dimensional in [-1, 1]. The first coordinate throttles
// the main engine from 50% to 100% power over (0, 1] and leaves it off
// otherwise. The second fires the left engine over [-1, -0.5) and the
// right engine over (0.5, 1]. Actions outside [-1, 1] are clipped.
//
// Episodes terminate with a reward of -100 when the hull touches the
// ground or the lander leaves the viewport horizontally, and with a
// reward of +100 when the lander comes to rest.
type Continuous struct {
	lander
}

// NewContinuous returns a new Continuous Lunar Lander. It must be Reset
// before the first Step.
func NewContinuous() *Continuous {
	return &Continuous{}
}

// Reset implements the environment.Environment interface
func (c *Continuous) Reset(seed uint64) (backend.ValueBuffer, error) {
	return c.reset(seed)
}

// Step implements the environment.Environment interface
func (c *Continuous) Step(a backend.ValueBuffer) (env.Snapshot, error) {
	action, err := env.ContinuousAction(a, ActionDims)
	if err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}
	reward, done, err := c.step(action[0], action[1])
	if err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}
	return c.snapshot(reward, done)
}

// Describe implements the environment.Environment interface
func (c *Continuous) Describe() env.Description {
	return env.Description{
		Observation: c.observationSpace(),
		Action: env.NewContinuous(ActionDims, []float32{-1, -1},
			[]float32{1, 1}),
	}
}

// Discrete is the Lunar Lander environment with four actions:
//
//	Action	Meaning
//	  0		Do nothing
//	  1		Fire left engine
//	  2		Fire main engine
//	  3		Fire right engine
//
// Otherwise it behaves as Continuous.
type Discrete struct {
	lander
}

// NewDiscrete returns a new Discrete Lunar Lander. It must be Reset
// before the first Step.
func NewDiscrete() *Discrete {
	return &Discrete{}
}

// throttles maps discrete actions to main and lateral throttles
var throttles = [][2]float64{{0, 0}, {0, -1}, {1, 0}, {0, 1}}

// Reset implements the environment.Environment interface
func (d *Discrete) Reset(seed uint64) (backend.ValueBuffer, error) {
	return d.reset(seed)
}

// Step implements the environment.Environment interface
func (d *Discrete) Step(a backend.ValueBuffer) (env.Snapshot, error) {
	action, err := env.DiscreteAction(a, NumActions)
	if err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}
	t := throttles[action]
	reward, done, err := d.step(t[0], t[1])
	if err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}
	return d.snapshot(reward, done)
}

// Describe implements the environment.Environment interface
func (d *Discrete) Describe() env.Description {
	return env.Description{
		Observation: d.observationSpace(),
		Action:      env.NewDiscrete(NumActions),
	}
}
