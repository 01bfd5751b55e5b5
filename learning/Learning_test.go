package learning

import (
	"math"
	"testing"

	"github.com/samuelfneumann/onpolicy/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// quadratic builds loss = Σ p² + Σ v² over two learnable vectors and
// runs it once, so that both hold gradients 2p and 2v
func quadratic(t *testing.T, p, v []float64) (G.Nodes, G.Nodes, func()) {
	g := G.NewGraph()
	pNode := G.NewVector(g, tensor.Float64, G.WithShape(len(p)),
		G.WithName("p"), G.WithValue(tensor.New(tensor.WithShape(len(p)),
		tensor.WithBacking(p))))
	vNode := G.NewVector(g, tensor.Float64, G.WithShape(len(v)),
		G.WithName("v"), G.WithValue(tensor.New(tensor.WithShape(len(v)),
		tensor.WithBacking(v))))

	loss := G.Must(G.Add(
		G.Must(G.Sum(G.Must(G.Square(pNode)))),
		G.Must(G.Sum(G.Must(G.Square(vNode)))),
	))
	_, err := G.Grad(loss, pNode, vNode)
	require.NoError(t, err)

	vm := G.NewTapeMachine(g, G.BindDualValues(pNode, vNode))
	require.NoError(t, vm.RunAll())
	return G.Nodes{pNode}, G.Nodes{vNode}, func() { vm.Close() }
}

func data(n *G.Node) []float64 {
	return n.Value().Data().([]float64)
}

func TestClipGradNorm(t *testing.T) {
	p, v, done := quadratic(t, []float64{3}, []float64{4})
	defer done()
	nodes := append(p, v...)

	// Gradients are (6, 8) with norm 10
	norm, err := ClipGradNorm(nodes, 0)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, norm, 1e-12)

	norm, err = ClipGradNorm(nodes, 20)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, norm, 1e-12)
	grad, _ := p[0].Grad()
	assert.InDelta(t, 6.0, grad.Data().([]float64)[0], 1e-12,
		"gradients below the maximum norm are untouched")

	norm, err = ClipGradNorm(nodes, 5)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, norm, 1e-12)

	clipped, err := ClipGradNorm(nodes, 0)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, clipped, 1e-5)
	grad, _ = v[0].Grad()
	assert.InDelta(t, 8*5/(10+1e-6), grad.Data().([]float64)[0], 1e-12)
}

func TestParallelStep(t *testing.T) {
	m, err := New(Config{Kind: Parallel, Policy: solver.NewVanilla(0.1)})
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.ValueCoef(0.5))

	p, v, done := quadratic(t, []float64{1}, []float64{2})
	defer done()

	norm, err := m.Step(p, v)
	require.NoError(t, err)
	assert.InDelta(t, math.Hypot(2, 4), norm, 1e-12)
	assert.InDelta(t, 1-0.1*2, data(p[0])[0], 1e-12)
	assert.InDelta(t, 2-0.1*4, data(v[0])[0], 1e-12)
}

func TestDecoupledStep(t *testing.T) {
	m, err := New(Config{
		Kind:        Decoupled,
		Policy:      solver.NewVanilla(0.1),
		Value:       solver.NewVanilla(0.01),
		MaxGradNorm: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.ValueCoef(0.5))

	p, v, done := quadratic(t, []float64{1}, []float64{2})
	defer done()

	_, err = m.Step(p, v)
	require.NoError(t, err)

	// Each group is clipped to unit norm separately, then stepped with
	// its own learning rate
	assert.InDelta(t, 1-0.1*(2/(2+1e-6)), data(p[0])[0], 1e-9)
	assert.InDelta(t, 2-0.01*(4/(4+1e-6)), data(v[0])[0], 1e-9)
}

func TestStepValue(t *testing.T) {
	m, err := New(Config{Kind: Parallel, Policy: solver.NewVanilla(0.1)})
	require.NoError(t, err)

	p, v, done := quadratic(t, []float64{1}, []float64{2})
	defer done()

	_, err = m.StepValue(v)
	require.NoError(t, err)
	assert.Equal(t, 1.0, data(p[0])[0], "policy untouched")
	assert.InDelta(t, 2-0.1*4, data(v[0])[0], 1e-12)
}

func TestConfigYAML(t *testing.T) {
	in := `
kind: decoupled
max_grad_norm: 0.5
policy: {type: Adam, step_size: 0.0003}
value: {type: Adam, step_size: 0.001}
`
	var c Config
	require.NoError(t, yaml.Unmarshal([]byte(in), &c))
	assert.Equal(t, Decoupled, c.Kind)
	assert.Equal(t, 0.5, c.MaxGradNorm)
	assert.NoError(t, c.Validate())

	assert.Error(t, Config{Kind: Decoupled,
		Policy: solver.NewVanilla(0.1)}.Validate(), "missing value solver")
}
