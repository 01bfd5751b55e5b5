package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		ok     bool
	}{
		{"adam", NewDefaultAdam(1e-3), true},
		{"adam partial", Config{Type: Adam, StepSize: 1e-3}, true},
		{"vanilla", NewVanilla(0.1), true},
		{"rmsprop", NewDefaultRMSProp(0.1), true},
		{"no step size", Config{Type: Adam}, false},
		{"bad beta", NewAdam(1e-3, 1e-8, 1.5, 0.999), false},
		{"unknown", Config{Type: "Lion", StepSize: 1}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.config.Validate()
			if test.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestUnmarshalYAML(t *testing.T) {
	in := "type: Adam\nstep_size: 0.0003\n"
	var c Config
	require.NoError(t, yaml.Unmarshal([]byte(in), &c))
	assert.Equal(t, Adam, c.Type)
	assert.Equal(t, 3e-4, c.StepSize)

	s, err := c.Create()
	require.NoError(t, err)
	assert.Equal(t, 0.9, s.Beta1)
	assert.Equal(t, 0.999, s.Beta2)
}

// A vanilla solver step moves a learnable by -stepSize * gradient
func TestVanillaStep(t *testing.T) {
	g := G.NewGraph()
	w := G.NewVector(g, tensor.Float64, G.WithShape(2), G.WithName("w"),
		G.WithValue(tensor.New(tensor.WithShape(2),
			tensor.WithBacking([]float64{1, -2}))))
	loss := G.Must(G.Sum(G.Must(G.Square(w))))
	_, err := G.Grad(loss, w)
	require.NoError(t, err)

	vm := G.NewTapeMachine(g, G.BindDualValues(w))
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	s, err := NewVanilla(0.1).Create()
	require.NoError(t, err)
	require.NoError(t, s.Step([]G.ValueGrad{w}))

	// d/dw sum(w²) = 2w
	assert.InDeltaSlice(t, []float64{1 - 0.2, -2 + 0.4},
		w.Value().Data().([]float64), 1e-12)
}
