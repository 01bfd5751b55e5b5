// Package initwfn implements seeded weight initialisation schemes that
// can be serialized into configuration files.
package initwfn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Type describes different types of InitWFn that are available.
// Type is used to implement a basic type system of InitWFn's.
type Type string

// Available InitWFn types
const (
	GlorotU  Type = "GlorotU"
	GlorotN  Type = "GlorotN"
	HeU      Type = "HeU"
	HeN      Type = "HeN"
	Uniform  Type = "Uniform"
	Gaussian Type = "Gaussian"
	Zeroes   Type = "Zeroes"
	Ones     Type = "Ones"
	Constant Type = "Constant"
)

// Config describes a weight initialisation scheme. Only the fields
// used by Type are read:
//
//	Type				Fields
//	GlorotU, GlorotN	Gain
//	HeU, HeN			Gain
//	Uniform				Low, High
//	Gaussian			Mean, StdDev
//	Constant			Value
type Config struct {
	Type   Type    `yaml:"type"`
	Gain   float64 `yaml:"gain,omitempty"`
	Low    float64 `yaml:"low,omitempty"`
	High   float64 `yaml:"high,omitempty"`
	Mean   float64 `yaml:"mean,omitempty"`
	StdDev float64 `yaml:"stddev,omitempty"`
	Value  float64 `yaml:"value,omitempty"`
}

// NewGlorotU returns the configuration of a Glorot Uniform initialiser
func NewGlorotU(gain float64) Config {
	return Config{Type: GlorotU, Gain: gain}
}

// NewGlorotN returns the configuration of a Glorot Normal initialiser
func NewGlorotN(gain float64) Config {
	return Config{Type: GlorotN, Gain: gain}
}

// NewHeU returns the configuration of a He Uniform initialiser
func NewHeU(gain float64) Config {
	return Config{Type: HeU, Gain: gain}
}

// NewHeN returns the configuration of a He Normal initialiser
func NewHeN(gain float64) Config {
	return Config{Type: HeN, Gain: gain}
}

// NewUniform returns the configuration of an initialiser drawing
// weights uniformly from [low, high)
func NewUniform(low, high float64) Config {
	return Config{Type: Uniform, Low: low, High: high}
}

// NewGaussian returns the configuration of an initialiser drawing
// weights from a gaussian distribution
func NewGaussian(mean, stddev float64) Config {
	return Config{Type: Gaussian, Mean: mean, StdDev: stddev}
}

// NewConstant returns the configuration of an initialiser setting all
// weights to value
func NewConstant(value float64) Config {
	return Config{Type: Constant, Value: value}
}

// Validate checks whether the Config describes a legal initialiser
func (c Config) Validate() error {
	switch c.Type {
	case GlorotU, GlorotN, HeU, HeN:
		if c.Gain <= 0 {
			return fmt.Errorf("validate: %v gain must be positive", c.Type)
		}
	case Uniform:
		if c.High <= c.Low {
			return fmt.Errorf("validate: uniform bounds [%v, %v) are empty",
				c.Low, c.High)
		}
	case Gaussian:
		if c.StdDev <= 0 {
			return fmt.Errorf("validate: gaussian standard deviation must "+
				"be positive, have(%v)", c.StdDev)
		}
	case Zeroes, Ones, Constant:
	default:
		return fmt.Errorf("validate: unknown initialiser type %q", c.Type)
	}
	return nil
}

// Create returns the initialiser described by the Config, drawing
// weights with an RNG seeded by seed.
func (c Config) Create(seed uint64) (*InitWFn, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("create: %v", err)
	}
	return &InitWFn{Config: c, src: rand.NewSource(seed)}, nil
}

// InitWFn initialises the weights of a layer mapping fanIn inputs to
// fanOut outputs.
type InitWFn struct {
	Config
	src rand.Source
}

// Weights returns fanIn*fanOut weights in row-major [fanIn, fanOut]
// order
func (w *InitWFn) Weights(fanIn, fanOut int) []float64 {
	weights := make([]float64, fanIn*fanOut)

	var sample func() float64
	switch w.Type {
	case GlorotU:
		limit := w.Gain * math.Sqrt(6.0/float64(fanIn+fanOut))
		sample = distuv.Uniform{Min: -limit, Max: limit, Src: w.src}.Rand
	case GlorotN:
		std := w.Gain * math.Sqrt(2.0/float64(fanIn+fanOut))
		sample = distuv.Normal{Mu: 0, Sigma: std, Src: w.src}.Rand
	case HeU:
		limit := w.Gain * math.Sqrt(6.0/float64(fanIn))
		sample = distuv.Uniform{Min: -limit, Max: limit, Src: w.src}.Rand
	case HeN:
		std := w.Gain * math.Sqrt(2.0/float64(fanIn))
		sample = distuv.Normal{Mu: 0, Sigma: std, Src: w.src}.Rand
	case Uniform:
		sample = distuv.Uniform{Min: w.Low, Max: w.High, Src: w.src}.Rand
	case Gaussian:
		sample = distuv.Normal{Mu: w.Mean, Sigma: w.StdDev, Src: w.src}.Rand
	case Zeroes:
		return weights
	case Ones:
		sample = func() float64 { return 1.0 }
	case Constant:
		sample = func() float64 { return w.Value }
	default:
		panic(fmt.Sprintf("weights: unknown initialiser type %q", w.Type))
	}

	for i := range weights {
		weights[i] = sample()
	}
	return weights
}

// InitWFn returns the initialiser as a Gorgonia InitWFn, for
// initialising nodes of a computational graph directly. Only
// two-dimensional Float64 shapes are supported.
func (w *InitWFn) InitWFn() G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		if dt != tensor.Float64 || len(s) != 2 {
			panic(fmt.Sprintf("initWFn: unsupported dtype %v or shape %v",
				dt, s))
		}
		return w.Weights(s[0], s[1])
	}
}

// String implements the fmt.Stringer interface
func (w *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: %+v}", w.Type, w.Config)
}
