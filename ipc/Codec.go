package ipc

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/samuelfneumann/onpolicy/backend"
	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/policy"
)

// encoder appends big-endian fields to buf. The first error is sticky.
type encoder struct {
	buf []byte
	err error
}

func (e *encoder) u8(x uint8) {
	e.buf = append(e.buf, x)
}

func (e *encoder) u32(x uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, x)
}

func (e *encoder) u64(x uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, x)
}

func (e *encoder) int(x int) {
	if x < 0 || x > math.MaxUint32 {
		if e.err == nil {
			e.err = fmt.Errorf("integer %v out of range", x)
		}
		return
	}
	e.u32(uint32(x))
}

func (e *encoder) f32(x float32) {
	e.u32(math.Float32bits(x))
}

func (e *encoder) f64(x float64) {
	e.u64(math.Float64bits(x))
}

func (e *encoder) bool(x bool) {
	if x {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) string(s string) {
	e.int(len(s))
	e.buf = append(e.buf, s...)
}

func (e *encoder) valueBuffer(v backend.ValueBuffer) {
	if err := v.Validate(); err != nil && e.err == nil {
		e.err = err
	}
	e.int(len(v.Shape))
	for _, dim := range v.Shape {
		e.int(dim)
	}
	e.int(len(v.Data))
	for _, x := range v.Data {
		e.f32(x)
	}
}

func (e *encoder) valueBuffers(vs []backend.ValueBuffer) {
	e.int(len(vs))
	for _, v := range vs {
		e.valueBuffer(v)
	}
}

func (e *encoder) snapshot(s policy.Snapshot) {
	e.u8(uint8(s.Kind))
	e.int(s.Features)
	e.int(s.ActionDims)
	e.int(len(s.HiddenSizes))
	for _, h := range s.HiddenSizes {
		e.int(h)
	}
	e.int(len(s.Activations))
	for _, a := range s.Activations {
		e.string(a)
	}
	e.valueBuffers(s.Params)
}

func (e *encoder) rollout(r buffer.Rollout) {
	if err := r.Validate(); err != nil && e.err == nil {
		e.err = err
	}
	e.valueBuffers(r.States)
	e.valueBuffers(r.Actions)
	e.int(len(r.Rewards))
	for _, x := range r.Rewards {
		e.f32(x)
	}
	e.int(len(r.Dones))
	for _, x := range r.Dones {
		e.bool(x)
	}
	e.valueBuffer(r.Terminal)
	e.int(len(r.EpisodeReturns))
	for _, x := range r.EpisodeReturns {
		e.f64(x)
	}
}

// decoder consumes big-endian fields from buf. Reading past the end of
// buf sets a sticky ErrTruncated, after which reads return zero values.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) next(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf) < n {
		d.err = ErrTruncated
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	b := d.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.next(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) int() int {
	return int(d.u32())
}

// count reads a length prefix for elements of size bytes each and
// checks that that many bytes remain
func (d *decoder) count(size int) int {
	n := d.int()
	if d.err == nil && n*size > len(d.buf) {
		d.err = ErrTruncated
	}
	if d.err != nil {
		return 0
	}
	return n
}

func (d *decoder) f32() float32 {
	return math.Float32frombits(d.u32())
}

func (d *decoder) f64() float64 {
	return math.Float64frombits(d.u64())
}

func (d *decoder) bool() bool {
	return d.u8() != 0
}

func (d *decoder) string() string {
	return string(d.next(d.count(1)))
}

func (d *decoder) valueBuffer() backend.ValueBuffer {
	shape := make([]int, d.count(4))
	for i := range shape {
		shape[i] = d.int()
	}
	data := make([]float32, d.count(4))
	for i := range data {
		data[i] = d.f32()
	}
	v := backend.ValueBuffer{Data: data, Shape: shape}
	if d.err == nil {
		if err := v.Validate(); err != nil {
			d.err = fmt.Errorf("value buffer: %w", err)
		}
	}
	return v
}

func (d *decoder) valueBuffers() []backend.ValueBuffer {
	// Every buffer takes at least its two length prefixes
	vs := make([]backend.ValueBuffer, d.count(8))
	for i := range vs {
		vs[i] = d.valueBuffer()
	}
	return vs
}

func (d *decoder) snapshot() policy.Snapshot {
	var s policy.Snapshot
	s.Kind = policy.Kind(d.u8())
	s.Features = d.int()
	s.ActionDims = d.int()
	s.HiddenSizes = make([]int, d.count(4))
	for i := range s.HiddenSizes {
		s.HiddenSizes[i] = d.int()
	}
	s.Activations = make([]string, d.count(4))
	for i := range s.Activations {
		s.Activations[i] = d.string()
	}
	s.Params = d.valueBuffers()
	return s
}

func (d *decoder) rollout() buffer.Rollout {
	var r buffer.Rollout
	r.States = d.valueBuffers()
	r.Actions = d.valueBuffers()
	r.Rewards = make([]float32, d.count(4))
	for i := range r.Rewards {
		r.Rewards[i] = d.f32()
	}
	r.Dones = make([]bool, d.count(1))
	for i := range r.Dones {
		r.Dones[i] = d.bool()
	}
	r.Terminal = d.valueBuffer()
	if n := d.count(8); n > 0 {
		r.EpisodeReturns = make([]float64, n)
		for i := range r.EpisodeReturns {
			r.EpisodeReturns[i] = d.f64()
		}
	}
	if d.err == nil {
		if err := r.Validate(); err != nil {
			d.err = err
		}
	}
	return r
}
