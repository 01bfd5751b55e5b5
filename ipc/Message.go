package ipc

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/policy"
)

// Tag identifies the kind of a Message. Tag values are part of the wire
// format and never change.
type Tag uint8

const (
	// Halt asks a worker to exit
	Halt Tag = iota

	// Halting acknowledges a Halt; the worker exits after sending it
	Halting

	// StartRollout asks a worker to collect a rollout with a policy
	StartRollout

	// RolloutResult carries a collected rollout back to the pool
	RolloutResult

	// Failure reports an error that stopped a worker from serving a
	// request
	Failure
)

func (t Tag) String() string {
	switch t {
	case Halt:
		return "Halt"
	case Halting:
		return "Halting"
	case StartRollout:
		return "StartRollout"
	case RolloutResult:
		return "RolloutResult"
	case Failure:
		return "Failure"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// RuleKind is the kind of stopping rule a worker collects under
type RuleKind uint8

const (
	// Steps collects exactly N steps
	Steps RuleKind = iota

	// EpisodeSteps collects complete episodes until at least N steps
	// were taken
	EpisodeSteps

	// Episodes collects exactly N complete episodes
	Episodes
)

func (k RuleKind) String() string {
	switch k {
	case Steps:
		return "Steps"
	case EpisodeSteps:
		return "EpisodeSteps"
	case Episodes:
		return "Episodes"
	default:
		return fmt.Sprintf("RuleKind(%d)", uint8(k))
	}
}

// Rule is the stopping rule of one rollout request
type Rule struct {
	Kind RuleKind
	N    int
}

// Validate checks that the rule can be served
func (r Rule) Validate() error {
	if r.Kind > Episodes {
		return fmt.Errorf("validate: unknown rule kind %v", r.Kind)
	}
	if r.N <= 0 {
		return fmt.Errorf("validate: rule bound must be positive, have(%v)",
			r.N)
	}
	return nil
}

// Message is one request or response. Only the fields of its Tag are
// meaningful:
//
//	StartRollout:  Seed, Rule, Policy
//	RolloutResult: Rollout
//	Failure:       Err
type Message struct {
	Tag Tag

	Seed   uint64
	Rule   Rule
	Policy policy.Snapshot

	Rollout buffer.Rollout

	Err string
}

// MarshalBinary implements encoding.BinaryMarshaler
func (m Message) MarshalBinary() ([]byte, error) {
	var e encoder
	e.u8(uint8(m.Tag))

	switch m.Tag {
	case Halt, Halting:
	case StartRollout:
		e.u64(m.Seed)
		e.u8(uint8(m.Rule.Kind))
		e.int(m.Rule.N)
		e.snapshot(m.Policy)
	case RolloutResult:
		e.rollout(m.Rollout)
	case Failure:
		e.string(m.Err)
	default:
		return nil, fmt.Errorf("marshalBinary: %v: %w", m.Tag, ErrUnknownTag)
	}

	if e.err != nil {
		return nil, fmt.Errorf("marshalBinary: %v", e.err)
	}
	return e.buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The payload
// must hold exactly one message.
func (m *Message) UnmarshalBinary(payload []byte) error {
	d := decoder{buf: payload}
	*m = Message{Tag: Tag(d.u8())}
	if d.err != nil {
		return fmt.Errorf("unmarshalBinary: %w", d.err)
	}

	switch m.Tag {
	case Halt, Halting:
	case StartRollout:
		m.Seed = d.u64()
		m.Rule.Kind = RuleKind(d.u8())
		m.Rule.N = d.int()
		m.Policy = d.snapshot()
	case RolloutResult:
		m.Rollout = d.rollout()
	case Failure:
		m.Err = d.string()
	default:
		return fmt.Errorf("unmarshalBinary: %v: %w", m.Tag, ErrUnknownTag)
	}

	if d.err != nil {
		return fmt.Errorf("unmarshalBinary: %v: %w", m.Tag, d.err)
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("unmarshalBinary: %v: %v trailing bytes", m.Tag,
			len(d.buf))
	}
	return nil
}
