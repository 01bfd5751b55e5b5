package agent

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
)

// checkpoint is the gob-encoded form of an agent's learned parameters
type checkpoint struct {
	Kind   Kind
	Policy []backend.ValueBuffer
	Value  []backend.ValueBuffer
}

// GobEncode implements the gob.GobEncoder interface. Only the policy
// and value parameters are encoded; solver state is not.
func (a *Agent) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	c := checkpoint{
		Kind:   a.kind,
		Policy: a.policy.Params(),
		Value:  a.value.Network().Params(),
	}
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("gobEncode: %v", err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The agent must
// have been created with the architecture of the encoded agent.
func (a *Agent) GobDecode(in []byte) error {
	var c checkpoint
	if err := gob.NewDecoder(bytes.NewReader(in)).Decode(&c); err != nil {
		return fmt.Errorf("gobDecode: %v", err)
	}
	if c.Kind != a.kind {
		return fmt.Errorf("gobDecode: cannot load %v parameters into %v "+
			"agent", c.Kind, a.kind)
	}
	if err := a.policy.SetParams(c.Policy); err != nil {
		return fmt.Errorf("gobDecode: policy: %w", err)
	}
	if err := a.value.Network().SetParams(c.Value); err != nil {
		return fmt.Errorf("gobDecode: value function: %w", err)
	}
	return nil
}
