package checkpointer

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/algorithm"
)

// NStep checkpoints an object every N iterations
type NStep struct {
	interval int
	object   Serializable // Object to save

	// filename returns the name of the file to save the object in.
	//
	// If each serialized object should be saved in a separate file with
	// each file having an incremented number as a suffix (e.g.
	// agent000001.bin, agent000002.bin, ...), use FilenameEnumerator.
	// To overwrite a single file, return a constant.
	filename func() string
}

// NewNStep returns a checkpointer that checkpoints every n iterations
func NewNStep(n int, object Serializable,
	filename func() string) (*NStep, error) {
	if n <= 0 {
		return nil, fmt.Errorf("newNStep: interval must be positive, "+
			"have(%v)", n)
	}
	return &NStep{
		interval: n,
		object:   object,
		filename: filename,
	}, nil
}

// Checkpoint saves the object if iteration is a multiple of the
// interval
func (n *NStep) Checkpoint(iteration int) error {
	if iteration%n.interval != 0 {
		return nil
	}
	if err := Save(n.filename(), n.object); err != nil {
		return fmt.Errorf("checkpoint: iteration %d: %w", iteration, err)
	}
	return nil
}

// Hook returns a post-learn hook checkpointing every iteration
func (n *NStep) Hook() algorithm.PostLearnHook {
	return func(r algorithm.Report) error {
		return n.Checkpoint(r.Iteration)
	}
}
