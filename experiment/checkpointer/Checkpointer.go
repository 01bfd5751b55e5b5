// Package checkpointer implements hooks that periodically save
// serializable objects, such as agents, during training
package checkpointer

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Serializable is an object that can be saved/serialized
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Checkpointer checkpoints/saves serializable objects based on the
// iteration of an experiment
type Checkpointer interface {
	Checkpoint(iteration int) error
}

// Save gob-encodes object into filename
func Save(filename string, object Serializable) error {
	data, err := object.GobEncode()
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Load decodes object from a file written by Save
func Load(filename string, object Serializable) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if err := object.GobDecode(data); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}
