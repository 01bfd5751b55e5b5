// Package tracker defines Trackers, which record data over the
// iterations of an experiment and save it once the experiment ends
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/samuelfneumann/onpolicy/algorithm"
)

// Tracker keeps track of experiment data and saves the data after the
// experiment has finished
type Tracker interface {
	Track(r algorithm.Report) error
	Save() error
}

// Hook returns a post-learn hook tracking every iteration with t
func Hook(t Tracker) algorithm.PostLearnHook {
	return t.Track
}

// Save gob-encodes data into filename
func Save(filename string, data any) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(data); err != nil {
		return fmt.Errorf("save: could not encode data: %w", err)
	}
	return nil
}

// LoadData loads the data saved by a Tracker into data, which must be
// a pointer to the type the Tracker saves
func LoadData(filename string, data any) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("loadData: could not open data file: %w", err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(data); err != nil {
		return fmt.Errorf("loadData: could not decode data: %w", err)
	}
	return nil
}
