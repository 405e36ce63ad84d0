// Package catalog holds the fixed habit catalog referenced by habit logs.
// The catalog ships embedded in the binary; the sync core never mutates it.
package catalog

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed habits.yaml
var habitsYAML []byte

// Habit is a single catalog entry.
type Habit struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Bolts           int    `yaml:"bolts"`
	DurationSeconds int    `yaml:"duration_seconds"`
}

type catalogFile struct {
	Habits []Habit `yaml:"habits"`
}

var (
	loadOnce sync.Once
	loadErr  error
	byID     map[string]Habit
	ordered  []Habit
)

func load() error {
	loadOnce.Do(func() {
		var f catalogFile
		if err := yaml.Unmarshal(habitsYAML, &f); err != nil {
			loadErr = fmt.Errorf("failed to parse habit catalog: %w", err)
			return
		}
		byID = make(map[string]Habit, len(f.Habits))
		for _, h := range f.Habits {
			byID[h.ID] = h
		}
		ordered = f.Habits
	})
	return loadErr
}

// Lookup returns the catalog entry for a habit id.
func Lookup(id string) (Habit, bool) {
	if err := load(); err != nil {
		return Habit{}, false
	}
	h, ok := byID[id]
	return h, ok
}

// All returns every catalog entry in file order.
func All() ([]Habit, error) {
	if err := load(); err != nil {
		return nil, err
	}
	return ordered, nil
}
