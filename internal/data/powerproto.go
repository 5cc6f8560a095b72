// Package data loads the read-only game-design database. Tables are built
// once at startup and never mutated afterward, so lookups are safe from any
// goroutine.
package data

import (
	"fmt"
	"os"
	"sort"

	"github.com/veldrin/server/internal/game/power"
	"gopkg.in/yaml.v3"
)

// DesignStateApproved marks prototypes cleared for assignment at runtime.
const DesignStateApproved = "approved"

// PowerPrototype holds a single power definition.
type PowerPrototype struct {
	ID          uint64 `yaml:"id"`
	Name        string `yaml:"name"`
	Blueprint   string `yaml:"blueprint"`    // blueprint class, drives construction
	DesignState string `yaml:"design_state"` // "approved", "development", "retired"
	Script      string `yaml:"script"`       // Lua activation hook name (optional)
	Progression bool   `yaml:"progression"`  // part of the permanent level-up build
	MinLevel    int16  `yaml:"min_level"`    // character level the build grants it at
}

// PowerTable holds all power prototypes indexed by id. It implements
// power.DesignDB.
type PowerTable struct {
	byID map[power.PrototypeID]*PowerPrototype
}

// LoadPowerTable reads power definitions from a YAML file.
func LoadPowerTable(path string) (*PowerTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read power table %s: %w", path, err)
	}

	var entries []PowerPrototype
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse power table %s: %w", path, err)
	}

	t := &PowerTable{byID: make(map[power.PrototypeID]*PowerPrototype, len(entries))}
	for i := range entries {
		p := &entries[i]
		if p.Blueprint == "" {
			p.Blueprint = power.BlueprintPower
		}
		if _, dup := t.byID[power.PrototypeID(p.ID)]; dup {
			return nil, fmt.Errorf("power table %s: duplicate prototype id %d", path, p.ID)
		}
		t.byID[power.PrototypeID(p.ID)] = p
	}
	return t, nil
}

// NewPowerTable builds a table from in-memory prototypes (tests, tooling).
func NewPowerTable(entries []PowerPrototype) *PowerTable {
	t := &PowerTable{byID: make(map[power.PrototypeID]*PowerPrototype, len(entries))}
	for i := range entries {
		p := &entries[i]
		if p.Blueprint == "" {
			p.Blueprint = power.BlueprintPower
		}
		t.byID[power.PrototypeID(p.ID)] = p
	}
	return t
}

// Get returns a prototype by id, or nil.
func (t *PowerTable) Get(id power.PrototypeID) *PowerPrototype {
	return t.byID[id]
}

// IsApproved reports whether the prototype exists and is cleared for use.
func (t *PowerTable) IsApproved(id power.PrototypeID) bool {
	p := t.byID[id]
	return p != nil && p.DesignState == DesignStateApproved
}

// BlueprintClass returns the prototype's blueprint class, or "" if unknown.
func (t *PowerTable) BlueprintClass(id power.PrototypeID) string {
	p := t.byID[id]
	if p == nil {
		return ""
	}
	return p.Blueprint
}

// Count returns total loaded prototypes.
func (t *PowerTable) Count() int {
	return len(t.byID)
}

// ProgressionFor returns the approved progression-build prototypes available
// at the given character level, in ascending id order.
func (t *PowerTable) ProgressionFor(level int16) []power.PrototypeID {
	var ids []power.PrototypeID
	for id, p := range t.byID {
		if p.Progression && p.DesignState == DesignStateApproved && p.MinLevel <= level {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
