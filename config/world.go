package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// World is a simulated world definition, usually world.toml:
//
//	[[entity]]
//	name = "chest"
//	dimension = "overworld"
//	pos = [0, 64, 0]
//	slots = 27
//
//	[[entity.items]]
//	slot = 0
//	name = "iron_ingot"
//	count = 12
type World struct {
	Entities []EntityDef `toml:"entity" json:"entity"`
}

// EntityDef is one inventory entity in a world definition.
type EntityDef struct {
	Name      string    `toml:"name" json:"name"`
	Dimension string    `toml:"dimension" json:"dimension"`
	Pos       [3]int32  `toml:"pos" json:"pos"`
	Slots     int       `toml:"slots" json:"slots"`
	Items     []ItemDef `toml:"items" json:"items"`
}

// ItemDef is one filled slot.
type ItemDef struct {
	Slot  int      `toml:"slot" json:"slot"`
	Name  string   `toml:"name" json:"name"`
	Count int      `toml:"count" json:"count"`
	Tags  []string `toml:"tags" json:"tags"`
}

// LoadWorld reads and validates a world definition file.
func LoadWorld(path string) (*World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return ParseWorld(data, path)
}

// ParseWorld decodes and validates a world definition. name is used in
// error messages.
func ParseWorld(data []byte, name string) (*World, error) {
	var w World
	if err := toml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}

	if w.Entities == nil {
		w.Entities = []EntityDef{}
	}
	for i := range w.Entities {
		e := &w.Entities[i]
		if e.Dimension == "" {
			e.Dimension = "overworld"
		}
		if e.Slots == 0 {
			e.Slots = 27
		}
		if e.Items == nil {
			e.Items = []ItemDef{}
		}
		for j := range e.Items {
			if e.Items[j].Tags == nil {
				e.Items[j].Tags = []string{}
			}
		}
	}

	if err := validate(name, "#World", &w); err != nil {
		return nil, err
	}
	if err := w.check(name); err != nil {
		return nil, err
	}
	return &w, nil
}

// check enforces the cross-field rules the schema cannot express.
func (w *World) check(name string) error {
	for _, e := range w.Entities {
		used := make(map[int]bool, len(e.Items))
		for _, it := range e.Items {
			if it.Slot >= e.Slots {
				return fmt.Errorf("config: invalid %s: entity %q: slot %d out of range (has %d slots)", name, e.Name, it.Slot, e.Slots)
			}
			if used[it.Slot] {
				return fmt.Errorf("config: invalid %s: entity %q: slot %d filled twice", name, e.Name, it.Slot)
			}
			used[it.Slot] = true
		}
	}
	return nil
}
