package world

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/talgya/territory/internal/territory"
)

// File is the on-disk world definition.
type File struct {
	Entities []*territory.Entity `json:"entities"`
}

// LoadFile reads a JSON world definition.
func LoadFile(path string) ([]*territory.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read world file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse world file: %w", err)
	}
	for _, e := range f.Entities {
		if e.Special == "" {
			e.Special = territory.SpecialStandard
		}
	}
	return f.Entities, nil
}
