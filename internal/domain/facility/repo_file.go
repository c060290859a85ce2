package facility

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileCatalog reads facilities from a YAML document of the form:
//
//	facilities:
//	  - id: CHU-LILLE
//	    name: CHU de Lille
//	    capacity: {lit_rea: 4, respirateur: 3, scanner: 2, lit: 30}
type FileCatalog struct {
	path string
}

func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{path: path}
}

type catalogDocument struct {
	Facilities []catalogEntry `yaml:"facilities"`
}

type catalogEntry struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Capacity map[string]int `yaml:"capacity"`
}

func (c *FileCatalog) Load(_ context.Context) ([]Facility, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read facility catalog %s: %w", c.path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML facility catalog.
func ParseCatalog(data []byte) ([]Facility, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode facility catalog: %w", err)
	}
	out := make([]Facility, 0, len(doc.Facilities))
	for i, e := range doc.Facilities {
		capacity, err := ResourcesFromMap(e.Capacity)
		if err != nil {
			return nil, fmt.Errorf("facility #%d (%s): %w", i, e.ID, err)
		}
		f := Facility{ID: e.ID, Name: e.Name, Capacity: capacity}
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("facility #%d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}
