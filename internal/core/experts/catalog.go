// Package experts routes expert-mode questions to one or more personas and
// collects their answers.
package experts

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultExpert answers when no persona is mentioned or relevant.
const DefaultExpert = "ManufacturingExpert"

//go:embed experts.yaml
var catalogYAML []byte

type Persona struct {
	Name            string   `yaml:"name" json:"name"`
	Title           string   `yaml:"title" json:"title"`
	Expertise       string   `yaml:"expertise" json:"expertise"`
	Personality     string   `yaml:"personality" json:"-"`
	Specializations []string `yaml:"specializations" json:"specializations"`
}

// Mention is the handle users type to address the persona.
func (p Persona) Mention() string { return "@" + p.Name }

// Catalog is an ordered persona list.
type Catalog struct {
	personas []Persona
	byName   map[string]int
}

// DefaultCatalog parses the embedded persona file.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var ps []Persona
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse expert catalog: %w", err)
	}
	c := &Catalog{personas: ps, byName: make(map[string]int, len(ps))}
	for i, p := range ps {
		if p.Name == "" {
			return nil, fmt.Errorf("expert %d has no name", i)
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate expert %q", p.Name)
		}
		c.byName[p.Name] = i
	}
	return c, nil
}

// All returns the personas in catalog order.
func (c *Catalog) All() []Persona {
	return append([]Persona(nil), c.personas...)
}

func (c *Catalog) Get(name string) (Persona, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Persona{}, false
	}
	return c.personas[i], true
}
