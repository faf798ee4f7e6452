package config

import (
	"fmt"
	"os"

	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/pkg/validate"
	"gopkg.in/yaml.v3"
)

// Catalog is the YAML file describing global settings, the opt-in forms and the admins.
type Catalog struct {
	Settings domain.Settings        `yaml:"settings"`
	Forms    []domain.FormParameter `yaml:"forms" validate:"dive"`
	Admins   []domain.Admin         `yaml:"admins" validate:"dive"`
}

// LoadCatalog reads and validates the forms file at path.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read forms config: %w", err)
	}
	return ParseCatalog(b)
}

// ParseCatalog decodes YAML bytes into a Catalog.
func ParseCatalog(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse forms config: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("invalid forms config: %w", err)
	}
	seen := make(map[string]bool, len(c.Forms))
	for _, f := range c.Forms {
		key := f.FormType + "/" + f.FormID
		if seen[key] {
			return nil, fmt.Errorf("invalid forms config: duplicate form %s", key)
		}
		seen[key] = true
	}
	c.Settings = c.Settings.WithDefaults()
	return &c, nil
}

// FormsOfType returns the forms configured for one form system, keyed by form id.
func (c *Catalog) FormsOfType(formType string) map[string]domain.FormParameter {
	out := make(map[string]domain.FormParameter)
	for _, f := range c.Forms {
		if f.FormType == formType {
			out[f.FormID] = f
		}
	}
	return out
}
