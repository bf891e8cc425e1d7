package steps

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"ai-talker/internal/domain"
)

const maxCatalogSize = 1 << 20

type catalogFile struct {
	Steps []domain.Step `yaml:"steps"`
}

// Load reads a YAML catalog of the form:
//
//	steps:
//	  - id: GREETING
//	    template: "Greet the customer. {GREETING}"
//	  - id: INFO_PROVISION
//	    template: "..."
//	    augments: true
func Load(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxCatalogSize+1))
	if err != nil {
		return nil, fmt.Errorf("steps: read catalog: %w", err)
	}
	if len(raw) > maxCatalogSize {
		return nil, fmt.Errorf("steps: catalog exceeds %d bytes", maxCatalogSize)
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("steps: decode catalog: %w", err)
	}
	return NewRegistry(f.Steps...)
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("steps: open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}
