// Package protocol loads YAML phase protocol files.
package protocol

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/hwrsync/pkg/models"
)

// File is the top-level YAML structure.
//
//	initial: first_jump
//	phases:
//	  start: {next: precue, duration: 1.0}
type File struct {
	Initial models.PhaseName                  `yaml:"initial"`
	Phases  map[models.PhaseName]models.Phase `yaml:"phases"`
}

// Protocol is a validated phase table with its entry phase.
type Protocol struct {
	Initial models.PhaseName
	Phases  models.PhaseTable
}

// Default returns the standard trial cycle starting at first_jump.
func Default() *Protocol {
	return &Protocol{
		Initial: models.PhaseFirstJump,
		Phases:  models.DefaultPhaseTable(),
	}
}

// Load reads the YAML file at path and returns a Protocol.
// If path is empty or the file does not exist, Load returns the default protocol.
// Phases listed in the file replace or extend the default table.
func Load(path string) (*Protocol, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a protocol document.
func Parse(data []byte) (*Protocol, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse protocol: %w", err)
	}

	p := Default()
	if f.Initial != "" {
		p.Initial = f.Initial
	}
	for name, phase := range f.Phases {
		p.Phases[name] = phase
	}

	if err := p.Phases.Validate(p.Initial); err != nil {
		return nil, fmt.Errorf("invalid protocol: %w", err)
	}
	return p, nil
}
