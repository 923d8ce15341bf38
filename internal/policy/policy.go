// Package policy decides which students may be marked skipped for the day.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

// SkipPolicy lists the bus-eligible schools and programs. Only students riding the bus can be skipped.
type SkipPolicy struct {
	Schools  []string `yaml:"schools"`
	Programs []string `yaml:"programs"`

	schools  map[string]struct{}
	programs map[string]struct{}
}

type policyFile struct {
	BusEligible SkipPolicy `yaml:"bus_eligible"`
}

// Load reads a policy file. An empty path yields a policy where every active student is eligible.
func Load(path string) (*SkipPolicy, error) {
	if strings.TrimSpace(path) == "" {
		return New(nil, nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skip policy: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML policy document.
func Parse(raw []byte) (*SkipPolicy, error) {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode skip policy: %w", err)
	}
	return New(file.BusEligible.Schools, file.BusEligible.Programs), nil
}

// New builds a policy from explicit lists. Empty lists do not restrict.
func New(schools, programs []string) *SkipPolicy {
	p := &SkipPolicy{Schools: schools, Programs: programs}
	p.schools = toSet(schools)
	p.programs = toSet(programs)
	return p
}

// CanSkip reports whether the student may be marked skipped.
func (p *SkipPolicy) CanSkip(student models.Student) bool {
	if !student.Active {
		return false
	}
	if p == nil {
		return true
	}
	if len(p.schools) > 0 {
		if _, ok := p.schools[normalize(student.School)]; !ok {
			return false
		}
	}
	if len(p.programs) > 0 {
		if _, ok := p.programs[normalize(student.Program)]; !ok {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if key := normalize(v); key != "" {
			set[key] = struct{}{}
		}
	}
	return set
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
