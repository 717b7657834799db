// Package models defines the core domain models for missions, runs and automations.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// MissionKind selects the parser profile used for a mission's output.
type MissionKind string

const (
	MissionKindLoanReview MissionKind = "loan_review"
	MissionKindBriefing   MissionKind = "briefing"
	MissionKindAutomation MissionKind = "automation"
)

// Valid reports whether the kind has a known parser profile.
func (k MissionKind) Valid() bool {
	switch k {
	case MissionKindLoanReview, MissionKindBriefing, MissionKindAutomation:
		return true
	}

	return false
}

// MissionScope tells whether a mission reads one domain or all of them.
type MissionScope string

const (
	ScopeSingleDomain MissionScope = "single-domain"
	ScopeCrossDomain  MissionScope = "cross-domain"
)

// AllDomains is the domain id used by cross-domain runs.
const AllDomains = "all"

// ParameterType is the value type of a mission parameter.
type ParameterType string

const (
	ParameterTypeString ParameterType = "string"
	ParameterTypeEnum   ParameterType = "enum"
	ParameterTypeBool   ParameterType = "bool"
	ParameterTypeInt    ParameterType = "int"
)

// ParameterSpec declares a single mission input. Declaration order is significant.
type ParameterSpec struct {
	Name        string        `json:"name"                  validate:"required"                          yaml:"name"`
	Type        ParameterType `json:"type"                  validate:"required,oneof=string enum bool int" yaml:"type"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Enum        []string      `json:"enum,omitempty"        yaml:"enum,omitempty"`
	Default     any           `json:"default,omitempty"     yaml:"default,omitempty"`
}

// MissionDefinition is an immutable mission template loaded from the catalog.
type MissionDefinition struct {
	ID           string          `json:"id"                      validate:"required"                                 yaml:"id"`
	Name         string          `json:"name"                    validate:"required"                                 yaml:"name"`
	Description  string          `json:"description"             yaml:"description"`
	Kind         MissionKind     `json:"kind"                    validate:"required,oneof=loan_review briefing automation" yaml:"kind"`
	Scope        MissionScope    `json:"scope"                   validate:"required,oneof=single-domain cross-domain" yaml:"scope"`
	Methodology  string          `json:"methodology,omitempty"   yaml:"methodology,omitempty"`
	Role         string          `json:"role,omitempty"          yaml:"role,omitempty"`
	Ruleset      string          `json:"ruleset,omitempty"       yaml:"ruleset,omitempty"`
	OutputKinds  []OutputType    `json:"output_kinds,omitempty"  yaml:"output_kinds,omitempty"`
	Parameters   []ParameterSpec `json:"parameters,omitempty"    validate:"dive"                                     yaml:"parameters,omitempty"`
	RequiredDocs []string        `json:"required_docs,omitempty" yaml:"required_docs,omitempty"`
}

// Hash returns the content hash of the definition, used as run provenance.
func (d *MissionDefinition) Hash() string {
	body, err := json.Marshal(d)
	if err != nil {
		return ""
	}

	sum := sha256.Sum256(body)

	return hex.EncodeToString(sum[:])
}

// Parameter returns the declared parameter with the given name.
func (d *MissionDefinition) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}

	return ParameterSpec{}, false
}

// Validate checks the definition beyond struct tags.
func (d *MissionDefinition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("mission %q: %w", d.ID, err)
	}

	seen := make(map[string]bool, len(d.Parameters))

	for _, p := range d.Parameters {
		if seen[p.Name] {
			return fmt.Errorf("mission %q: duplicate parameter %q: %w", d.ID, p.Name, ErrInvalidMission)
		}

		seen[p.Name] = true

		if p.Type != ParameterTypeEnum {
			continue
		}

		if len(p.Enum) == 0 {
			return fmt.Errorf("mission %q: enum parameter %q has no values: %w", d.ID, p.Name, ErrInvalidMission)
		}

		if def, ok := p.Default.(string); ok && !slices.Contains(p.Enum, def) {
			return fmt.Errorf("mission %q: default %q of %q is not allowed: %w", d.ID, def, p.Name, ErrInvalidMission)
		}
	}

	return nil
}

// MissionEnablement toggles a mission for a domain.
type MissionEnablement struct {
	MissionID string    `json:"mission_id"`
	DomainID  string    `json:"domain_id"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Digest is the knowledge base snapshot handed to the prompt builder.
type Digest struct {
	DomainID     string    `json:"domain_id"`
	Text         string    `json:"text"`
	DocsReviewed []string  `json:"docs_reviewed"`
	DocsMissing  []string  `json:"docs_missing"`
	DomainsRead  []string  `json:"domains_read"`
	ReadAt       time.Time `json:"read_at"`
}
