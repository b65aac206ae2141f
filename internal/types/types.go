// Package types provides the variable-definition model shared across surveyvars components.
//
// Two closed variant families live here: condition components (the nodes of a
// segmentation rule tree) and variable definitions (the outer kinds wrapping
// those trees). Both are sealed interfaces; the compiler and validator switch
// over the concrete types.
//
// Wire format: definitions are persisted as JSON objects with a "type"
// discriminator (json.go). Nothing in this package touches a database or the
// expression engine.
package types

import "time"

// VariableID represents a UUIDv7 variable identifier.
type VariableID string

// Limits and bounds enforced across compilation and dependency tracking.
const (
	// DefaultMaxDependencyDepth bounds transitive dependency walks. A chain
	// deeper than this is reported as a cyclic definition.
	DefaultMaxDependencyDepth = 100
)

// Date bounds for DateRange components: [MinSupportedDate, MaxSupportedDate).
var (
	MinSupportedDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxSupportedDate = time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// VariableConfiguration is the persisted unit: one named variable, its
// definition and its dependency edges in both directions.
type VariableConfiguration struct {
	ID               VariableID
	ProductShortCode string
	SubProductID     string
	Identifier       string // must satisfy IsValidIdentifier
	DisplayName      string
	Definition       Definition
	Dependencies     []VariableID // variables this one references
	Dependents       []VariableID // variables referencing this one
}

// Clone returns a copy whose edge slices do not alias the receiver's.
// Definitions are immutable values and are shared.
func (v *VariableConfiguration) Clone() *VariableConfiguration {
	if v == nil {
		return nil
	}
	c := *v
	c.Dependencies = append([]VariableID(nil), v.Dependencies...)
	c.Dependents = append([]VariableID(nil), v.Dependents...)
	return &c
}

// NewVariableParams carries the inputs of NewVariableConfiguration.
type NewVariableParams struct {
	ProductShortCode string
	SubProductID     string
	Identifier       string // derived from DisplayName when empty
	DisplayName      string
	Definition       Definition

	// Names already taken; compared case-insensitively.
	TakenIdentifiers     []string
	TakenEntityTypeNames []string
}

// NewVariableConfiguration builds an unsaved configuration with a sanitized,
// unique identifier. Grouped definitions also get a sanitized, unique
// synthetic entity type name.
func NewVariableConfiguration(p NewVariableParams) *VariableConfiguration {
	identifier := p.Identifier
	if identifier == "" {
		identifier = p.DisplayName
	}
	identifier = UniqueName(SanitizeIdentifier(identifier), p.TakenIdentifiers)

	def := p.Definition
	switch d := def.(type) {
	case GroupedDefinition:
		d.ToEntityTypeName = entityTypeName(d.ToEntityTypeName, p.DisplayName, p.TakenEntityTypeNames)
		def = d
	case BaseGroupedDefinition:
		d.ToEntityTypeName = entityTypeName(d.ToEntityTypeName, p.DisplayName, p.TakenEntityTypeNames)
		def = d
	}

	return &VariableConfiguration{
		ProductShortCode: p.ProductShortCode,
		SubProductID:     p.SubProductID,
		Identifier:       identifier,
		DisplayName:      p.DisplayName,
		Definition:       def,
	}
}

func entityTypeName(name, displayName string, taken []string) string {
	if name == "" {
		name = displayName
	}
	return UniqueName(SanitizeIdentifier(name), taken)
}
