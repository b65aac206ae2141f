package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/solatis/surveyvars/internal/types"
)

// variableDocument is the YAML or JSON file shape of one variable.
type variableDocument struct {
	ID           string          `json:"id,omitempty"`
	Identifier   string          `json:"identifier,omitempty"`
	DisplayName  string          `json:"displayName,omitempty"`
	Definition   json.RawMessage `json:"definition,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Dependents   []string        `json:"dependents,omitempty"`
	Expression   string          `json:"expression,omitempty"`
}

// readDocument loads a variable file. A file without a definition key is
// read as a bare definition.
func readDocument(path string) (variableDocument, types.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return variableDocument{}, nil, err
	}

	var doc variableDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return variableDocument{}, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(doc.Definition) == 0 {
		raw, err := yaml.YAMLToJSON(data)
		if err != nil {
			return variableDocument{}, nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		doc = variableDocument{Definition: raw}
	}

	def, err := types.UnmarshalDefinition(doc.Definition)
	if err != nil {
		return variableDocument{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, def, nil
}

// documentOf renders a configuration back into file shape.
func documentOf(cfg *types.VariableConfiguration, identifiers map[types.VariableID]string) (variableDocument, error) {
	raw, err := types.MarshalDefinition(cfg.Definition)
	if err != nil {
		return variableDocument{}, err
	}
	doc := variableDocument{
		ID:          string(cfg.ID),
		Identifier:  cfg.Identifier,
		DisplayName: cfg.DisplayName,
		Definition:  raw,
	}
	for _, id := range cfg.Dependencies {
		doc.Dependencies = append(doc.Dependencies, nameOf(id, identifiers))
	}
	for _, id := range cfg.Dependents {
		doc.Dependents = append(doc.Dependents, nameOf(id, identifiers))
	}
	return doc, nil
}

func nameOf(id types.VariableID, identifiers map[types.VariableID]string) string {
	if name, ok := identifiers[id]; ok {
		return name
	}
	return string(id)
}

func kindOf(def types.Definition) string {
	switch def.(type) {
	case types.FieldExpressionDefinition:
		return "field expression"
	case types.BaseFieldExpressionDefinition:
		return "base field expression"
	case types.GroupedDefinition:
		return "grouped"
	case types.BaseGroupedDefinition:
		return "base grouped"
	case types.SingleGroupDefinition:
		return "single group"
	case types.QuestionDefinition:
		return "question"
	default:
		return "unknown"
	}
}
