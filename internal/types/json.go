package types

import (
	"encoding/json"
	"fmt"
	"time"
)

/*
 * JSON codec for the component and definition variants.
 *
 * Every variant is encoded as an object with a "type" discriminator next to
 * its own fields, e.g. {"type":"instanceList","fromIdentifier":"brand",...}.
 * Enumerations encode as lower camel-case strings via TextMarshaler.
 *
 * Persisted definitions and CLI definition files use this format, so field
 * names here are a stable contract.
 */

var separatorNames = []string{"and", "or"}
var rangeOperatorNames = []string{"between", "exactly", "greaterThan", "lessThan"}
var instanceOperatorNames = []string{"or", "and", "not"}
var aggregationNames = []string{"maxOfSingleReferenced", "maxOfMatchingCondition"}

func marshalEnum(v int, names []string, kind string) ([]byte, error) {
	if v < 0 || v >= len(names) {
		return nil, fmt.Errorf("%w: unknown %s %d", ErrStructural, kind, v)
	}
	return []byte(names[v]), nil
}

func unmarshalEnum(text []byte, names []string, kind string) (int, error) {
	for i, n := range names {
		if n == string(text) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown %s %q", ErrStructural, kind, text)
}

func (s Separator) MarshalText() ([]byte, error) { return marshalEnum(int(s), separatorNames, "separator") }
func (s *Separator) UnmarshalText(text []byte) error {
	v, err := unmarshalEnum(text, separatorNames, "separator")
	*s = Separator(v)
	return err
}

func (o RangeOperator) MarshalText() ([]byte, error) {
	return marshalEnum(int(o), rangeOperatorNames, "range operator")
}
func (o *RangeOperator) UnmarshalText(text []byte) error {
	v, err := unmarshalEnum(text, rangeOperatorNames, "range operator")
	*o = RangeOperator(v)
	return err
}

func (o InstanceOperator) MarshalText() ([]byte, error) {
	return marshalEnum(int(o), instanceOperatorNames, "instance operator")
}
func (o *InstanceOperator) UnmarshalText(text []byte) error {
	v, err := unmarshalEnum(text, instanceOperatorNames, "instance operator")
	*o = InstanceOperator(v)
	return err
}

func (a AggregationType) MarshalText() ([]byte, error) {
	return marshalEnum(int(a), aggregationNames, "aggregation type")
}
func (a *AggregationType) UnmarshalText(text []byte) error {
	v, err := unmarshalEnum(text, aggregationNames, "aggregation type")
	*a = AggregationType(v)
	return err
}

type compositeJSON struct {
	Type       string            `json:"type"`
	Separator  Separator         `json:"separator"`
	Components []json.RawMessage `json:"components"`
}

type inclusiveRangeJSON struct {
	Type                  string        `json:"type"`
	FromIdentifier        string        `json:"fromIdentifier"`
	Operator              RangeOperator `json:"operator"`
	Min                   int           `json:"min"`
	Max                   int           `json:"max"`
	ExactValues           []int         `json:"exactValues,omitempty"`
	Inverted              bool          `json:"inverted,omitempty"`
	ResultEntityTypeNames []string      `json:"resultEntityTypeNames,omitempty"`
}

type instanceListJSON struct {
	Type                  string           `json:"type"`
	FromIdentifier        string           `json:"fromIdentifier"`
	FromEntityTypeName    string           `json:"fromEntityTypeName"`
	Operator              InstanceOperator `json:"operator"`
	InstanceIDs           []int            `json:"instanceIds"`
	AnswerMin             *int             `json:"answerMin,omitempty"`
	AnswerMax             *int             `json:"answerMax,omitempty"`
	ResultEntityTypeNames []string         `json:"resultEntityTypeNames,omitempty"`
}

type dateRangeJSON struct {
	Type    string    `json:"type"`
	MinDate time.Time `json:"minDate"`
	MaxDate time.Time `json:"maxDate"`
}

type surveyIDJSON struct {
	Type      string `json:"type"`
	SurveyIDs []int  `json:"surveyIds"`
}

type groupingJSON struct {
	ToEntityInstanceName string          `json:"toEntityInstanceName"`
	ToEntityInstanceID   int             `json:"toEntityInstanceId"`
	Component            json.RawMessage `json:"component"`
}

type definitionJSON struct {
	Type                          string           `json:"type"`
	Expression                    string           `json:"expression,omitempty"`
	ResultEntityTypeNames         []string         `json:"resultEntityTypeNames,omitempty"`
	ToEntityTypeName              string           `json:"toEntityTypeName,omitempty"`
	ToEntityTypeDisplayNamePlural string           `json:"toEntityTypeDisplayNamePlural,omitempty"`
	Groups                        []groupingJSON   `json:"groups,omitempty"`
	Group                         *groupingJSON    `json:"group,omitempty"`
	AggregationType               *AggregationType `json:"aggregationType,omitempty"`
	QuestionVarCode               string           `json:"questionVarCode,omitempty"`
	EntityTypeNames               []string         `json:"entityTypeNames,omitempty"`
}

// MarshalComponent encodes a component with its "type" discriminator.
func MarshalComponent(c Component) ([]byte, error) {
	switch v := c.(type) {
	case CompositeComponent:
		children := make([]json.RawMessage, 0, len(v.Components))
		for _, child := range v.Components {
			raw, err := MarshalComponent(child)
			if err != nil {
				return nil, err
			}
			children = append(children, raw)
		}
		return json.Marshal(compositeJSON{Type: v.componentType(), Separator: v.Separator, Components: children})
	case InclusiveRangeComponent:
		return json.Marshal(inclusiveRangeJSON{
			Type:                  v.componentType(),
			FromIdentifier:        v.FromIdentifier,
			Operator:              v.Operator,
			Min:                   v.Min,
			Max:                   v.Max,
			ExactValues:           v.ExactValues,
			Inverted:              v.Inverted,
			ResultEntityTypeNames: v.ResultEntityTypeNames,
		})
	case InstanceListComponent:
		return json.Marshal(instanceListJSON{
			Type:                  v.componentType(),
			FromIdentifier:        v.FromIdentifier,
			FromEntityTypeName:    v.FromEntityTypeName,
			Operator:              v.Operator,
			InstanceIDs:           v.InstanceIDs,
			AnswerMin:             v.AnswerMin,
			AnswerMax:             v.AnswerMax,
			ResultEntityTypeNames: v.ResultEntityTypeNames,
		})
	case DateRangeComponent:
		return json.Marshal(dateRangeJSON{Type: v.componentType(), MinDate: v.MinDate, MaxDate: v.MaxDate})
	case SurveyIDComponent:
		return json.Marshal(surveyIDJSON{Type: v.componentType(), SurveyIDs: v.SurveyIDs})
	case nil:
		return nil, fmt.Errorf("%w: missing component", ErrStructural)
	default:
		return nil, fmt.Errorf("%w: unknown component %T", ErrStructural, c)
	}
}

// UnmarshalComponent decodes a component produced by MarshalComponent.
func UnmarshalComponent(data []byte) (Component, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructural, err)
	}

	switch head.Type {
	case "composite":
		var w compositeJSON
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: composite: %v", ErrStructural, err)
		}
		children := make([]Component, 0, len(w.Components))
		for _, raw := range w.Components {
			child, err := UnmarshalComponent(raw)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return CompositeComponent{Components: children, Separator: w.Separator}, nil
	case "inclusiveRange":
		var w inclusiveRangeJSON
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: inclusive range: %v", ErrStructural, err)
		}
		return InclusiveRangeComponent{
			FromIdentifier:        w.FromIdentifier,
			Operator:              w.Operator,
			Min:                   w.Min,
			Max:                   w.Max,
			ExactValues:           w.ExactValues,
			Inverted:              w.Inverted,
			ResultEntityTypeNames: w.ResultEntityTypeNames,
		}, nil
	case "instanceList":
		var w instanceListJSON
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: instance list: %v", ErrStructural, err)
		}
		return InstanceListComponent{
			FromIdentifier:        w.FromIdentifier,
			FromEntityTypeName:    w.FromEntityTypeName,
			Operator:              w.Operator,
			InstanceIDs:           w.InstanceIDs,
			AnswerMin:             w.AnswerMin,
			AnswerMax:             w.AnswerMax,
			ResultEntityTypeNames: w.ResultEntityTypeNames,
		}, nil
	case "dateRange":
		var w dateRangeJSON
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: date range: %v", ErrStructural, err)
		}
		return DateRangeComponent{MinDate: w.MinDate, MaxDate: w.MaxDate}, nil
	case "surveyId":
		var w surveyIDJSON
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: survey id: %v", ErrStructural, err)
		}
		return SurveyIDComponent{SurveyIDs: w.SurveyIDs}, nil
	default:
		return nil, fmt.Errorf("%w: unknown component type %q", ErrStructural, head.Type)
	}
}

func marshalGrouping(g Grouping) (groupingJSON, error) {
	raw, err := MarshalComponent(g.Component)
	if err != nil {
		return groupingJSON{}, fmt.Errorf("group %q: %w", g.ToEntityInstanceName, err)
	}
	return groupingJSON{
		ToEntityInstanceName: g.ToEntityInstanceName,
		ToEntityInstanceID:   g.ToEntityInstanceID,
		Component:            raw,
	}, nil
}

func unmarshalGrouping(w groupingJSON) (Grouping, error) {
	c, err := UnmarshalComponent(w.Component)
	if err != nil {
		return Grouping{}, fmt.Errorf("group %q: %w", w.ToEntityInstanceName, err)
	}
	return Grouping{ToEntityInstanceName: w.ToEntityInstanceName, ToEntityInstanceID: w.ToEntityInstanceID, Component: c}, nil
}

// MarshalDefinition encodes a definition with its "type" discriminator.
func MarshalDefinition(def Definition) ([]byte, error) {
	if def == nil {
		return nil, ErrNilDefinition
	}
	w := definitionJSON{Type: def.definitionType()}

	switch d := def.(type) {
	case FieldExpressionDefinition:
		w.Expression = d.Expression
	case BaseFieldExpressionDefinition:
		w.Expression = d.Expression
		w.ResultEntityTypeNames = d.ResultEntityTypeNames
	case GroupedDefinition, BaseGroupedDefinition:
		g, _ := Grouped(d)
		w.ToEntityTypeName = g.ToEntityTypeName
		w.ToEntityTypeDisplayNamePlural = g.ToEntityTypeDisplayNamePlural
		for _, group := range g.Groups {
			gw, err := marshalGrouping(group)
			if err != nil {
				return nil, err
			}
			w.Groups = append(w.Groups, gw)
		}
		if b, ok := d.(BaseGroupedDefinition); ok {
			agg := b.AggregationType
			w.AggregationType = &agg
		}
	case SingleGroupDefinition:
		gw, err := marshalGrouping(d.Group)
		if err != nil {
			return nil, err
		}
		agg := d.AggregationType
		w.Group = &gw
		w.AggregationType = &agg
	case QuestionDefinition:
		w.QuestionVarCode = d.QuestionVarCode
		w.EntityTypeNames = d.EntityTypeNames
	default:
		return nil, fmt.Errorf("%w: unknown definition %T", ErrStructural, def)
	}
	return json.Marshal(w)
}

// UnmarshalDefinition decodes a definition produced by MarshalDefinition.
func UnmarshalDefinition(data []byte) (Definition, error) {
	var w definitionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructural, err)
	}

	aggregation := MaxOfSingleReferenced
	if w.AggregationType != nil {
		aggregation = *w.AggregationType
	}

	switch w.Type {
	case "fieldExpression":
		return FieldExpressionDefinition{Expression: w.Expression}, nil
	case "baseFieldExpression":
		return BaseFieldExpressionDefinition{Expression: w.Expression, ResultEntityTypeNames: w.ResultEntityTypeNames}, nil
	case "grouped", "baseGrouped":
		g := GroupedDefinition{
			ToEntityTypeName:              w.ToEntityTypeName,
			ToEntityTypeDisplayNamePlural: w.ToEntityTypeDisplayNamePlural,
		}
		for _, gw := range w.Groups {
			group, err := unmarshalGrouping(gw)
			if err != nil {
				return nil, err
			}
			g.Groups = append(g.Groups, group)
		}
		if w.Type == "baseGrouped" {
			return BaseGroupedDefinition{GroupedDefinition: g, AggregationType: aggregation}, nil
		}
		return g, nil
	case "singleGroup":
		if w.Group == nil {
			return nil, fmt.Errorf("%w: single group definition has no group", ErrStructural)
		}
		group, err := unmarshalGrouping(*w.Group)
		if err != nil {
			return nil, err
		}
		return SingleGroupDefinition{Group: group, AggregationType: aggregation}, nil
	case "question":
		return QuestionDefinition{QuestionVarCode: w.QuestionVarCode, EntityTypeNames: w.EntityTypeNames}, nil
	default:
		return nil, fmt.Errorf("%w: unknown definition type %q", ErrStructural, w.Type)
	}
}
