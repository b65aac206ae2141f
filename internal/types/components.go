// internal/types/components.go
package types

import (
	"fmt"
	"iter"
	"strings"
	"time"
)

/*
 * Condition components.
 *
 * A component is one node of a segmentation rule tree. CompositeComponent is
 * the only recursive variant; every other variant is a leaf.
 *
 * Variants:
 *   - CompositeComponent: AND/OR of child components
 *   - InclusiveRangeComponent: numeric test against every value of a field
 *   - InstanceListComponent: answered-with-instance test against an entity-typed field
 *   - DateRangeComponent: survey response date window (grouping-only)
 *   - SurveyIDComponent: survey wave membership (grouping-only)
 *
 * IsValid checks the shape of a single node and recurses through composites.
 * Reference checks (does the field exist, are the instance ids allowed) need
 * read models and live in internal/validate.
 */

// Component is a node of the condition tree. The set of implementations is closed.
type Component interface {
	IsValid() error
	componentType() string
}

// Separator joins the children of a CompositeComponent.
type Separator int

const (
	SeparatorAnd Separator = iota
	SeparatorOr
)

// RangeOperator selects the comparison of an InclusiveRangeComponent.
type RangeOperator int

const (
	RangeBetween RangeOperator = iota
	RangeExactly
	RangeGreaterThan
	RangeLessThan
)

// InstanceOperator selects how InstanceListComponent ids combine.
type InstanceOperator int

const (
	InstanceOr InstanceOperator = iota
	InstanceAnd
	InstanceNot
)

// CompositeComponent combines child components with a single separator.
type CompositeComponent struct {
	Components []Component
	Separator  Separator
}

// InclusiveRangeComponent tests every value returned for FromIdentifier.
// Between uses Min and Max, Exactly uses ExactValues (falling back to Min),
// GreaterThan uses Min and LessThan uses Max.
type InclusiveRangeComponent struct {
	FromIdentifier        string
	Operator              RangeOperator
	Min                   int
	Max                   int
	ExactValues           []int
	Inverted              bool
	ResultEntityTypeNames []string
}

// InstanceListComponent tests whether FromIdentifier was answered for the
// listed instances of FromEntityTypeName, optionally bounding the answer value.
type InstanceListComponent struct {
	FromIdentifier        string
	FromEntityTypeName    string
	Operator              InstanceOperator
	InstanceIDs           []int
	AnswerMin             *int
	AnswerMax             *int
	ResultEntityTypeNames []string
}

// DateRangeComponent covers whole days: MinDate at midnight, MaxDate at 23:59:59.999.
type DateRangeComponent struct {
	MinDate time.Time
	MaxDate time.Time
}

// SurveyIDComponent matches respondents of the listed surveys.
type SurveyIDComponent struct {
	SurveyIDs []int
}

func (CompositeComponent) componentType() string      { return "composite" }
func (InclusiveRangeComponent) componentType() string { return "inclusiveRange" }
func (InstanceListComponent) componentType() string   { return "instanceList" }
func (DateRangeComponent) componentType() string      { return "dateRange" }
func (SurveyIDComponent) componentType() string       { return "surveyId" }

// IsValid requires at least one child and every child to be valid.
func (c CompositeComponent) IsValid() error {
	if len(c.Components) == 0 {
		return fmt.Errorf("%w: composite must contain at least one component", ErrStructural)
	}
	for i, child := range c.Components {
		if child == nil {
			return fmt.Errorf("%w: composite child %d is empty", ErrStructural, i)
		}
		if err := child.IsValid(); err != nil {
			return err
		}
	}
	return nil
}

func (c InclusiveRangeComponent) IsValid() error {
	if strings.TrimSpace(c.FromIdentifier) == "" {
		return fmt.Errorf("%w: range must reference a field", ErrStructural)
	}
	if c.Operator < RangeBetween || c.Operator > RangeLessThan {
		return fmt.Errorf("%w: unknown range operator %d", ErrStructural, c.Operator)
	}
	return nil
}

func (c InstanceListComponent) IsValid() error {
	if strings.TrimSpace(c.FromIdentifier) == "" {
		return fmt.Errorf("%w: instance list must reference a field", ErrStructural)
	}
	if strings.TrimSpace(c.FromEntityTypeName) == "" {
		return fmt.Errorf("%w: instance list must name an entity type", ErrStructural)
	}
	if len(c.InstanceIDs) == 0 {
		return fmt.Errorf("%w: instance list must select at least one instance", ErrStructural)
	}
	if c.AnswerMin != nil && c.AnswerMax != nil && *c.AnswerMin > *c.AnswerMax {
		return fmt.Errorf("%w: answer minimum %d exceeds maximum %d", ErrStructural, *c.AnswerMin, *c.AnswerMax)
	}
	return nil
}

// IsValid enforces the supported window, whole-day bounds and ordering.
func (c DateRangeComponent) IsValid() error {
	if !inSupportedRange(c.MinDate) {
		return fmt.Errorf("%w: MinDate must be between %s and %s", ErrStructural,
			MinSupportedDate.Format(time.DateOnly), MaxSupportedDate.Format(time.DateOnly))
	}
	if !inSupportedRange(c.MaxDate) {
		return fmt.Errorf("%w: MaxDate must be between %s and %s", ErrStructural,
			MinSupportedDate.Format(time.DateOnly), MaxSupportedDate.Format(time.DateOnly))
	}
	if !isStartOfDay(c.MinDate) {
		return fmt.Errorf("%w: MinDate must be at the start of the day (00:00:00.000)", ErrStructural)
	}
	if !isEndOfDay(c.MaxDate) {
		return fmt.Errorf("%w: MaxDate must be at the end of the day (23:59:59.999)", ErrStructural)
	}
	if !c.MinDate.Before(c.MaxDate) {
		return fmt.Errorf("%w: MinDate must be before MaxDate", ErrStructural)
	}
	return nil
}

func (c SurveyIDComponent) IsValid() error {
	if len(c.SurveyIDs) == 0 {
		return fmt.Errorf("%w: at least one survey id is required", ErrStructural)
	}
	return nil
}

func inSupportedRange(t time.Time) bool {
	return !t.Before(MinSupportedDate) && t.Before(MaxSupportedDate)
}

func isStartOfDay(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

// isEndOfDay accepts millisecond precision: 23:59:59.999 and anything finer within that millisecond.
func isEndOfDay(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 23 && m == 59 && s == 59 && t.Nanosecond()/int(time.Millisecond) == 999
}

// Descendants yields the component tree in pre-order, c included.
// With leafOnly, composites are traversed but not yielded.
func Descendants(c Component, leafOnly bool) iter.Seq[Component] {
	return func(yield func(Component) bool) {
		walkComponents(c, leafOnly, yield)
	}
}

func walkComponents(c Component, leafOnly bool, yield func(Component) bool) bool {
	if c == nil {
		return true
	}
	composite, ok := c.(CompositeComponent)
	if !ok {
		return yield(c)
	}
	if !leafOnly && !yield(c) {
		return false
	}
	for _, child := range composite.Components {
		if !walkComponents(child, leafOnly, yield) {
			return false
		}
	}
	return true
}
