// internal/compiler/references.go
package compiler

import (
	"fmt"
	"slices"
	"strings"
	"text/scanner"

	"github.com/solatis/surveyvars/internal/types"
)

/*
 * Reference extraction.
 *
 * Two views of what a definition depends on:
 *
 *   - ReferencedIdentifiers walks the structured component tree. It cannot
 *     see inside free-text field expressions and returns nothing for them.
 *   - ParseReferences tokenizes a compiled or hand-written expression and
 *     collects response.<id>(...) and result.<type> accessors.
 *
 * RenameReferences rewrites both forms when a variable identifier changes.
 * Expression rewriting is token based: only identifiers in accessor position
 * are replaced, never substrings of other names or string literals.
 */

// References lists the accessors found in an expression.
type References struct {
	// VariableIdentifiers are the ids read via response.<id>(...), sorted.
	VariableIdentifiers []string
	// ResultEntityTypes are the types read via result.<type>, sorted.
	ResultEntityTypes []string
}

// ReferenceParser is the default expression parser used by validation.
type ReferenceParser struct{}

// Parse implements the validator's expression parser.
func (ReferenceParser) Parse(expression string) (References, error) {
	return ParseReferences(expression)
}

// ReferencedIdentifiers returns the sorted set of variable identifiers the
// definition's components read from. Field expressions yield an empty set.
func ReferencedIdentifiers(def types.Definition) []string {
	seen := make(map[string]struct{})
	for _, g := range types.Groupings(def) {
		if g.Component == nil {
			continue
		}
		for leaf := range types.Descendants(g.Component, true) {
			switch v := leaf.(type) {
			case types.InclusiveRangeComponent:
				seen[v.FromIdentifier] = struct{}{}
			case types.InstanceListComponent:
				seen[v.FromIdentifier] = struct{}{}
			}
		}
	}
	return sortedKeys(seen)
}

// ParseReferences collects accessor references from an expression.
// Unbalanced brackets and unterminated strings are ErrExpressionParse.
func ParseReferences(expression string) (References, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return References{}, err
	}

	variables := make(map[string]struct{})
	entityTypes := make(map[string]struct{})
	for i := range tokens {
		if name, ok := accessorAt(tokens, i, "response"); ok && i+3 < len(tokens) && tokens[i+3].kind == '(' {
			variables[name] = struct{}{}
		}
		if name, ok := accessorAt(tokens, i, "result"); ok {
			entityTypes[name] = struct{}{}
		}
	}

	return References{
		VariableIdentifiers: sortedKeys(variables),
		ResultEntityTypes:   sortedKeys(entityTypes),
	}, nil
}

// RenameReferences replaces every reference to oldIdentifier with
// newIdentifier. The returned flag is false when nothing referenced it.
func RenameReferences(def types.Definition, oldIdentifier, newIdentifier string) (types.Definition, bool, error) {
	if _, err := ident(newIdentifier); err != nil {
		return nil, false, err
	}
	if oldIdentifier == newIdentifier {
		return def, false, nil
	}

	switch d := def.(type) {
	case nil:
		return nil, false, types.ErrNilDefinition
	case types.FieldExpressionDefinition:
		expr, changed, err := renameInExpression(d.Expression, oldIdentifier, newIdentifier)
		if err != nil {
			return nil, false, err
		}
		d.Expression = expr
		return d, changed, nil
	case types.BaseFieldExpressionDefinition:
		expr, changed, err := renameInExpression(d.Expression, oldIdentifier, newIdentifier)
		if err != nil {
			return nil, false, err
		}
		d.Expression = expr
		return d, changed, nil
	case types.SingleGroupDefinition:
		component, changed := renameComponent(d.Group.Component, oldIdentifier, newIdentifier)
		d.Group.Component = component
		return d, changed, nil
	case types.GroupedDefinition, types.BaseGroupedDefinition:
		g, _ := types.Grouped(d)
		groups := make([]types.Grouping, len(g.Groups))
		changed := false
		for i, group := range g.Groups {
			component, c := renameComponent(group.Component, oldIdentifier, newIdentifier)
			group.Component = component
			groups[i] = group
			changed = changed || c
		}
		g.Groups = groups
		return types.WithGrouped(d, g), changed, nil
	default:
		return def, false, nil
	}
}

func renameComponent(c types.Component, oldIdentifier, newIdentifier string) (types.Component, bool) {
	switch v := c.(type) {
	case types.InclusiveRangeComponent:
		if v.FromIdentifier != oldIdentifier {
			return v, false
		}
		v.FromIdentifier = newIdentifier
		return v, true
	case types.InstanceListComponent:
		if v.FromIdentifier != oldIdentifier {
			return v, false
		}
		v.FromIdentifier = newIdentifier
		return v, true
	case types.CompositeComponent:
		children := make([]types.Component, len(v.Components))
		changed := false
		for i, child := range v.Components {
			renamed, c := renameComponent(child, oldIdentifier, newIdentifier)
			children[i] = renamed
			changed = changed || c
		}
		v.Components = children
		return v, changed
	default:
		return c, false
	}
}

func renameInExpression(expression, oldIdentifier, newIdentifier string) (string, bool, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return "", false, err
	}

	var b strings.Builder
	last := 0
	for i := range tokens {
		name, ok := accessorAt(tokens, i, "response")
		if !ok || name != oldIdentifier {
			continue
		}
		at := tokens[i+2].offset
		b.WriteString(expression[last:at])
		b.WriteString(newIdentifier)
		last = at + len(oldIdentifier)
	}
	if last == 0 {
		return expression, false, nil
	}
	b.WriteString(expression[last:])
	return b.String(), true, nil
}

type token struct {
	kind   rune
	text   string
	offset int
}

// accessorAt matches "<root> . <ident>" starting at tokens[i], where root is
// not itself an attribute of something else.
func accessorAt(tokens []token, i int, root string) (string, bool) {
	if tokens[i].kind != scanner.Ident || tokens[i].text != root {
		return "", false
	}
	if i > 0 && tokens[i-1].kind == '.' {
		return "", false
	}
	if i+2 >= len(tokens) || tokens[i+1].kind != '.' || tokens[i+2].kind != scanner.Ident {
		return "", false
	}
	return tokens[i+2].text, true
}

func tokenize(expression string) ([]token, error) {
	var s scanner.Scanner
	s.Init(strings.NewReader(expression))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	s.Whitespace = 1<<' ' | 1<<'\t' | 1<<'\n' | 1<<'\r'

	var scanErr error
	s.Error = func(s *scanner.Scanner, msg string) {
		if scanErr == nil {
			scanErr = fmt.Errorf("%w: %s at offset %d", types.ErrExpressionParse, msg, s.Pos().Offset)
		}
	}

	var tokens []token
	var open []rune
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		offset := s.Position.Offset
		switch tok {
		case '\'':
			if err := skipQuoted(&s, offset); err != nil {
				return nil, err
			}
			continue
		case '(', '[':
			open = append(open, tok)
		case ')', ']':
			want := '('
			if tok == ']' {
				want = '['
			}
			if len(open) == 0 || open[len(open)-1] != want {
				return nil, fmt.Errorf("%w: unexpected %q at offset %d", types.ErrExpressionParse, tok, offset)
			}
			open = open[:len(open)-1]
		}
		tokens = append(tokens, token{kind: tok, text: s.TokenText(), offset: offset})
	}

	if scanErr != nil {
		return nil, scanErr
	}
	if len(open) > 0 {
		return nil, fmt.Errorf("%w: unclosed %q", types.ErrExpressionParse, open[len(open)-1])
	}
	return tokens, nil
}

// skipQuoted consumes a single-quoted string literal whose opening quote has
// already been scanned.
func skipQuoted(s *scanner.Scanner, start int) error {
	for {
		switch s.Next() {
		case scanner.EOF, '\n':
			return fmt.Errorf("%w: unterminated string at offset %d", types.ErrExpressionParse, start)
		case '\\':
			s.Next()
		case '\'':
			return nil
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
