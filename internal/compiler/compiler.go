// Package compiler turns variable definitions into expressions of the
// evaluation engine's fixed grammar.
//
// Every function here is pure: no I/O, no shared state, deterministic output.
// Compiling the same definition twice yields byte-identical strings, so the
// package is safe for concurrent use without coordination.
//
// The generated grammar is Python-like and parsed by an external evaluator:
//
//	any(18 <= r <= 34 for r in response.age())
//	any((answer != None) for answer in response.brand(Brand=[3,4]))
//	max(response.age()) if any(18 <= r <= 34 for r in response.age()) else None
//	result.AgeGroup if ((result.AgeGroup == 1) and (...)) or (...) else None
//
// Identifiers are substituted into the output only through ident, which
// rejects anything outside the identifier grammar.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/surveyvars/internal/types"
)

// Options controls result-type scoping of generated field accessors.
type Options struct {
	// IncludeResultTypes adds Type=result.Type bindings to field accessors
	// for result entity types that are also primary entity types.
	IncludeResultTypes bool
	// PrimaryEntityTypes is the caller's set of entity types results are split by.
	PrimaryEntityTypes []string
}

// ident validates a name before it is written into an expression.
func ident(name string) (string, error) {
	if !types.IsValidIdentifier(name) {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidIdentifier, name)
	}
	return name, nil
}

// resultTypeBindings renders "Type=result.Type" for every result entity type
// that intersects the primary entity types, in component order.
func resultTypeBindings(resultTypes []string, opts Options) ([]string, error) {
	if !opts.IncludeResultTypes || len(resultTypes) == 0 {
		return nil, nil
	}
	primary := make(map[string]struct{}, len(opts.PrimaryEntityTypes))
	for _, p := range opts.PrimaryEntityTypes {
		primary[p] = struct{}{}
	}
	var bindings []string
	for _, name := range resultTypes {
		if _, ok := primary[name]; !ok {
			continue
		}
		t, err := ident(name)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, t+"=result."+t)
	}
	return bindings, nil
}

// responseValues renders the accessor "response.<identifier>(<args>)".
// filter, when set, is the first argument (an entity-type instance filter).
func responseValues(identifier, filter string, resultTypes []string, opts Options) (string, error) {
	id, err := ident(identifier)
	if err != nil {
		return "", err
	}
	bindings, err := resultTypeBindings(resultTypes, opts)
	if err != nil {
		return "", err
	}
	args := bindings
	if filter != "" {
		args = append([]string{filter}, bindings...)
	}
	return "response." + id + "(" + strings.Join(args, ", ") + ")", nil
}

// instanceValues renders the accessor of an instance list restricted to ids.
func instanceValues(c types.InstanceListComponent, ids []int, opts Options) (string, error) {
	entityType, err := ident(c.FromEntityTypeName)
	if err != nil {
		return "", err
	}
	filter := entityType + "=[" + joinInts(ids) + "]"
	return responseValues(c.FromIdentifier, filter, c.ResultEntityTypeNames, opts)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
