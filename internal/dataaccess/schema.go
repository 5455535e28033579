package dataaccess

import (
	"fmt"
	"strings"
	"sync"
)

// FieldAction is one entry in a Definition: how a single result key is
// produced from a row. Field, Process and Require are its three
// implementations, mirroring the three namedtuples the source's
// schema DSL is built from (shared/schemas.py).
type FieldAction interface{ isFieldAction() }

// Field copies column verbatim into resultKey, substituting Default
// when the row's value for column is NULL.
type Field struct {
	Column  string
	Default any
}

// Process is a Field with a transform applied to non-NULL values; its
// Default is pre-processed once when the schema is compiled, matching the
// source's `action.process(field.default)`.
type Process struct {
	Column  string
	Default any
	Fn      func(any) any
}

// Require nests another schema's output under resultKey. Prefix, when
// set, is baked into the nested schema's own column names at compile
// time — not applied at lookup time — so a schema can be required
// twice under different prefixes (e.g. "tribe_" and "sm_" both nesting
// BasicTribe/BasicPlayer) without interfering with each other.
type Require struct {
	Schema string
	Prefix string
}

func (Field) isFieldAction()   {}
func (Process) isFieldAction() {}
func (Require) isFieldAction() {}

// Definition declares one schema: its field actions, plus an optional
// single-level Inherit naming a base schema whose fields this one
// extends (own fields win on key collision). Multi-level inheritance
// is out of scope, matching spec.md §4.5.
type Definition struct {
	Inherit string
	Fields  map[string]FieldAction
}

type compiledField struct {
	resultKey string
	def       any
	process   func(any) any
}

type compiledSchema struct {
	fields map[string]compiledField   // db column -> field
	inner  map[string]*compiledSchema // result key -> nested schema
}

// Registry holds schema Definitions and their lazily-compiled form.
// Safe for concurrent AsDict calls once all Define calls have
// completed; Define is not safe to call concurrently with AsDict.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	compiled map[string]*compiledSchema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]Definition),
		compiled: make(map[string]*compiledSchema),
	}
}

// Define registers (or replaces) the Definition for name.
func (r *Registry) Define(name string, def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[name] = def
	delete(r.compiled, name) // invalidate any stale compile
}

// AsDict transcodes row into a nested map per schema's declaration:
// unknown row columns are ignored, NULL or missing columns fall back to
// the field's default, and every Require produces a nested map under its
// result key. prefix, when non-empty, is stripped from every row
// column name before matching against the schema — used to read one
// row twice under two different schemas/prefixes (e.g. "player" and
// "mod_player" sharing one joined row).
func (r *Registry) AsDict(schemaName string, row map[string]any, prefix string) (map[string]any, error) {
	c, err := r.compile(schemaName)
	if err != nil {
		return nil, err
	}
	return asDict(c, row, prefix), nil
}

// AsDictList applies AsDict to every row.
func (r *Registry) AsDictList(schemaName string, rows []map[string]any, prefix string) ([]map[string]any, error) {
	c, err := r.compile(schemaName)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = asDict(c, row, prefix)
	}
	return out, nil
}

func asDict(schema *compiledSchema, row map[string]any, prefix string) map[string]any {
	result := make(map[string]any, len(schema.fields)+len(schema.inner))

	for key, val := range row {
		schemaKey := key
		if prefix != "" {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			schemaKey = key[len(prefix):]
		}

		field, ok := schema.fields[schemaKey]
		if !ok {
			continue
		}

		var value any
		switch {
		case val == nil:
			value = field.def
		case field.process != nil:
			value = field.process(val)
		default:
			value = val
		}
		result[field.resultKey] = value
	}

	for _, field := range schema.fields {
		if _, set := result[field.resultKey]; !set {
			result[field.resultKey] = field.def
		}
	}

	for name, inner := range schema.inner {
		result[name] = asDict(inner, row, prefix)
	}
	return result
}

func (r *Registry) compile(name string) (*compiledSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compileLocked(name)
}

func (r *Registry) compileLocked(name string) (*compiledSchema, error) {
	if c, ok := r.compiled[name]; ok {
		return c, nil
	}

	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("dataaccess: unknown schema %q", name)
	}

	fields := def.Fields
	if def.Inherit != "" {
		base, ok := r.defs[def.Inherit]
		if !ok {
			return nil, fmt.Errorf("dataaccess: schema %q inherits unknown schema %q", name, def.Inherit)
		}
		merged := make(map[string]FieldAction, len(base.Fields)+len(fields))
		for k, v := range base.Fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
		fields = merged
	}

	compiled := &compiledSchema{
		fields: make(map[string]compiledField),
		inner:  make(map[string]*compiledSchema),
	}

	for resultKey, action := range fields {
		switch a := action.(type) {
		case Field:
			compiled.fields[a.Column] = compiledField{resultKey: resultKey, def: a.Default}
		case Process:
			compiled.fields[a.Column] = compiledField{
				resultKey: resultKey,
				def:       a.Fn(a.Default),
				process:   a.Fn,
			}
		case Require:
			sub, err := r.compileLocked(a.Schema)
			if err != nil {
				return nil, err
			}
			if a.Prefix != "" {
				sub = withPrefix(sub, a.Prefix)
			}
			compiled.inner[resultKey] = sub
		}
	}

	r.compiled[name] = compiled
	return compiled, nil
}

// withPrefix deep-copies schema, prepending prefix to every db column
// name it matches against (recursively into its own inner schemas),
// so the same base schema can be Required under distinct prefixes.
func withPrefix(schema *compiledSchema, prefix string) *compiledSchema {
	out := &compiledSchema{
		fields: make(map[string]compiledField, len(schema.fields)),
		inner:  make(map[string]*compiledSchema, len(schema.inner)),
	}
	for col, f := range schema.fields {
		out.fields[prefix+col] = f
	}
	for name, inner := range schema.inner {
		out.inner[name] = withPrefix(inner, prefix)
	}
	return out
}
