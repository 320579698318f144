// Package template renders a tool descriptor's command string into a shell
// script.
//
// The template language mixes POSIX shell syntax with two embedded
// constructs: conditional directives (#if EXPR: ... #else ... #end if) and
// variable references ($foo, ${foo}, $foo.bar). Rendering proceeds in
// ordered passes over the text; see Render.
package template

import (
	"sort"
	"strings"
)

// Value is the recursive variant backing template environments: a scalar
// string, a record of named fields with a scalar rendering of its own, or a
// list of values.
type Value interface {
	// Render returns the scalar text this value contributes to the script.
	Render() string
}

// Scalar is a plain string value.
type Scalar string

// Render returns the string itself.
func (s Scalar) Render() string { return string(s) }

// Record is a value carrying named fields in addition to its own scalar
// rendering. File parameters are records: the scalar is the staged path,
// fields expose metadata such as the logical filename.
type Record struct {
	Self   string
	Fields map[string]Value
}

// Render returns the record's scalar rendering.
func (r Record) Render() string { return r.Self }

// List is an ordered sequence of values, rendered comma-joined for the
// shell environment.
type List []Value

// Render joins the element renderings with commas.
func (l List) Render() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = v.Render()
	}
	return strings.Join(parts, ",")
}

// FileValue builds the record exported for a staged file parameter: the
// scalar is the local path; the logical filename, when known, is reachable
// as $param.name and the declared format as $param.ext.
func FileValue(path, filename, format string) Record {
	fields := map[string]Value{}
	if filename != "" {
		fields["name"] = Scalar(filename)
	}
	if format != "" {
		fields["ext"] = Scalar(format)
	}
	return Record{Self: path, Fields: fields}
}

// Env is the variable context a template renders against.
type Env map[string]Value

// Lookup resolves a dotted reference path against the environment. Dotted
// keys stored flat ("a.b") win over record traversal, matching how
// dotted parameter names are exported into the environment.
func (e Env) Lookup(ref string) (Value, bool) {
	if v, ok := e[ref]; ok {
		return v, true
	}
	parts := strings.Split(ref, ".")
	v, ok := e[parts[0]]
	if !ok {
		return nil, false
	}
	for _, field := range parts[1:] {
		rec, isRecord := v.(Record)
		if !isRecord {
			return nil, false
		}
		v, ok = rec.Fields[field]
		if !ok {
			return nil, false
		}
	}
	return v, true
}

// Strings flattens the environment into the string map handed to the shell.
func (e Env) Strings() map[string]string {
	out := make(map[string]string, len(e))
	for k, v := range e {
		out[k] = v.Render()
	}
	return out
}

// Keys returns the environment's keys in sorted order.
func (e Env) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
