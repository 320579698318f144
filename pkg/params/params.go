// Package params models the typed, validated parameter variants a tool
// invocation carries and their coercions from untyped RPC arguments.
package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rhea-ai/rhea/pkg/objectstore"
	"github.com/rhea-ai/rhea/pkg/toolspec"
)

// BadValueError reports a coercion failure for a named parameter.
type BadValueError struct {
	Param  string
	Reason string
}

func (e *BadValueError) Error() string {
	return fmt.Sprintf("bad value for parameter %q: %s", e.Param, e.Reason)
}

func badValue(param, format string, args ...any) error {
	return &BadValueError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// Param is one typed invocation parameter.
type Param interface {
	// Name returns the declared parameter name.
	Name() string
}

// File carries a content-addressed handle plus file metadata. Its
// environment value is the staged local path, produced by the worker.
type File struct {
	ParamName string
	Handle    objectstore.Handle
	Filename  string
	Format    string
}

func (p *File) Name() string { return p.ParamName }

// Text is a plain string parameter.
type Text struct {
	ParamName string
	Value     string
}

func (p *Text) Name() string { return p.ParamName }

// Integer is a numeric parameter with optional declared bounds.
type Integer struct {
	ParamName string
	Value     int64
}

func (p *Integer) Name() string { return p.ParamName }

// Float is a numeric parameter with optional declared bounds.
type Float struct {
	ParamName string
	Value     float64
}

func (p *Float) Name() string { return p.ParamName }

// Boolean renders to its declared true/false strings.
type Boolean struct {
	ParamName  string
	Value      bool
	TrueValue  string
	FalseValue string
}

func (p *Boolean) Name() string { return p.ParamName }

// Select is one value chosen from the declared option set.
type Select struct {
	ParamName string
	Value     string
}

func (p *Select) Name() string { return p.ParamName }

// MultiSelect is an ordered sequence of select values.
type MultiSelect struct {
	ParamName string
	Values    []Select
}

func (p *MultiSelect) Name() string { return p.ParamName }

// Coerce validates value against the declared parameter and produces the
// typed variant. The coercion rules are exhaustive per parameter type; any
// mismatch yields a BadValueError naming the parameter.
func Coerce(decl *toolspec.Param, value any) (Param, error) {
	name := decl.EffectiveName()
	if name == "" {
		return nil, badValue("", "parameter declares neither name nor argument")
	}

	switch decl.Type {
	case "data":
		return coerceFile(decl, name, value)
	case "text":
		return coerceText(decl, name, value)
	case "integer":
		return coerceInteger(decl, name, value)
	case "float":
		return coerceFloat(decl, name, value)
	case "boolean":
		return coerceBoolean(decl, name, value)
	case "select":
		if decl.Multiple {
			return coerceMultiSelect(decl, name, value)
		}
		return coerceSelect(decl, name, value)
	}
	return nil, badValue(name, "unsupported parameter type %q", decl.Type)
}

func coerceFile(decl *toolspec.Param, name string, value any) (Param, error) {
	var handle objectstore.Handle
	switch v := value.(type) {
	case objectstore.Handle:
		handle = v
	case string:
		if v == "" {
			return nil, badValue(name, "empty handle for data parameter")
		}
		handle = objectstore.Handle(v)
	default:
		return nil, badValue(name, "value must be an object-store handle")
	}
	return &File{ParamName: name, Handle: handle, Format: decl.Format}, nil
}

func coerceText(decl *toolspec.Param, name string, value any) (Param, error) {
	if value == nil {
		if decl.Optional {
			return &Text{ParamName: name, Value: ""}, nil
		}
		return nil, badValue(name, "missing value for text parameter")
	}
	s, ok := value.(string)
	if !ok {
		return nil, badValue(name, "value must be a string")
	}
	return &Text{ParamName: name, Value: s}, nil
}

func coerceInteger(decl *toolspec.Param, name string, value any) (Param, error) {
	var n int64
	switch v := value.(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != float64(int64(v)) {
			return nil, badValue(name, "value %v is not an integer", v)
		}
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, badValue(name, "value %q is not an integer", v)
		}
		n = parsed
	default:
		return nil, badValue(name, "value must be an integer")
	}
	if err := checkBounds(decl, name, float64(n)); err != nil {
		return nil, err
	}
	return &Integer{ParamName: name, Value: n}, nil
}

func coerceFloat(decl *toolspec.Param, name string, value any) (Param, error) {
	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, badValue(name, "value %q is not a number", v)
		}
		f = parsed
	default:
		return nil, badValue(name, "value must be a number")
	}
	if err := checkBounds(decl, name, f); err != nil {
		return nil, err
	}
	return &Float{ParamName: name, Value: f}, nil
}

func checkBounds(decl *toolspec.Param, name string, v float64) error {
	if decl.Min != nil && v < *decl.Min {
		return badValue(name, "value %v below declared minimum %v", v, *decl.Min)
	}
	if decl.Max != nil && v > *decl.Max {
		return badValue(name, "value %v above declared maximum %v", v, *decl.Max)
	}
	return nil
}

func coerceBoolean(decl *toolspec.Param, name string, value any) (Param, error) {
	var b bool
	switch v := value.(type) {
	case bool:
		b = v
	case string:
		switch strings.ToLower(v) {
		case "true":
			b = true
		case "false":
			b = false
		default:
			return nil, badValue(name, "value %q is not a boolean", v)
		}
	default:
		return nil, badValue(name, "value must be a boolean")
	}

	trueValue, falseValue := decl.TrueValue, decl.FalseValue
	if trueValue == "" && falseValue == "" {
		// Undeclared renderings default to the bare literals.
		trueValue, falseValue = "true", "false"
	}
	return &Boolean{ParamName: name, Value: b, TrueValue: trueValue, FalseValue: falseValue}, nil
}

func coerceSelect(decl *toolspec.Param, name string, value any) (Param, error) {
	if len(decl.Options) == 0 {
		return nil, badValue(name, "select parameter declares no options")
	}

	s, isString := value.(string)
	if !isString || s == "" {
		// No value supplied: fall back to the option flagged selected,
		// then to empty when the parameter is optional.
		for _, opt := range decl.Options {
			if opt.Selected {
				return &Select{ParamName: name, Value: opt.Value}, nil
			}
		}
		if decl.Optional {
			return &Select{ParamName: name, Value: ""}, nil
		}
		return nil, badValue(name, "missing value for select parameter")
	}

	for _, opt := range decl.Options {
		if opt.Value == s {
			return &Select{ParamName: name, Value: opt.Value}, nil
		}
	}
	return nil, badValue(name, "value %q not in select options", s)
}

func coerceMultiSelect(decl *toolspec.Param, name string, value any) (Param, error) {
	s, ok := value.(string)
	if !ok {
		return nil, badValue(name, "value must be a comma-separated string")
	}
	parts := strings.Split(s, ",")
	if len(parts) == 0 {
		return nil, badValue(name, "no values supplied")
	}

	values := make([]Select, 0, len(parts))
	for _, part := range parts {
		p, err := coerceSelect(decl, name, strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		values = append(values, *p.(*Select))
	}
	return &MultiSelect{ParamName: name, Values: values}, nil
}

// Render produces the parameter's environment string. File parameters render
// at staging time (the value is the staged path), so Render returns the
// handle for them only as a placeholder; workers override it.
func Render(p Param) string {
	switch v := p.(type) {
	case *File:
		return string(v.Handle)
	case *Text:
		return v.Value
	case *Integer:
		return strconv.FormatInt(v.Value, 10)
	case *Float:
		return strconv.FormatFloat(v.Value, 'g', -1, 64)
	case *Boolean:
		if v.Value {
			return v.TrueValue
		}
		return v.FalseValue
	case *Select:
		return v.Value
	case *MultiSelect:
		values := make([]string, len(v.Values))
		for i, s := range v.Values {
			values[i] = s.Value
		}
		return strings.Join(values, ",")
	}
	return ""
}
