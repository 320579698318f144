package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhea-ai/rhea/pkg/toolspec"
)

func floatPtr(f float64) *float64 { return &f }

func TestCoerceFile(t *testing.T) {
	decl := &toolspec.Param{Name: "input1", Type: "data", Format: "csv"}

	p, err := Coerce(decl, "abc123")
	require.NoError(t, err)
	file := p.(*File)
	assert.Equal(t, "input1", file.Name())
	assert.Equal(t, "abc123", string(file.Handle))
	assert.Equal(t, "csv", file.Format)

	_, err = Coerce(decl, 42)
	var badValue *BadValueError
	require.ErrorAs(t, err, &badValue)
	assert.Equal(t, "input1", badValue.Param)
}

func TestCoerceText(t *testing.T) {
	t.Run("plain_string", func(t *testing.T) {
		p, err := Coerce(&toolspec.Param{Name: "label", Type: "text"}, "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello", p.(*Text).Value)
	})

	t.Run("optional_absent_renders_empty", func(t *testing.T) {
		p, err := Coerce(&toolspec.Param{Name: "label", Type: "text", Optional: true}, nil)
		require.NoError(t, err)
		assert.Equal(t, "", p.(*Text).Value)
	})

	t.Run("required_absent_fails", func(t *testing.T) {
		_, err := Coerce(&toolspec.Param{Name: "label", Type: "text"}, nil)
		require.Error(t, err)
	})
}

func TestCoerceNumeric(t *testing.T) {
	intDecl := &toolspec.Param{Name: "n", Type: "integer"}
	floatDecl := &toolspec.Param{Name: "x", Type: "float"}

	tests := []struct {
		name    string
		decl    *toolspec.Param
		value   any
		wantErr bool
		render  string
	}{
		{"int_native", intDecl, 7, false, "7"},
		{"int_json_number", intDecl, float64(7), false, "7"},
		{"int_lexical", intDecl, "42", false, "42"},
		{"int_fractional_rejected", intDecl, 1.5, true, ""},
		{"int_garbage_rejected", intDecl, "seven", true, ""},
		{"float_native", floatDecl, 2.5, false, "2.5"},
		{"float_lexical", floatDecl, "2.5", false, "2.5"},
		{"float_garbage_rejected", floatDecl, "x", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Coerce(tt.decl, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.render, Render(p))
		})
	}
}

func TestCoerceNumericBounds(t *testing.T) {
	decl := &toolspec.Param{Name: "n", Type: "integer", Min: floatPtr(1), Max: floatPtr(10)}

	_, err := Coerce(decl, 5)
	require.NoError(t, err)

	_, err = Coerce(decl, 0)
	require.Error(t, err)

	_, err = Coerce(decl, 11)
	require.Error(t, err)
}

func TestCoerceBoolean(t *testing.T) {
	decl := &toolspec.Param{Name: "header", Type: "boolean", TrueValue: "--header", FalseValue: ""}

	tests := []struct {
		name    string
		value   any
		wantErr bool
		render  string
	}{
		{"native_true", true, false, "--header"},
		{"native_false", false, false, ""},
		{"string_true", "true", false, "--header"},
		{"string_false_mixed_case", "False", false, ""},
		{"garbage", "yes", true, ""},
		{"wrong_type", 1, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Coerce(decl, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.render, Render(p))
		})
	}
}

func TestCoerceBooleanDefaultStrings(t *testing.T) {
	decl := &toolspec.Param{Name: "flag", Type: "boolean"}

	p, err := Coerce(decl, true)
	require.NoError(t, err)
	assert.Equal(t, "true", Render(p))

	p, err = Coerce(decl, false)
	require.NoError(t, err)
	assert.Equal(t, "false", Render(p))
}

func TestCoerceSelect(t *testing.T) {
	decl := &toolspec.Param{
		Name:     "mode",
		Type:     "select",
		Optional: true,
		Options: []toolspec.Option{
			{Value: "a", Selected: true},
			{Value: "b"},
		},
	}

	t.Run("exact_value", func(t *testing.T) {
		p, err := Coerce(decl, "b")
		require.NoError(t, err)
		assert.Equal(t, "b", p.(*Select).Value)
	})

	t.Run("absent_falls_back_to_selected", func(t *testing.T) {
		p, err := Coerce(decl, nil)
		require.NoError(t, err)
		assert.Equal(t, "a", p.(*Select).Value)
	})

	t.Run("unknown_value_rejected", func(t *testing.T) {
		_, err := Coerce(decl, "c")
		var badValue *BadValueError
		require.ErrorAs(t, err, &badValue)
	})

	t.Run("absent_without_selected_yields_empty_when_optional", func(t *testing.T) {
		optional := &toolspec.Param{
			Name:     "mode",
			Type:     "select",
			Optional: true,
			Options:  []toolspec.Option{{Value: "a"}, {Value: "b"}},
		}
		p, err := Coerce(optional, nil)
		require.NoError(t, err)
		assert.Equal(t, "", p.(*Select).Value)
	})

	t.Run("absent_required_without_selected_rejected", func(t *testing.T) {
		required := &toolspec.Param{
			Name:    "mode",
			Type:    "select",
			Options: []toolspec.Option{{Value: "a"}},
		}
		_, err := Coerce(required, nil)
		require.Error(t, err)
	})
}

func TestCoerceMultiSelect(t *testing.T) {
	decl := &toolspec.Param{
		Name:     "cols",
		Type:     "select",
		Multiple: true,
		Options: []toolspec.Option{
			{Value: "c1"}, {Value: "c2"}, {Value: "c3"},
		},
	}

	p, err := Coerce(decl, "c1,c3")
	require.NoError(t, err)
	multi := p.(*MultiSelect)
	require.Len(t, multi.Values, 2)
	assert.Equal(t, "c1,c3", Render(multi))

	_, err = Coerce(decl, "c1,zzz")
	require.Error(t, err)

	_, err = Coerce(decl, 12)
	require.Error(t, err)
}

func TestCoerceArgumentDerivedName(t *testing.T) {
	decl := &toolspec.Param{Argument: "--max-iterations", Type: "integer"}

	p, err := Coerce(decl, 3)
	require.NoError(t, err)
	assert.Equal(t, "max-iterations", p.Name())
}

func TestCoerceIdempotence(t *testing.T) {
	// Coercing a rendered parameter again must be a fixed point.
	decls := []struct {
		decl  *toolspec.Param
		value any
	}{
		{&toolspec.Param{Name: "t", Type: "text"}, "hello"},
		{&toolspec.Param{Name: "n", Type: "integer"}, "42"},
		{&toolspec.Param{Name: "x", Type: "float"}, 2.5},
		{&toolspec.Param{Name: "b", Type: "boolean"}, true},
		{&toolspec.Param{Name: "s", Type: "select", Options: []toolspec.Option{{Value: "a"}}}, "a"},
	}

	for _, tt := range decls {
		t.Run(tt.decl.Name, func(t *testing.T) {
			first, err := Coerce(tt.decl, tt.value)
			require.NoError(t, err)

			second, err := Coerce(tt.decl, Render(first))
			require.NoError(t, err)
			assert.Equal(t, Render(first), Render(second))
		})
	}
}
