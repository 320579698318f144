package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestNeutralizePlaceholder(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		override *int
		expected string
	}{
		{
			name:     "default_kept",
			command:  `echo "\${GALAXY_SLOTS:-5}"`,
			override: nil,
			expected: "echo 5",
		},
		{
			name:     "override_wins",
			command:  `echo "\${GALAXY_SLOTS:-5}"`,
			override: intPtr(10),
			expected: "echo 10",
		},
		{
			name:     "unquoted_placeholder",
			command:  `--threads \${GALAXY_SLOTS:-4}`,
			override: nil,
			expected: "--threads 4",
		},
		{
			name:     "other_placeholders_untouched",
			command:  `echo "\${GALAXY_MEMORY_MB:-1024}"`,
			override: nil,
			expected: `echo "\${GALAXY_MEMORY_MB:-1024}"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NeutralizePlaceholder(tt.command, "GALAXY_SLOTS", tt.override)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRenderConditionalBranching(t *testing.T) {
	command := "tool.sh\n#if $header:\n--header\n#end if\n$input"

	t.Run("false_branch_dropped", func(t *testing.T) {
		env := Env{"header": Scalar("false")}
		out, err := Render(command, env, nil)
		require.NoError(t, err)
		assert.NotContains(t, out, "--header")
		assert.NotContains(t, out, "#if")
		assert.NotContains(t, out, "#end if")
	})

	t.Run("true_branch_kept", func(t *testing.T) {
		env := Env{"header": Scalar("true")}
		out, err := Render(command, env, nil)
		require.NoError(t, err)
		assert.Contains(t, out, "--header")
		assert.NotContains(t, out, "#if")
	})
}

func TestRenderElseBranch(t *testing.T) {
	command := "#if $mode == 'fast':\n--quick\n#else\n--thorough\n#end if"

	out, err := Render(command, Env{"mode": Scalar("fast")}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "--quick")
	assert.NotContains(t, out, "--thorough")

	out, err = Render(command, Env{"mode": Scalar("slow")}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "--thorough")
	assert.NotContains(t, out, "--quick")
}

func TestRenderNestedConditionals(t *testing.T) {
	command := strings.Join([]string{
		"#if $outer:",
		"#if $inner:",
		"both",
		"#end if",
		"outer-only",
		"#end if",
		"always",
	}, "\n")

	out, err := Render(command, Env{"outer": Scalar("true"), "inner": Scalar("false")}, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "both")
	assert.Contains(t, out, "outer-only")
	assert.Contains(t, out, "always")

	// A false outer branch suppresses the whole subtree even when the
	// inner condition holds.
	out, err = Render(command, Env{"outer": Scalar(""), "inner": Scalar("yes")}, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "both")
	assert.NotContains(t, out, "outer-only")
	assert.Contains(t, out, "always")
}

func TestRenderInlinesKnownVarsInsideConditionals(t *testing.T) {
	command := "#if $mode:\n--mode $mode\n#end if\ncat $input"
	env := Env{
		"mode":  Scalar("fast"),
		"input": Scalar("/tmp/in.dat"),
	}

	out, err := Render(command, env, nil)
	require.NoError(t, err)

	// Inside the conditional the author's intent is a spliced literal;
	// at top level the shell keeps expanding the variable itself.
	assert.Contains(t, out, "--mode fast")
	assert.Contains(t, out, `"$input"`)
	assert.NotContains(t, out, "/tmp/in.dat")
}

func TestRenderMalformedDirective(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{"unterminated_if", "#if $x:\n--flag"},
		{"dangling_end", "--flag\n#end if"},
		{"dangling_else", "--flag\n#else"},
		{"bad_expression", "#if $x ==:\n--flag\n#end if"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tt.command, Env{}, nil)
			require.Error(t, err)
			var terr *Error
			assert.ErrorAs(t, err, &terr)
		})
	}
}

func TestRenderEscapeNormalization(t *testing.T) {
	out, err := Render(`awk '{print \$1}' $input`, Env{}, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, `\$`)
	assert.Contains(t, out, `{print $1}`)
}

func TestRenderQuotingRepair(t *testing.T) {
	t.Run("single_quoted_var_becomes_double", func(t *testing.T) {
		out, err := Render(`cd '$__tool_directory__'`, Env{}, nil)
		require.NoError(t, err)
		assert.Contains(t, out, `"$__tool_directory__"`)
		assert.NotContains(t, out, `'$__tool_directory__'`)
	})

	t.Run("unquoted_var_wrapped", func(t *testing.T) {
		out, err := Render(`cat $input > ${output}`, Env{}, nil)
		require.NoError(t, err)
		assert.Contains(t, out, `"$input"`)
		assert.Contains(t, out, `"${output}"`)
	})

	t.Run("literal_spans_preserved", func(t *testing.T) {
		out, err := Render(`echo "already $quoted" 'literal text'`, Env{}, nil)
		require.NoError(t, err)
		assert.Contains(t, out, `"already $quoted"`)
		assert.Contains(t, out, `'literal text'`)
	})
}

func TestRenderDottedNameFlattening(t *testing.T) {
	out, err := Render(`ln -s $input.name dest && use ${cfg.path}`, Env{}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, `"$input_name"`)
	assert.Contains(t, out, `"${cfg_path}"`)
	assert.NotContains(t, out, "$input.name")
}

func TestRenderWhitespaceNormalization(t *testing.T) {
	out, err := Render("tool.sh   --a\n\t--b\n--c", Env{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tool.sh --a --b --c", out)
}

func TestRenderInterpreterPrefix(t *testing.T) {
	out, err := Render("script.py --flag", Env{}, &Options{Interpreter: "python"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "python script.py"))
}

func TestRenderIdempotence(t *testing.T) {
	command := "tool.sh\n#if $header:\n--header $sep\n#end if\ncat $input > $output"
	env := Env{
		"header": Scalar("true"),
		"sep":    Scalar(","),
		"input":  Scalar("/tmp/in"),
		"output": Scalar("/tmp/out"),
	}

	first, err := Render(command, env, nil)
	require.NoError(t, err)

	second, err := Render(first, env, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScript(t *testing.T) {
	script := Script("echo hi")
	assert.True(t, strings.HasPrefix(script, "#!/usr/bin/env bash\n"))
	assert.True(t, strings.HasSuffix(script, "echo hi\n"))
}

func TestRenderFileRecordFields(t *testing.T) {
	command := "#if $input.name == 'reads.fastq':\n--named $input.name\n#end if\ncat $input"
	env := Env{
		"input": FileValue("/scratch/abc123", "reads.fastq", "fastq"),
	}

	out, err := Render(command, env, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "--named reads.fastq")
	// The top-level reference stays a shell variable.
	assert.Contains(t, out, `"$input"`)
}
