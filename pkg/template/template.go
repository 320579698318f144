package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Pre-compiled patterns for the rendering passes. The (\\?) prefix
	// groups stand in for negative lookbehind: a captured backslash marks
	// an escaped reference that the pass must leave alone.
	patterns = struct {
		ifDirective  *regexp.Regexp
		elseBranch   *regexp.Regexp
		endIf        *regexp.Regexp
		varRef       *regexp.Regexp
		whitespace   *regexp.Regexp
		escapedVar   *regexp.Regexp
		singleQuoted *regexp.Regexp
		quotedSpan   *regexp.Regexp
		unquotedVar  *regexp.Regexp
		dottedVar    *regexp.Regexp
	}{
		ifDirective:  regexp.MustCompile(`^\s*#if\s+(.+?):?\s*$`),
		elseBranch:   regexp.MustCompile(`^\s*#else:?\s*$`),
		endIf:        regexp.MustCompile(`^\s*#end\s*if\s*:?\s*$`),
		varRef:       regexp.MustCompile(`(\\?)\$(\{)?([A-Za-z_]\w*(?:\.[A-Za-z_]\w*)*)(\})?`),
		whitespace:   regexp.MustCompile(`\s+`),
		escapedVar:   regexp.MustCompile(`\\\$`),
		singleQuoted: regexp.MustCompile(`'(\$[^']+)'`),
		quotedSpan:   regexp.MustCompile(`(".*?"|'.*?')`),
		unquotedVar:  regexp.MustCompile(`(\\?)(\$(?:\{[^}]+\}|[A-Za-z_]\w*(?:\.[A-Za-z_]\w*)*))`),
		dottedVar:    regexp.MustCompile(`(\\?)\$(\{)?([A-Za-z_]\w*)\.([A-Za-z_]\w*)(\})?`),
	}
)

// Options tune one rendering.
type Options struct {
	// Interpreter, when declared by the descriptor, is prepended to the
	// command (e.g. "python").
	Interpreter string

	// Slots, MemoryMB and MemoryMBPerSlot override the corresponding
	// resource reservation placeholders; nil keeps the declared defaults.
	Slots           *int
	MemoryMB        *int
	MemoryMBPerSlot *int
}

// Render expands a tool command template against env and returns the shell
// command body. Passes run in order: resource placeholder neutralization,
// conditional expansion, whitespace normalization, escape normalization,
// quoting repair, dotted-name flattening. Unknown variables are left to the
// shell; only malformed directives fail.
func Render(command string, env Env, opts *Options) (string, error) {
	if opts == nil {
		opts = &Options{}
	}

	cmd := command
	if opts.Interpreter != "" {
		cmd = opts.Interpreter + " " + cmd
	}

	// Placeholders resolve before conditional evaluation: #if may inspect
	// the reserved values.
	cmd = NeutralizePlaceholder(cmd, "GALAXY_SLOTS", opts.Slots)
	cmd = NeutralizePlaceholder(cmd, "GALAXY_MEMORY_MB", opts.MemoryMB)
	cmd = NeutralizePlaceholder(cmd, "GALAXY_MEMORY_MB_PER_SLOT", opts.MemoryMBPerSlot)

	cmd, err := expandConditionals(cmd, env)
	if err != nil {
		return "", err
	}

	cmd = patterns.whitespace.ReplaceAllString(cmd, " ")
	cmd = unescapeVars(cmd)
	cmd = fixVarQuotes(cmd)
	cmd = quoteShellParams(cmd)
	cmd = flattenDottedVars(cmd)

	return strings.TrimSpace(cmd), nil
}

// RenderConfig expands a configfile template against env. Config files keep
// their layout: only conditional expansion, escape normalization and
// dotted-name flattening apply.
func RenderConfig(text string, env Env) (string, error) {
	out, err := expandConditionals(text, env)
	if err != nil {
		return "", err
	}
	out = unescapeVars(out)
	out = flattenDottedVars(out)
	return out, nil
}

// Script wraps a rendered command body into an executable script.
func Script(body string) string {
	return "#!/usr/bin/env bash\n" + body + "\n"
}

// NeutralizePlaceholder resolves resource reservation placeholders of the
// form "\${NAME:-N}" (with or without surrounding quotes) to the override
// value, or to the declared default N when no override is given.
func NeutralizePlaceholder(cmd, name string, override *int) string {
	pattern := regexp.MustCompile(`"?\\\$\{` + regexp.QuoteMeta(name) + `:-(\d+)\}"?`)
	return pattern.ReplaceAllStringFunc(cmd, func(match string) string {
		if override != nil {
			return strconv.Itoa(*override)
		}
		sub := pattern.FindStringSubmatch(match)
		return sub[1]
	})
}

// frame is one level of the conditional truth stack.
type frame struct {
	parent bool // effective truth of the enclosing scope
	cond   bool // this branch's own condition
}

func (f frame) effective() bool { return f.parent && f.cond }

// expandConditionals walks the template line by line, evaluating #if/#else/
// #end if directives against env. Non-directive lines are emitted only when
// the whole stack is true. Lines inside a conditional additionally get
// their known $name references inlined; top-level lines keep them as shell
// variables so the shell applies its own quoting.
func expandConditionals(cmd string, env Env) (string, error) {
	var out []string
	var stack []frame

	for i, line := range strings.Split(cmd, "\n") {
		lineNo := i + 1

		if m := patterns.ifDirective.FindStringSubmatch(line); m != nil {
			parent := true
			if len(stack) > 0 {
				parent = stack[len(stack)-1].effective()
			}
			cond, err := evalExpr(m[1], env, lineNo)
			if err != nil {
				return "", err
			}
			stack = append(stack, frame{parent: parent, cond: cond})
			continue
		}

		if patterns.elseBranch.MatchString(line) {
			if len(stack) == 0 {
				return "", &Error{Line: lineNo, Message: "#else outside of #if"}
			}
			stack[len(stack)-1].cond = !stack[len(stack)-1].cond
			continue
		}

		if patterns.endIf.MatchString(line) {
			if len(stack) == 0 {
				return "", &Error{Line: lineNo, Message: "#end if outside of #if"}
			}
			stack = stack[:len(stack)-1]
			continue
		}

		if len(stack) == 0 {
			out = append(out, line)
			continue
		}
		if !stack[len(stack)-1].effective() {
			continue
		}
		out = append(out, inlineVars(line, env))
	}

	if len(stack) > 0 {
		return "", &Error{Message: fmt.Sprintf("%d unterminated #if directive(s)", len(stack))}
	}
	return strings.Join(out, "\n"), nil
}

// inlineVars splices literal env values over $name references. Escaped
// references (\$name) and names missing from env pass through untouched.
func inlineVars(line string, env Env) string {
	return patterns.varRef.ReplaceAllStringFunc(line, func(match string) string {
		sub := patterns.varRef.FindStringSubmatch(match)
		escaped, ref := sub[1], sub[3]
		if escaped != "" {
			return match
		}
		if v, ok := env.Lookup(ref); ok {
			return v.Render()
		}
		return match
	})
}

// unescapeVars turns every \$foo into $foo so the shell expands it at
// runtime.
func unescapeVars(cmd string) string {
	return patterns.escapedVar.ReplaceAllString(cmd, "$$")
}

// fixVarQuotes rewrites single-quoted variable references as double-quoted
// ones so the shell expands them: '$__tool_directory__' → "$__tool_directory__".
func fixVarQuotes(cmd string) string {
	return patterns.singleQuoted.ReplaceAllString(cmd, `"$1"`)
}

// quoteShellParams wraps unquoted $VAR and ${VAR} references in double
// quotes, leaving existing quoted spans byte-for-byte intact.
func quoteShellParams(cmd string) string {
	parts := patterns.quotedSpan.Split(cmd, -1)
	spans := patterns.quotedSpan.FindAllString(cmd, -1)

	var b strings.Builder
	for i, part := range parts {
		b.WriteString(patterns.unquotedVar.ReplaceAllStringFunc(part, func(match string) string {
			sub := patterns.unquotedVar.FindStringSubmatch(match)
			if sub[1] != "" {
				return match
			}
			return `"` + sub[2] + `"`
		}))
		if i < len(spans) {
			b.WriteString(spans[i])
		}
	}
	return b.String()
}

// flattenDottedVars rewrites $name.field and ${name.field} into $name_field
// and ${name_field} so POSIX shells can expand them.
func flattenDottedVars(cmd string) string {
	return patterns.dottedVar.ReplaceAllStringFunc(cmd, func(match string) string {
		sub := patterns.dottedVar.FindStringSubmatch(match)
		if sub[1] != "" {
			return match
		}
		if sub[2] == "{" {
			return "${" + sub[3] + "_" + sub[4] + "}"
		}
		return "$" + sub[3] + "_" + sub[4]
	})
}
