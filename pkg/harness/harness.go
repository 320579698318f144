// Package harness derives concrete invocations from a descriptor's embedded
// test cases and checks their expected-content assertions.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/rhea-ai/rhea/pkg/artifact"
	"github.com/rhea-ai/rhea/pkg/objectstore"
	"github.com/rhea-ai/rhea/pkg/params"
	"github.com/rhea-ai/rhea/pkg/toolspec"
	"github.com/rhea-ai/rhea/pkg/worker"
)

// Assertion is one expected-content check against a named output.
type Assertion struct {
	OutputName string
	HasText    []string
	NotHasText []string
}

// Projection is a concrete invocation derived from one embedded test.
type Projection struct {
	Params           []params.Param
	Assertions       []Assertion
	ExpectNumOutputs int
}

// Project turns one embedded test into typed parameters and assertions.
// File parameters resolve against the tool's resource prefix in the object
// store: the object whose basename matches the test value is fetched,
// re-registered content-addressed, and bound as a File param.
func Project(ctx context.Context, store objectstore.Store, tool *toolspec.Tool, test *toolspec.Test) (*Projection, error) {
	projection := &Projection{ExpectNumOutputs: test.ExpectNumOutputs}

	for i := range tool.Inputs.Params {
		decl := &tool.Inputs.Params[i]
		declName := decl.EffectiveName()
		for j := range test.Params {
			testParam := &test.Params[j]
			if testParam.EffectiveName() != declName {
				continue
			}
			var (
				p   params.Param
				err error
			)
			if decl.Type == "data" {
				p, err = resolveTestFile(ctx, store, tool.ID, decl, testParam.Value)
			} else {
				p, err = params.Coerce(decl, testParam.Value)
			}
			if err != nil {
				return nil, err
			}
			projection.Params = append(projection.Params, p)
		}
	}

	if test.Conditional != nil {
		if err := projectConditional(projection, test.Conditional); err != nil {
			return nil, err
		}
	}

	for _, out := range test.Outputs {
		if out.AssertContents == nil {
			continue
		}
		projection.Assertions = append(projection.Assertions, Assertion{
			OutputName: out.Name,
			HasText:    out.AssertContents.HasText,
			NotHasText: out.AssertContents.NotHasText,
		})
	}

	return projection, nil
}

// projectConditional materializes conditional test parameters twice: once
// under the bare name and once under {conditional}_{param}. This is an
// interoperability shim for template authors who address nested parameters
// by either spelling; downstream command expansion finds the value under
// whichever convention the template uses.
func projectConditional(projection *Projection, cond *toolspec.Conditional) error {
	pivotName := cond.Param.EffectiveName()
	pivotValue := cond.Param.Value
	if pivotName != "" {
		projection.Params = append(projection.Params,
			&params.Text{ParamName: pivotName, Value: pivotValue},
			&params.Text{ParamName: cond.Name + "_" + pivotName, Value: pivotValue},
		)
	}

	for i := range cond.Whens {
		when := &cond.Whens[i]
		if when.Value != pivotValue {
			continue
		}
		for j := range when.Params {
			p := &when.Params[j]
			name := p.EffectiveName()
			if name == "" {
				continue
			}
			projection.Params = append(projection.Params,
				&params.Text{ParamName: name, Value: p.Value},
				&params.Text{ParamName: cond.Name + "_" + name, Value: p.Value},
			)
		}
	}
	return nil
}

// resolveTestFile locates the test input under the tool's resource prefix
// by basename, registers its bytes content-addressed, and binds the handle.
func resolveTestFile(ctx context.Context, store objectstore.Store, toolID string, decl *toolspec.Param, value string) (params.Param, error) {
	objects, err := store.Iter(ctx, toolID+"/")
	if err != nil {
		return nil, err
	}
	for _, obj := range objects {
		if path.Base(obj.Key) != value {
			continue
		}
		handle, err := store.Put(ctx, obj.Data)
		if err != nil {
			return nil, err
		}
		return params.Coerce(decl, string(handle))
	}
	return nil, fmt.Errorf("harness: test input %q not found under %s/", value, toolID)
}

// Check evaluates the projection's assertions against an invocation result.
// It returns false when any assertion fails.
func Check(ctx context.Context, store objectstore.Store, projection *Projection, result *worker.Result) (bool, error) {
	if projection.ExpectNumOutputs >= 0 && len(result.Files) != projection.ExpectNumOutputs {
		slog.Info("output count mismatch", "expected", projection.ExpectNumOutputs, "got", len(result.Files))
		return false, nil
	}

	for _, assertion := range projection.Assertions {
		file, ok := findOutput(result, assertion.OutputName)
		if !ok {
			return false, nil
		}
		proxy, err := artifact.FromHandle(ctx, store, file.Handle)
		if err != nil {
			return false, err
		}
		if !checkContents(proxy.Contents, assertion) {
			return false, nil
		}
	}
	return true, nil
}

func findOutput(result *worker.Result, name string) (worker.DataOutput, bool) {
	for _, file := range result.Files {
		if file.Name == name {
			return file, true
		}
	}
	return worker.DataOutput{}, false
}

func checkContents(contents []byte, assertion Assertion) bool {
	for _, want := range assertion.HasText {
		if !bytes.Contains(contents, []byte(want)) {
			return false
		}
	}
	for _, forbidden := range assertion.NotHasText {
		if bytes.Contains(contents, []byte(forbidden)) {
			return false
		}
	}
	return true
}
