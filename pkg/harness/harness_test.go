package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhea-ai/rhea/pkg/artifact"
	"github.com/rhea-ai/rhea/pkg/objectstore"
	"github.com/rhea-ai/rhea/pkg/params"
	"github.com/rhea-ai/rhea/pkg/toolspec"
	"github.com/rhea-ai/rhea/pkg/worker"
)

func TestProjectResolvesFileParamsByBasename(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()

	fixture := []byte("@read1\nACGT\n+\nIIII\n")
	require.NoError(t, store.PutAt(ctx, "fastqc/test-data/reads.fastq", fixture))

	tool := &toolspec.Tool{
		ID: "fastqc",
		Inputs: toolspec.Inputs{
			Params: []toolspec.Param{
				{Name: "input", Type: "data"},
				{Name: "mode", Type: "text"},
			},
		},
	}
	test := &toolspec.Test{
		ExpectNumOutputs: -1,
		Params: []toolspec.Param{
			{Name: "input", Value: "reads.fastq"},
			{Name: "mode", Value: "strict"},
		},
	}

	projection, err := Project(ctx, store, tool, test)
	require.NoError(t, err)
	require.Len(t, projection.Params, 2)

	file := projection.Params[0].(*params.File)
	data, err := store.Get(ctx, file.Handle)
	require.NoError(t, err)
	assert.Equal(t, fixture, data)

	text := projection.Params[1].(*params.Text)
	assert.Equal(t, "strict", text.Value)
}

func TestProjectMissingTestFile(t *testing.T) {
	store := objectstore.NewMemoryStore()
	tool := &toolspec.Tool{
		ID: "fastqc",
		Inputs: toolspec.Inputs{
			Params: []toolspec.Param{{Name: "input", Type: "data"}},
		},
	}
	test := &toolspec.Test{
		Params: []toolspec.Param{{Name: "input", Value: "absent.fastq"}},
	}

	_, err := Project(context.Background(), store, tool, test)
	require.Error(t, err)
}

func TestProjectDuplicatesConditionalParams(t *testing.T) {
	tool := &toolspec.Tool{ID: "t"}
	test := &toolspec.Test{
		ExpectNumOutputs: -1,
		Conditional: &toolspec.Conditional{
			Name:  "adv",
			Param: toolspec.Param{Name: "mode", Value: "on"},
			Whens: []toolspec.When{
				{Value: "on", Params: []toolspec.Param{{Name: "threshold", Value: "0.5"}}},
				{Value: "off", Params: []toolspec.Param{{Name: "other", Value: "x"}}},
			},
		},
	}

	projection, err := Project(context.Background(), objectstore.NewMemoryStore(), tool, test)
	require.NoError(t, err)

	values := map[string]string{}
	for _, p := range projection.Params {
		values[p.Name()] = params.Render(p)
	}

	// The pivot and the matching branch appear under both spellings so the
	// template finds them regardless of naming convention.
	assert.Equal(t, "on", values["mode"])
	assert.Equal(t, "on", values["adv_mode"])
	assert.Equal(t, "0.5", values["threshold"])
	assert.Equal(t, "0.5", values["adv_threshold"])

	// The non-matching branch is not materialized.
	_, ok := values["other"]
	assert.False(t, ok)
}

func TestCheckAssertions(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()

	proxy := artifact.FromBuffer("out.txt", []byte("score: 42\nall good\n"))
	handle, err := proxy.ToStore(ctx, store)
	require.NoError(t, err)

	result := &worker.Result{
		ExitCode: 0,
		Files: []worker.DataOutput{
			{Handle: handle, Name: "report", Filename: "out.txt", Size: proxy.Size},
		},
	}

	t.Run("passing", func(t *testing.T) {
		projection := &Projection{
			ExpectNumOutputs: 1,
			Assertions: []Assertion{
				{OutputName: "report", HasText: []string{"score: 42"}, NotHasText: []string{"error"}},
			},
		}
		ok, err := Check(ctx, store, projection, result)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("missing_required_text", func(t *testing.T) {
		projection := &Projection{
			ExpectNumOutputs: 1,
			Assertions:       []Assertion{{OutputName: "report", HasText: []string{"score: 99"}}},
		}
		ok, err := Check(ctx, store, projection, result)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("forbidden_text_present", func(t *testing.T) {
		projection := &Projection{
			ExpectNumOutputs: 1,
			Assertions:       []Assertion{{OutputName: "report", NotHasText: []string{"all good"}}},
		}
		ok, err := Check(ctx, store, projection, result)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("output_count_mismatch", func(t *testing.T) {
		projection := &Projection{ExpectNumOutputs: 2}
		ok, err := Check(ctx, store, projection, result)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
