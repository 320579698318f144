package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhea-ai/rhea/pkg/toolspec"
)

func TestPackageSpecs(t *testing.T) {
	reqs := []toolspec.Requirement{
		{Type: "package", Value: "samtools", Version: "1.9"},
		{Type: "package", Value: "bwa", Version: "0.7.17"},
	}

	strict, err := PackageSpecs(reqs, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"samtools=1.9", "bwa=0.7.17"}, strict)

	relaxed, err := PackageSpecs(reqs, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"samtools>=1.9", "bwa>=0.7.17"}, relaxed)
}

func TestPackageSpecsRejectsUnknownTypes(t *testing.T) {
	_, err := PackageSpecs([]toolspec.Requirement{
		{Type: "set_environment", Value: "PATH"},
	}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set_environment")
}

func TestInstallErrorMessage(t *testing.T) {
	err := &InstallError{Env: "rhea-t1", Strict: "exact pin failed", Relaxed: "floor failed too"}
	assert.Contains(t, err.Error(), "rhea-t1")
	assert.Contains(t, err.Error(), "floor failed too")
}
