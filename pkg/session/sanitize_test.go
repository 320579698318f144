package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already_clean", "fastqc", "fastqc"},
		{"spaces_become_separators", "CSV to Tabular", "CSV_to_Tabular"},
		{"punctuation_collapsed", "Trim! Reads?!", "Trim_Reads"},
		{"repeats_collapsed", "a  -  b", "a_-_b"},
		{"leading_trailing_trimmed", "  (tool)  ", "tool"},
		{"diacritics_folded", "café análisis", "cafe_analisis"},
		{"non_latin_dropped", "工具 tool", "tool"},
		{"hyphens_kept", "bwa-mem2", "bwa-mem2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeToolName(tt.input))
		})
	}
}
