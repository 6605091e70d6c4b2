package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{
			name:     "trims and drops blanks",
			input:    []string{" supervisor ", "", "   ", "director"},
			expected: []string{"supervisor", "director"},
		},
		{
			name:     "keeps first occurrence",
			input:    []string{"director", "supervisor", "director "},
			expected: []string{"director", "supervisor"},
		},
		{
			name:     "case is significant",
			input:    []string{"Admin", "admin"},
			expected: []string{"Admin", "admin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , ,"))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, SplitList("k1:9092, k2:9092,k1:9092,"))
}
