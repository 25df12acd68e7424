package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "factor_files", "aapl.csv")

	err := WriteFileAtomic(path, []byte("20000101,1,1,0\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "20000101,1,1,0\n", string(data))

	// Overwrite replaces content entirely.
	err = WriteFileAtomic(path, []byte("20240102,1,1,0\n"))
	require.NoError(t, err)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "20240102,1,1,0\n", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFormatDecimal(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{name: "integer value", input: 1, expected: "1"},
		{name: "zero", input: 0, expected: "0"},
		{name: "half", input: 0.5, expected: "0.5"},
		{name: "no trailing zeros", input: 400.0, expected: "400"},
		{name: "long fraction", input: 0.9712509, expected: "0.9712509"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDecimal(tt.input))
		})
	}
}
