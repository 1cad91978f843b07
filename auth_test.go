package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPasswordLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"newline", "hunter2\n", "hunter2"},
		{"crlf", "hunter2\r\n", "hunter2"},
		{"no trailing newline", "hunter2", "hunter2"},
		{"only first line", "first\nsecond\n", "first"},
		{"keeps spaces", " pass word \n", " pass word "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPasswordLine(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadPasswordLine_Empty(t *testing.T) {
	for _, input := range []string{"", "\n", "\r\n"} {
		_, err := readPasswordLine(strings.NewReader(input))
		assert.EqualError(t, err, "empty password")
	}
}
