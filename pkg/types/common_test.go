package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeekFrom_String(t *testing.T) {
	tests := []struct {
		name  string
		input SeekFrom
		want  string
	}{
		{name: "Start", input: Start(42), want: "Start(42)"},
		{name: "End", input: End(-7), want: "End(-7)"},
		{name: "Current", input: Current(3), want: "Current(3)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.input.String())
		})
	}
}

func TestChunkState_IsCompleted(t *testing.T) {
	assert.True(t, ChunkStateCompleted.IsCompleted())
	assert.False(t, ChunkStateIncomplete.IsCompleted())
	assert.False(t, ChunkStateLink.IsCompleted())
	assert.Equal(t, "incompleted", ChunkStateIncomplete.String())
}
