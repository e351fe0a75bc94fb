package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGenerator_CannedResponse(t *testing.T) {
	gen := NewMockGenerator("mock", "test")
	gen.AddResponse("inventory value", "The total inventory value is $600.")

	answer, err := gen.Generate(context.Background(), "CONTEXT: ...\nQUESTION: What is the inventory value?")
	require.NoError(t, err)
	assert.Equal(t, "The total inventory value is $600.", answer)
	assert.Len(t, gen.Prompts(), 1)
}

func TestMockGenerator_DefaultEcho(t *testing.T) {
	gen := NewMockGenerator("mock", "test")
	answer, err := gen.Generate(context.Background(), "anything")
	require.NoError(t, err)
	assert.Contains(t, answer, "Mock response to:")
}

func TestMockGenerator_FailWith(t *testing.T) {
	gen := NewMockGenerator("mock", "test")
	boom := errors.New("rate limited")
	gen.FailWith(boom)

	_, err := gen.Generate(context.Background(), "anything")
	assert.ErrorIs(t, err, boom)

	gen.FailWith(nil)
	_, err = gen.Generate(context.Background(), "anything")
	assert.NoError(t, err)
}

func TestMockGenerator_RespectsContext(t *testing.T) {
	gen := NewMockGenerator("mock", "test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gen.Generate(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockGenerator_Info(t *testing.T) {
	gen := NewMockGenerator("mock-1", "test")
	info := gen.Info()
	assert.Equal(t, "mock-1", info.Name)
	assert.Equal(t, "test", info.Provider)
}
