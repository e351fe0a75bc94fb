package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/ragmesh/core"
	"github.com/hupe1980/ragmesh/internal/util"
)

// MockGenerator is a lightweight in-memory core.Generator useful for tests
// and examples. Responses are matched by prompt substring; unmatched
// prompts get a deterministic echo.
type MockGenerator struct {
	info      core.GeneratorInfo
	mu        sync.Mutex
	responses map[string]string
	err       error
	prompts   []string
}

var _ core.Generator = (*MockGenerator)(nil)

// NewMockGenerator constructs a MockGenerator.
func NewMockGenerator(name, provider string) *MockGenerator {
	return &MockGenerator{
		info:      core.GeneratorInfo{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion returned for any prompt
// containing substr.
func (m *MockGenerator) AddResponse(substr, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[substr] = response
}

// FailWith makes every subsequent Generate call return err (nil resets).
func (m *MockGenerator) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Prompts returns every prompt seen so far, in call order.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Generate implements core.Generator.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	for substr, response := range m.responses {
		if strings.Contains(prompt, substr) {
			return response, nil
		}
	}
	return fmt.Sprintf("Mock response to: %s", util.Truncate(prompt, 80)), nil
}

// Info implements core.Generator.
func (m *MockGenerator) Info() core.GeneratorInfo { return m.info }
