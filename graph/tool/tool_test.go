package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherSchema = `{
	"type": "object",
	"properties": {
		"city": {"type": "string", "minLength": 1},
		"units": {"enum": ["metric", "imperial"]}
	},
	"required": ["city"]
}`

func TestCompileSchema(t *testing.T) {
	s, err := CompileSchema("weather", weatherSchema)
	require.NoError(t, err)
	assert.Equal(t, weatherSchema, s.Raw())

	_, err = CompileSchema("broken", `{"type": 42}`)
	assert.Error(t, err)
}

func TestSchemaValidate(t *testing.T) {
	s := MustCompileSchema("weather", weatherSchema)

	assert.NoError(t, s.Validate(json.RawMessage(`{"city": "Oslo"}`)))
	assert.NoError(t, s.Validate(json.RawMessage(`{"city": "Oslo", "units": "metric"}`)))
	assert.Error(t, s.Validate(json.RawMessage(`{}`)), "missing required field")
	assert.Error(t, s.Validate(json.RawMessage(`{"city": "Oslo", "units": "kelvin"}`)))
	assert.Error(t, s.Validate(json.RawMessage(`not json`)))
}

func TestSchemaNilIsPermissive(t *testing.T) {
	var s *Schema
	assert.NoError(t, s.Validate(json.RawMessage(`{"anything": true}`)))
}

func TestMustCompileSchemaPanics(t *testing.T) {
	assert.Panics(t, func() { MustCompileSchema("broken", `{`) })
}

func TestMockToolPlayback(t *testing.T) {
	m := &MockTool{
		ToolName: "weather",
		Responses: []json.RawMessage{
			json.RawMessage(`{"temp": 3}`),
			json.RawMessage(`{"temp": 4}`),
		},
	}
	ctx := context.Background()

	out, err := m.Invoke(ctx, json.RawMessage(`{"city": "Oslo"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"temp": 3}`, string(out))

	out, _ = m.Invoke(ctx, json.RawMessage(`{"city": "Oslo"}`))
	assert.JSONEq(t, `{"temp": 4}`, string(out))

	// the last response repeats once the script runs out
	out, _ = m.Invoke(ctx, json.RawMessage(`{"city": "Oslo"}`))
	assert.JSONEq(t, `{"temp": 4}`, string(out))

	assert.Len(t, m.Calls(), 3)
}

func TestMockToolError(t *testing.T) {
	sentinel := errors.New("upstream down")
	m := &MockTool{ToolName: "weather", Err: sentinel}

	_, err := m.Invoke(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, sentinel)
	assert.Len(t, m.Calls(), 1, "failed calls are still recorded")
}
