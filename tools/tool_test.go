package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"required" jsonschema_description:"Text to echo."`
}

func echoTool(t *testing.T) Tool {
	t.Helper()
	tool, err := NewFunction("echo", "Echo text back.", func(ctx context.Context, args echoArgs) (string, error) {
		return args.Text, nil
	})
	require.NoError(t, err)
	return tool
}

func TestNewFunctionReflectsSchema(t *testing.T) {
	tool := echoTool(t)

	schema := tool.Schema()
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "text")
	assert.Contains(t, schema["required"], "text")
	assert.NotContains(t, schema, "$schema")
}

func TestNewFunctionRequiresName(t *testing.T) {
	_, err := NewFunction(" ", "", func(ctx context.Context, args echoArgs) (string, error) { return "", nil })
	assert.Error(t, err)
}

func TestFunctionCall(t *testing.T) {
	tool := echoTool(t)

	out, err := tool.Call(context.Background(), json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = tool.Call(context.Background(), json.RawMessage(`{"text":`))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(echoTool(t), nil)

	assert.Equal(t, []string{"echo"}, reg.Names())

	got, ok := reg.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", got.Name())

	subset, err := reg.Subset([]string{"echo"})
	require.NoError(t, err)
	assert.Len(t, subset, 1)

	_, err = reg.Subset([]string{"echo", "missing"})
	assert.ErrorContains(t, err, "missing")
}

func TestDefinitions(t *testing.T) {
	defs := Definitions([]Tool{echoTool(t)})
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)
	assert.Equal(t, "Echo text back.", defs[0].Description)
	assert.NotEmpty(t, defs[0].Parameters)
}

func TestAnswerArgsSchemaListsTables(t *testing.T) {
	schema, err := reflectSchema[AnswerArgs]()
	require.NoError(t, err)

	props := schema["properties"].(map[string]any)
	table := props["questionnaire_answers_table"].(map[string]any)
	assert.Len(t, table["enum"], len(AnswerTables))
}
