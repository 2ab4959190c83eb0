package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmbeddedJSON_ParsesNestedStrings(t *testing.T) {
	in := map[string]any{
		"content": []any{
			map[string]any{
				"text": map[string]any{
					"content": `[{"title":"Web Sources","url":"https://x"}]`,
				},
			},
		},
	}

	out, ok := ParseEmbeddedJSON(in).(map[string]any)
	require.True(t, ok)

	content := out["content"].([]any)[0].(map[string]any)
	text := content["text"].(map[string]any)
	items, ok := text["content"].([]any)
	require.True(t, ok, "embedded JSON string should become an array")

	first := items[0].(map[string]any)
	assert.Equal(t, "Web Sources", first["title"])
	assert.Equal(t, "https://x", first["url"])
}

func TestParseEmbeddedJSON_LeavesPlainStrings(t *testing.T) {
	assert.Equal(t, "hello world", ParseEmbeddedJSON("hello world"))
	assert.Equal(t, "{not json", ParseEmbeddedJSON("{not json"))
	assert.Equal(t, "", ParseEmbeddedJSON(""))
}

func TestParseEmbeddedJSON_Idempotent(t *testing.T) {
	in := map[string]any{
		"items": `{"a": {"b": "[1,2,3]"}}`,
	}

	once := ParseEmbeddedJSON(in)
	twice := ParseEmbeddedJSON(once)
	assert.Equal(t, once, twice)
}

func TestParseEmbeddedJSON_Scalars(t *testing.T) {
	assert.Equal(t, 42, ParseEmbeddedJSON(42))
	assert.Equal(t, true, ParseEmbeddedJSON(true))
	assert.Nil(t, ParseEmbeddedJSON(nil))
}

func TestToJSONValue(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	out, err := ToJSONValue(payload{Name: "x", Count: 2})
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "x", m["name"])
	assert.Equal(t, float64(2), m["count"])
}

func TestDeepCopyMap_Isolated(t *testing.T) {
	in := map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{map[string]any{"i": 1}},
	}

	out := DeepCopyMap(in)
	out["nested"].(map[string]any)["k"] = "changed"
	out["list"].([]any)[0].(map[string]any)["i"] = 2

	assert.Equal(t, "v", in["nested"].(map[string]any)["k"])
	assert.Equal(t, 1, in["list"].([]any)[0].(map[string]any)["i"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}
