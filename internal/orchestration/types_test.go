package orchestration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_UnmarshalJSON_CapturesUnknownFieldsIntoExtra(t *testing.T) {
	raw := `{
		"title": "Todo app",
		"pages": [{"name": "home"}],
		"ui_components": ["list", "input"],
		"theme": "dark",
		"target_audience": "students"
	}`

	var plan Plan
	require.NoError(t, json.Unmarshal([]byte(raw), &plan))

	assert.Equal(t, "Todo app", plan.Title)
	assert.Equal(t, "dark", plan.Extra["theme"])
	assert.Equal(t, "students", plan.Extra["target_audience"])
}

func TestPlan_MarshalJSON_RoundTripsExtraFields(t *testing.T) {
	raw := `{"title":"Todo app","pages":[{"name":"home"}],"ui_components":["list"],"theme":"dark"}`

	var plan Plan
	require.NoError(t, json.Unmarshal([]byte(raw), &plan))

	encoded, err := json.Marshal(plan)
	require.NoError(t, err)

	var roundTripped map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &roundTripped))
	assert.Equal(t, "dark", roundTripped["theme"])
	assert.Equal(t, "Todo app", roundTripped["title"])
}

func TestPlan_MarshalJSON_NoExtraOmitsNothingExtra(t *testing.T) {
	plan := Plan{Title: "T", Pages: []PageDescriptor{{Name: "home"}}, UIComponents: []string{"a"}}
	encoded, err := json.Marshal(plan)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &m))
	_, hasExtraKey := m["extra"]
	assert.False(t, hasExtraKey)
}
