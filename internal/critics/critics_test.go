package critics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/dsstar-orchestrator/internal/agent"
)

func TestReview_ApprovedOnFirstTry(t *testing.T) {
	client := agent.NewStaticClient(`{"approved": true, "issues": []}`)
	v := Review(context.Background(), client, "critic-v1", "review this plan", false)
	assert.True(t, v.Approved)
	assert.Empty(t, v.Issues)
	assert.False(t, v.Defaulted)
}

func TestReview_RejectedWithIssues(t *testing.T) {
	client := agent.NewStaticClient(`{"approved": false, "issues": ["missing acceptance criteria"]}`)
	v := Review(context.Background(), client, "critic-v1", "review this plan", false)
	assert.False(t, v.Approved)
	assert.Equal(t, []string{"missing acceptance criteria"}, v.Issues)
}

func TestReview_AdvisoryFlagIsCarried(t *testing.T) {
	client := agent.NewStaticClient(`{"approved": false, "issues": ["nit"]}`)
	v := Review(context.Background(), client, "critic-v1", "review this code", true)
	assert.True(t, v.Advisory)
	assert.False(t, v.Approved)
}

func TestReview_RetriesOnceThenDefaults(t *testing.T) {
	client := agent.NewStaticClient("not json at all", "still not json")
	v := Review(context.Background(), client, "critic-v1", "review", false)
	assert.True(t, v.Approved)
	assert.True(t, v.Defaulted)
	assert.Equal(t, 2, client.CallCount())
	assert.Equal(t, "still not json", v.RawText)
}

func TestReview_SucceedsOnRetry(t *testing.T) {
	client := agent.NewStaticClient("garbage", `{"approved": true, "issues": []}`)
	v := Review(context.Background(), client, "critic-v1", "review", false)
	assert.True(t, v.Approved)
	assert.False(t, v.Defaulted)
	assert.Equal(t, 2, client.CallCount())
}

func TestReview_RetryPromptIsStricterThanFirstAttempt(t *testing.T) {
	client := agent.NewStaticClient("garbage", `{"approved": true, "issues": []}`)
	Review(context.Background(), client, "critic-v1", "review this plan", false)
	require.Len(t, client.Recorded, 2)
	assert.Equal(t, "review this plan", client.Recorded[0])
	assert.NotEqual(t, client.Recorded[0], client.Recorded[1])
	assert.Contains(t, client.Recorded[1], "review this plan")
	assert.Contains(t, client.Recorded[1], "JSON")
}

func TestReview_CallFailureBothAttemptsRecordsUnavailableNote(t *testing.T) {
	client := agent.NewStaticClient()
	client.Err = assert.AnError
	v := Review(context.Background(), client, "critic-v1", "review", false)
	assert.True(t, v.Approved)
	assert.True(t, v.Defaulted)
	assert.Equal(t, []string{criticUnavailableNote}, v.Issues)
	assert.Empty(t, v.RawText)
}
