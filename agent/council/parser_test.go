package council

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicParser_StructuredReply(t *testing.T) {
	t.Parallel()
	raw := "Here is my verdict:\n```json\n" +
		`{"vote": "REJECT", "confidence": 0.85, "reasoning": "unsafe", "issues": ["sql injection"], "suggestions": "use placeholders", "rating": 3}` +
		"\n```"

	v := HeuristicParser{}.Parse("llama3", raw)
	assert.Equal(t, "llama3", v.Model)
	assert.Equal(t, VoteReject, v.Vote)
	assert.InDelta(t, 0.85, v.Confidence, 1e-9)
	assert.Equal(t, "unsafe", v.Reasoning)
	assert.Equal(t, []string{"sql injection"}, v.Issues)
	assert.Equal(t, []string{"use placeholders"}, v.Suggestions)
	require.NotNil(t, v.Rating)
	assert.Equal(t, 3.0, *v.Rating)
}

func TestHeuristicParser_SkipsObjectsWithoutDecision(t *testing.T) {
	t.Parallel()
	raw := `Example input {"x": 1} and my answer {"decision": "approved", "confidence": "90"}`

	v := HeuristicParser{}.Parse("m", raw)
	assert.Equal(t, VoteApprove, v.Vote)
	assert.InDelta(t, 0.9, v.Confidence, 1e-9)
}

func TestHeuristicParser_StructuredDefaults(t *testing.T) {
	t.Parallel()

	v := HeuristicParser{}.Parse("m", `{"vote": "maybe"}`)
	assert.Equal(t, VoteAbstain, v.Vote)
	assert.Equal(t, 0.5, v.Confidence)
	assert.Nil(t, v.Rating)

	v = HeuristicParser{}.Parse("m", `{"vote": "conditional", "confidence": -2, "score": "7.5"}`)
	assert.Equal(t, VoteConditional, v.Vote)
	assert.Equal(t, 0.0, v.Confidence)
	require.NotNil(t, v.Rating)
	assert.Equal(t, 7.5, *v.Rating)
}

func TestHeuristicParser_Keywords(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want VoteType
	}{
		{"approve", "LGTM, ship it.", VoteApprove},
		{"reject wins over approve", "I cannot approve this change.", VoteReject},
		{"disapprove", "I disapprove.", VoteReject},
		{"not acceptable", "In its current form this is not acceptable.", VoteReject},
		{"not accept", "I would not accept this patch.", VoteReject},
		{"accept", "I accept the change.", VoteApprove},
		{"conditional", "I would approve with minor changes to error handling.", VoteConditional},
		{"nothing recognisable", "The weather is nice today.", VoteAbstain},
		{"empty", "", VoteAbstain},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := HeuristicParser{}.Parse("m", tt.raw)
			assert.Equal(t, tt.want, v.Vote)
			assert.Equal(t, 0.5, v.Confidence)
		})
	}
}

func TestHeuristicParser_KeywordRating(t *testing.T) {
	t.Parallel()

	v := HeuristicParser{}.Parse("m", "Looks good overall, 8/10.")
	require.NotNil(t, v.Rating)
	assert.Equal(t, 8.0, *v.Rating)

	v = HeuristicParser{}.Parse("m", "Rating: 6.5 - looks good")
	require.NotNil(t, v.Rating)
	assert.Equal(t, 6.5, *v.Rating)
}

func TestHeuristicParser_MalformedJSONFallsBack(t *testing.T) {
	t.Parallel()
	v := HeuristicParser{}.Parse("m", `{"vote": "reject", "confidence": 0.9`)
	assert.Equal(t, VoteReject, v.Vote)
	assert.Equal(t, 0.5, v.Confidence)
}

func TestPrompts(t *testing.T) {
	t.Parallel()

	assert.Contains(t, SystemPrompt(TaskSecurity), "JSON")
	assert.Equal(t, SystemPrompt(TaskGeneral), SystemPrompt("unknown"))

	p := UserPrompt("Is this right?", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "Is this right?\n\n## Context\n- a: 1\n- b: 2\n", p)
	assert.Equal(t, "plain", UserPrompt("plain", nil))
}
