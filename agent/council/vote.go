package council

import (
	"context"
	"time"
)

// VoteType is a council member's decision.
type VoteType string

const (
	VoteApprove     VoteType = "approve"
	VoteReject      VoteType = "reject"
	VoteAbstain     VoteType = "abstain"
	VoteConditional VoteType = "conditional"
)

// Vote is one model's parsed reply in one round.
type Vote struct {
	Model        string        `json:"model"`
	Vote         VoteType      `json:"vote"`
	Confidence   float64       `json:"confidence"`
	Reasoning    string        `json:"reasoning,omitempty"`
	Suggestions  []string      `json:"suggestions,omitempty"`
	Issues       []string      `json:"issues,omitempty"`
	Rating       *float64      `json:"rating,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
}

// ConsensusResult is the reduced outcome of a round.
type ConsensusResult struct {
	Approved    bool           `json:"approved"`
	VoteCount   map[string]int `json:"vote_count"`
	Confidence  float64        `json:"confidence"`
	Votes       []Vote         `json:"votes"`
	Strategy    string         `json:"strategy"`
	Summary     string         `json:"summary"`
	Issues      []string       `json:"issues,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

// GenerateRequest is one text-completion call.
type GenerateRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
}

// Generator is the text-completion capability. Implementations must allow
// concurrent calls, one per model per round.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ModelRegistry lists installed models.
type ModelRegistry interface {
	ListModels(ctx context.Context) ([]string, error)
}
