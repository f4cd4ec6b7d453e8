package council

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var voteTypes = []VoteType{VoteApprove, VoteReject, VoteAbstain, VoteConditional}

func drawVotes(rt *rapid.T, min, max int) []Vote {
	n := rapid.IntRange(min, max).Draw(rt, "n")
	votes := make([]Vote, n)
	for i := range votes {
		votes[i] = Vote{
			Model:      rapid.SampledFrom([]string{"llama3", "mistral", "qwen2", "phi3", "gemma"}).Draw(rt, fmt.Sprintf("model_%d", i)),
			Vote:       rapid.SampledFrom(voteTypes).Draw(rt, fmt.Sprintf("vote_%d", i)),
			Confidence: rapid.Float64Range(0, 1).Draw(rt, fmt.Sprintf("confidence_%d", i)),
		}
	}
	return votes
}

func drawStrategy(rt *rapid.T) Strategy {
	name := rapid.SampledFrom(StrategyNames()).Draw(rt, "strategy")
	s, err := NewStrategy(name, StrategyConfig{
		Threshold:    rapid.Float64Range(0, 1).Draw(rt, "threshold"),
		MinQuorum:    rapid.IntRange(1, 5).Draw(rt, "min_quorum"),
		VetoModels:   []string{"llama3"},
		ModelWeights: map[string]float64{"mistral": 2, "phi3": 0.5},
	})
	if err != nil {
		rt.Fatalf("strategy %s: %v", name, err)
	}
	return s
}

func TestProperty_Aggregate_Deterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := drawStrategy(rt)
		votes := drawVotes(rt, 0, 8)

		first := s.Aggregate(votes)
		second := s.Aggregate(votes)
		require.Equal(t, first, second)
		assert.Equal(t, s.Name(), first.Strategy)
	})
}

func TestProperty_Aggregate_CountsCoverAllVotes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := drawStrategy(rt)
		votes := drawVotes(rt, 0, 8)

		r := s.Aggregate(votes)
		total := 0
		for _, n := range r.VoteCount {
			total += n
		}
		assert.Equal(t, len(votes), total)
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
		if len(votes) == 0 {
			assert.False(t, r.Approved)
		}
	})
}

func TestProperty_Veto_RejectFromVetoModelNeverApproves(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		votes := drawVotes(rt, 0, 6)
		votes = append(votes, Vote{Model: "guard", Vote: VoteReject, Confidence: rapid.Float64Range(0, 1).Draw(rt, "guard_confidence")})
		threshold := rapid.Float64Range(0, 1).Draw(rt, "threshold")

		r := Veto{VetoModels: []string{"guard"}, Threshold: threshold}.Aggregate(votes)
		assert.False(t, r.Approved)
	})
}

func TestProperty_Unanimous_AnyRejectionBlocks(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		votes := drawVotes(rt, 1, 8)
		r := Unanimous{}.Aggregate(votes)

		allInFavour := true
		for _, v := range votes {
			if v.Vote != VoteApprove && v.Vote != VoteConditional {
				allInFavour = false
			}
		}
		assert.Equal(t, allInFavour, r.Approved)
	})
}

func TestProperty_Majority_MonotoneInApprovals(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		votes := drawVotes(rt, 1, 8)
		threshold := rapid.Float64Range(0, 1).Draw(rt, "threshold")
		m := Majority{Threshold: threshold}

		before := m.Aggregate(votes)
		idx := rapid.IntRange(0, len(votes)-1).Draw(rt, "flip")
		flipped := append([]Vote(nil), votes...)
		flipped[idx].Vote = VoteApprove

		if before.Approved {
			assert.True(t, m.Aggregate(flipped).Approved)
		}
	})
}
