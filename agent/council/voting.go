package council

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/agentcouncil/types"
)

// Strategy names.
const (
	StrategyMajority  = "majority"
	StrategyWeighted  = "weighted"
	StrategyUnanimous = "unanimous"
	StrategyQuorum    = "quorum"
	StrategyVeto      = "veto"
)

// Strategy reduces a vote list to a ConsensusResult. Implementations are pure:
// the same input always yields the same output, and the empty list is valid.
type Strategy interface {
	Name() string
	Aggregate(votes []Vote) *ConsensusResult
}

// StrategyConfig carries the parameters every built-in strategy may need.
type StrategyConfig struct {
	Threshold    float64
	MinQuorum    int
	VetoModels   []string
	ModelWeights map[string]float64
}

// NewStrategy builds a strategy by name.
func NewStrategy(name string, cfg StrategyConfig) (Strategy, error) {
	switch strings.ToLower(name) {
	case StrategyMajority, "":
		return Majority{Threshold: cfg.Threshold}, nil
	case StrategyWeighted:
		return Weighted{Threshold: cfg.Threshold, ModelWeights: cfg.ModelWeights}, nil
	case StrategyUnanimous:
		return Unanimous{}, nil
	case StrategyQuorum:
		return Quorum{MinQuorum: cfg.MinQuorum, Threshold: cfg.Threshold}, nil
	case StrategyVeto:
		return Veto{VetoModels: cfg.VetoModels, Threshold: cfg.Threshold}, nil
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown voting strategy %q", name)
	}
}

// StrategyNames lists the built-in strategies.
func StrategyNames() []string {
	return []string{StrategyMajority, StrategyWeighted, StrategyUnanimous, StrategyQuorum, StrategyVeto}
}

// =============================================================================
// Majority
// =============================================================================

// Majority approves when (approve+conditional)/total strictly exceeds Threshold.
type Majority struct {
	Threshold float64
}

func (Majority) Name() string { return StrategyMajority }

func (m Majority) Aggregate(votes []Vote) *ConsensusResult {
	return majority(StrategyMajority, m.Threshold, votes)
}

func majority(label string, threshold float64, votes []Vote) *ConsensusResult {
	if len(votes) == 0 {
		return noVotes(label)
	}

	counts := countVotes(votes)
	positive := counts[string(VoteApprove)] + counts[string(VoteConditional)]
	share := float64(positive) / float64(len(votes))
	approved := share > threshold

	return &ConsensusResult{
		Approved:    approved,
		VoteCount:   counts,
		Confidence:  meanConfidence(votes),
		Votes:       copyVotes(votes),
		Strategy:    label,
		Summary:     fmt.Sprintf("%d/%d in favour (%.0f%%), threshold %.0f%%: %s", positive, len(votes), share*100, threshold*100, decision(approved)),
		Issues:      unionIssues(votes),
		Suggestions: unionSuggestions(votes),
	}
}

// =============================================================================
// Weighted
// =============================================================================

// Weighted weighs each vote by confidence × model weight (default 1.0) and
// approves when the in-favour share strictly exceeds Threshold. The result
// confidence is that share.
type Weighted struct {
	Threshold    float64
	ModelWeights map[string]float64
}

func (Weighted) Name() string { return StrategyWeighted }

func (w Weighted) Aggregate(votes []Vote) *ConsensusResult {
	if len(votes) == 0 {
		return noVotes(StrategyWeighted)
	}

	var favour, total float64
	for _, v := range votes {
		weight := v.Confidence * w.weight(v.Model)
		total += weight
		if v.Vote == VoteApprove || v.Vote == VoteConditional {
			favour += weight
		}
	}

	share := 0.0
	if total > 0 {
		share = favour / total
	}
	approved := share > w.Threshold

	return &ConsensusResult{
		Approved:    approved,
		VoteCount:   countVotes(votes),
		Confidence:  share,
		Votes:       copyVotes(votes),
		Strategy:    StrategyWeighted,
		Summary:     fmt.Sprintf("weighted share in favour %.2f, threshold %.2f: %s", share, w.Threshold, decision(approved)),
		Issues:      unionIssues(votes),
		Suggestions: unionSuggestions(votes),
	}
}

func (w Weighted) weight(model string) float64 {
	if weight, ok := w.ModelWeights[model]; ok {
		return weight
	}
	return 1.0
}

// =============================================================================
// Unanimous
// =============================================================================

// Unanimous approves when at least one vote exists and every vote is approve
// or conditional.
type Unanimous struct{}

func (Unanimous) Name() string { return StrategyUnanimous }

func (Unanimous) Aggregate(votes []Vote) *ConsensusResult {
	if len(votes) == 0 {
		return noVotes(StrategyUnanimous)
	}

	counts := countVotes(votes)
	positive := counts[string(VoteApprove)] + counts[string(VoteConditional)]
	approved := counts[string(VoteReject)] == 0 && positive == len(votes)

	confidence := 0.0
	summary := fmt.Sprintf("%d/%d in favour: not unanimous", positive, len(votes))
	if approved {
		confidence = meanConfidence(votes)
		summary = fmt.Sprintf("unanimous approval from %d votes", len(votes))
	}

	return &ConsensusResult{
		Approved:    approved,
		VoteCount:   counts,
		Confidence:  confidence,
		Votes:       copyVotes(votes),
		Strategy:    StrategyUnanimous,
		Summary:     summary,
		Issues:      unionIssues(votes),
		Suggestions: unionSuggestions(votes),
	}
}

// =============================================================================
// Quorum
// =============================================================================

// Quorum requires MinQuorum votes, then applies Majority(Threshold).
type Quorum struct {
	MinQuorum int
	Threshold float64
}

func (Quorum) Name() string { return StrategyQuorum }

func (q Quorum) Aggregate(votes []Vote) *ConsensusResult {
	if len(votes) < q.MinQuorum {
		return &ConsensusResult{
			Approved:    false,
			VoteCount:   countVotes(votes),
			Confidence:  0,
			Votes:       copyVotes(votes),
			Strategy:    StrategyQuorum,
			Summary:     fmt.Sprintf("quorum not met: %d votes, %d required", len(votes), q.MinQuorum),
			Issues:      unionIssues(votes),
			Suggestions: unionSuggestions(votes),
		}
	}
	return majority(StrategyQuorum, q.Threshold, votes)
}

// =============================================================================
// Veto
// =============================================================================

// Veto blocks approval when any model in VetoModels rejects; otherwise it
// applies Majority(Threshold).
type Veto struct {
	VetoModels []string
	Threshold  float64
}

func (Veto) Name() string { return StrategyVeto }

func (v Veto) Aggregate(votes []Vote) *ConsensusResult {
	var vetoers []Vote
	for _, vote := range votes {
		if vote.Vote == VoteReject && v.isVetoModel(vote.Model) {
			vetoers = append(vetoers, vote)
		}
	}

	if len(vetoers) == 0 {
		return majority(StrategyVeto, v.Threshold, votes)
	}

	names := make([]string, len(vetoers))
	for i, vote := range vetoers {
		names[i] = vote.Model
	}
	vetoIssues := unionIssues(vetoers)

	summary := fmt.Sprintf("vetoed by %s", strings.Join(names, ", "))
	if len(vetoIssues) > 0 {
		summary += ": " + strings.Join(vetoIssues, "; ")
	}

	return &ConsensusResult{
		Approved:    false,
		VoteCount:   countVotes(votes),
		Confidence:  meanConfidence(vetoers),
		Votes:       copyVotes(votes),
		Strategy:    StrategyVeto,
		Summary:     summary,
		Issues:      union(vetoIssues, unionIssues(votes)),
		Suggestions: unionSuggestions(votes),
	}
}

func (v Veto) isVetoModel(model string) bool {
	for _, m := range v.VetoModels {
		if m == model {
			return true
		}
	}
	return false
}

// =============================================================================
// helpers
// =============================================================================

func noVotes(label string) *ConsensusResult {
	return &ConsensusResult{
		Approved:   false,
		VoteCount:  countVotes(nil),
		Confidence: 0,
		Votes:      []Vote{},
		Strategy:   label,
		Summary:    "no votes",
	}
}

func countVotes(votes []Vote) map[string]int {
	counts := map[string]int{
		string(VoteApprove):     0,
		string(VoteReject):      0,
		string(VoteAbstain):     0,
		string(VoteConditional): 0,
	}
	for _, v := range votes {
		counts[string(v.Vote)]++
	}
	return counts
}

func meanConfidence(votes []Vote) float64 {
	if len(votes) == 0 {
		return 0
	}
	var sum float64
	for _, v := range votes {
		sum += v.Confidence
	}
	return sum / float64(len(votes))
}

func copyVotes(votes []Vote) []Vote {
	return append([]Vote{}, votes...)
}

func unionIssues(votes []Vote) []string {
	lists := make([][]string, len(votes))
	for i, v := range votes {
		lists[i] = v.Issues
	}
	return union(lists...)
}

func unionSuggestions(votes []Vote) []string {
	lists := make([][]string, len(votes))
	for i, v := range votes {
		lists[i] = v.Suggestions
	}
	return union(lists...)
}

// union merges lists, dropping duplicates and blanks; output is sorted so it
// does not depend on vote arrival order.
func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func decision(approved bool) string {
	if approved {
		return "approved"
	}
	return "rejected"
}
