package council

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// VoteParser turns a raw model reply into a Vote. It must never fail: an
// unreadable reply becomes an abstention.
type VoteParser interface {
	Parse(model, raw string) Vote
}

// HeuristicParser prefers an embedded JSON object and falls back to keyword
// spotting with a fixed 0.5 confidence.
type HeuristicParser struct{}

// fallbackConfidence reflects that keyword spotting is a guess.
const fallbackConfidence = 0.5

var (
	rejectWords      = []string{"reject", "disapprove", "not approve", "cannot approve", "can't approve", "do not merge", "unacceptable", "not acceptable", "not accept"}
	conditionalWords = []string{"conditional", "approve with", "with changes", "with modifications", "once fixed", "minor changes"}
	approveWords     = []string{"approve", "lgtm", "looks good", "accept", "ship it"}

	ratingOutOfTen = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*10\b`)
	ratingLabel    = regexp.MustCompile(`(?i)rating\s*[:=]\s*(\d+(?:\.\d+)?)`)
)

// Parse implements VoteParser.
func (HeuristicParser) Parse(model, raw string) Vote {
	if v, ok := parseStructured(raw); ok {
		v.Model = model
		return v
	}
	v := parseKeywords(raw)
	v.Model = model
	return v
}

// structuredReply is the object the prompts ask for. Fields are loose because
// models vary in how they fill them.
type structuredReply struct {
	Vote        any `json:"vote"`
	Decision    any `json:"decision"`
	Confidence  any `json:"confidence"`
	Reasoning   any `json:"reasoning"`
	Issues      any `json:"issues"`
	Suggestions any `json:"suggestions"`
	Rating      any `json:"rating"`
	Score       any `json:"score"`
}

func parseStructured(raw string) (Vote, bool) {
	for i := strings.IndexByte(raw, '{'); i >= 0; {
		var reply structuredReply
		dec := json.NewDecoder(strings.NewReader(raw[i:]))
		if err := dec.Decode(&reply); err == nil && (reply.Vote != nil || reply.Decision != nil) {
			token := reply.Vote
			if token == nil {
				token = reply.Decision
			}
			v := Vote{
				Vote:        mapVoteToken(asString(token)),
				Confidence:  fallbackConfidence,
				Reasoning:   asString(reply.Reasoning),
				Issues:      asStrings(reply.Issues),
				Suggestions: asStrings(reply.Suggestions),
			}
			if c, ok := asFloat(reply.Confidence); ok {
				v.Confidence = clamp01(c)
			}
			if r, ok := asFloat(reply.Rating); ok {
				v.Rating = &r
			} else if r, ok := asFloat(reply.Score); ok {
				v.Rating = &r
			}
			return v, true
		}

		next := strings.IndexByte(raw[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return Vote{}, false
}

func mapVoteToken(token string) VoteType {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "approve", "approved", "yes":
		return VoteApprove
	case "reject", "rejected", "no":
		return VoteReject
	case "conditional":
		return VoteConditional
	default:
		return VoteAbstain
	}
}

func parseKeywords(raw string) Vote {
	lower := strings.ToLower(raw)

	v := Vote{
		Vote:       VoteAbstain,
		Confidence: fallbackConfidence,
		Reasoning:  strings.TrimSpace(raw),
	}
	switch {
	case containsAny(lower, rejectWords):
		v.Vote = VoteReject
	case containsAny(lower, conditionalWords):
		v.Vote = VoteConditional
	case containsAny(lower, approveWords):
		v.Vote = VoteApprove
	}

	if m := ratingOutOfTen.FindStringSubmatch(raw); m != nil {
		if r, err := strconv.ParseFloat(m[1], 64); err == nil {
			v.Rating = &r
		}
	} else if m := ratingLabel.FindStringSubmatch(raw); m != nil {
		if r, err := strconv.ParseFloat(m[1], 64); err == nil {
			v.Rating = &r
		}
	}
	return v
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(asString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		// some models answer on a 0-100 scale
		if f <= 100 {
			return f / 100
		}
		return 1
	}
	return f
}
