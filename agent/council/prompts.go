package council

import (
	"fmt"
	"sort"
	"strings"
)

// TaskType selects the instruction a round is run with.
type TaskType string

const (
	TaskReview   TaskType = "review"
	TaskSecurity TaskType = "security"
	TaskQuality  TaskType = "quality"
	TaskGeneral  TaskType = "general"
)

const replyFormat = `Respond with ONLY a JSON object, no prose before or after:
{
  "vote": "approve" | "reject" | "conditional" | "abstain",
  "confidence": <number between 0 and 1>,
  "issues": [<string>, ...],
  "suggestions": [<string>, ...],
  "reasoning": "<one or two sentences>"
}`

var systemPrompts = map[TaskType]string{
	TaskReview: `You are a senior engineer on a code review council.
Judge whether the change is correct, readable and safe to merge.
Vote "conditional" when it is acceptable after the listed issues are fixed.`,

	TaskSecurity: `You are a security auditor on a review council.
Look for injection, unsafe deserialization, secrets in code, missing
authorization checks and unsafe file or process handling.
Vote "reject" if any exploitable issue exists.`,

	TaskQuality: `You are a quality gate on a verification council.
Judge whether the output fully and correctly answers the task it was
produced for. Missing requirements are issues; style nits are suggestions.`,

	TaskGeneral: `You are one member of a council of independent reviewers.
Give your own judgement on the question; do not hedge.`,
}

// SystemPrompt returns the instruction for a task type. Unknown types get
// the general instruction.
func SystemPrompt(taskType TaskType) string {
	base, ok := systemPrompts[taskType]
	if !ok {
		base = systemPrompts[TaskGeneral]
	}
	return base + "\n\n" + replyFormat
}

// UserPrompt appends the context entries, in key order, to the prompt.
func UserPrompt(prompt string, context map[string]string) string {
	if len(context) == 0 {
		return prompt
	}

	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n## Context\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, context[k])
	}
	return b.String()
}

func reviewPrompt(code, language string) string {
	return fmt.Sprintf("Review the following %s code:\n\n```%s\n%s\n```", language, language, code)
}

func securityPrompt(code string) string {
	return fmt.Sprintf("Audit the following code for security vulnerabilities:\n\n```\n%s\n```", code)
}

func verifyPrompt(task, output string) string {
	return fmt.Sprintf("Task:\n%s\n\nOutput to verify:\n%s\n\nDoes the output correctly and completely accomplish the task?", task, output)
}
