// 议会回复与 Agent 的测试数据。
package fixtures

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentcouncil/agent/orchestrator"
)

// --- 模型回复 ---

// ApproveReply JSON 格式的赞成票
func ApproveReply(confidence float64) string {
	return fmt.Sprintf(`{"vote":"approve","confidence":%g,"reasoning":"meets the bar"}`, confidence)
}

// RejectReply JSON 格式的反对票，附带问题列表
func RejectReply(confidence float64, issues ...string) string {
	quoted := make([]string, len(issues))
	for i, s := range issues {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf(`{"vote":"reject","confidence":%g,"reasoning":"not ready","issues":[%s]}`,
		confidence, strings.Join(quoted, ","))
}

// FencedReply 包在 ```json 代码块里的回复
func FencedReply(vote string, confidence float64) string {
	return fmt.Sprintf("Here is my review.\n```json\n{\"vote\":%q,\"confidence\":%g}\n```\n", vote, confidence)
}

// ProseReply 无结构的自由文本
func ProseReply(text string) string {
	return text
}

// --- Agent ---

// Supervisor 监督者
func Supervisor(id string) orchestrator.AgentInfo {
	return orchestrator.AgentInfo{ID: id, Role: orchestrator.RoleSupervisor, MaxConcurrentTasks: 1}
}

// Operator 执行者
func Operator(id string, maxTasks int, caps ...string) orchestrator.AgentInfo {
	return orchestrator.AgentInfo{
		ID:                 id,
		Role:               orchestrator.RoleOperator,
		Capabilities:       caps,
		MaxConcurrentTasks: maxTasks,
	}
}
