package orchestrator

import "time"

// AgentRole 定义 Agent 在编排中的角色
type AgentRole string

const (
	RoleSupervisor    AgentRole = "supervisor"     // 规划与兜底
	RoleOperator      AgentRole = "operator"       // 执行
	RoleSpecialist    AgentRole = "specialist"     // 专家执行者，无 operator 时使用
	RoleVerifier      AgentRole = "verifier"       // 质量把关
	RoleCouncilMember AgentRole = "council_member" // 委员会成员
)

// IsValid reports whether r is a known role.
func (r AgentRole) IsValid() bool {
	switch r {
	case RoleSupervisor, RoleOperator, RoleSpecialist, RoleVerifier, RoleCouncilMember:
		return true
	}
	return false
}

// AgentInfo 已注册 Agent 的信息。计数字段只由 Orchestrator 修改，
// 调用方拿到的都是副本。
type AgentInfo struct {
	ID                 string    `json:"id"`
	Role               AgentRole `json:"role"`
	Model              string    `json:"model,omitempty"`
	Capabilities       []string  `json:"capabilities,omitempty"`
	MaxConcurrentTasks int       `json:"max_concurrent_tasks"`
	CurrentTasks       int       `json:"current_tasks"`
	TotalCompleted     int       `json:"total_completed"`
	TotalFailed        int       `json:"total_failed"`
	Available          bool      `json:"available"`
	RegisteredAt       time.Time `json:"registered_at"`
}

// LoadFactor is 1 - current/max, floored at 0.
func (a AgentInfo) LoadFactor() float64 {
	if a.MaxConcurrentTasks <= 0 {
		return 0
	}
	lf := 1 - float64(a.CurrentTasks)/float64(a.MaxConcurrentTasks)
	if lf < 0 {
		return 0
	}
	return lf
}

// SuccessRate is completed/(completed+failed), 0.5 with no history.
func (a AgentInfo) SuccessRate() float64 {
	total := a.TotalCompleted + a.TotalFailed
	if total == 0 {
		return 0.5
	}
	return float64(a.TotalCompleted) / float64(total)
}

// Score ranks operators: 0.6·load_factor + 0.4·success_rate.
func (a AgentInfo) Score() float64 {
	return 0.6*a.LoadFactor() + 0.4*a.SuccessRate()
}

// AtCapacity reports whether the agent cannot take another task.
func (a AgentInfo) AtCapacity() bool {
	return a.CurrentTasks >= a.MaxConcurrentTasks
}

// HasCapabilities reports whether the agent has every required capability.
func (a AgentInfo) HasCapabilities(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range a.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (a *AgentInfo) clone() AgentInfo {
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	return c
}
