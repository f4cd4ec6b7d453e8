// =============================================================================
// 📦 AgentCouncil 默认配置
// =============================================================================
// 各子配置的默认值来自所属包，这里只做汇总
// =============================================================================
package config

import (
	"github.com/BaSui01/agentcouncil/agent/council"
	"github.com/BaSui01/agentcouncil/agent/orchestrator"
	"github.com/BaSui01/agentcouncil/agent/persistence"
	"github.com/BaSui01/agentcouncil/agent/protocol"
	"github.com/BaSui01/agentcouncil/agent/worker"
	"github.com/BaSui01/agentcouncil/internal/server"
	"github.com/BaSui01/agentcouncil/internal/telemetry"
	"github.com/BaSui01/agentcouncil/llm/ollama"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: orchestrator.DefaultConfig(),
		Agents:       DefaultAgents(),
		Pool:         worker.DefaultPoolConfig(),
		Council:      council.DefaultConfig(),
		Protocol:     protocol.DefaultConfig(),
		Store:        persistence.DefaultStoreConfig(),
		Ollama:       ollama.DefaultConfig(),
		Server:       server.DefaultConfig(),
		Metrics:      DefaultMetricsConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    telemetry.DefaultConfig(),
	}
}

// DefaultAgents 一个监督者加一个通用执行者，两者的任务都落到 worker 池
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			ID:                 "supervisor",
			Role:               string(orchestrator.RoleSupervisor),
			MaxConcurrentTasks: 1,
			Pool:               true,
		},
		{
			ID:                 "operator",
			Role:               string(orchestrator.RoleOperator),
			Capabilities:       []string{worker.CapabilityGeneral},
			MaxConcurrentTasks: 4,
			Pool:               true,
		},
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "agentcouncil",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
