// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 agentcouncil 命令行程序入口。

# 概述

cmd/agentcouncil 把编排器、工作池与模型议会组装成一个进程，
模型后端为 Ollama。程序支持 YAML 配置文件与 AGENTCOUNCIL_* 环境变量、
结构化日志（zap）、Prometheus 指标与 OpenTelemetry 追踪。

# 子命令

  - serve    启动 System 与运维 HTTP 端点，等待 SIGINT/SIGTERM 后优雅关闭
  - vote     对一个提示词进行一轮议会投票，以 JSON 输出 ConsensusResult
  - models   列出 Ollama 上可用、未被排除的议会模型
  - health   探测运维端点 /health
  - version  显示构建信息

# 工作池动作

serve 注册的执行器支持 echo、generate、review、security、verify 五种动作，
后三者通过议会投票得出结论。

# 中间件

运维端点外层依次套用 Recovery、RequestID、OTelTracing、RateLimiter、RequestLogger。
*/
package main
