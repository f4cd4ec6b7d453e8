// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖协议、编排器、
Worker、Council 与运维 HTTP 五个维度。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer，
测试中每个用例可使用独立的 prometheus.NewRegistry()。所有记录方法
对 nil 接收者安全。

# 主要能力

  - 协议：按消息类型统计发送数与处理器失败数。
  - 编排器：派发次数（按角色）、溢出队列入队数、任务结果
    （completed/retried/escalated/failed）、活跃任务与队列深度。
  - Worker：按 worker_id 统计成功/失败、耗时与队列深度。
  - Council：按策略统计轮次与决策、每轮票数、轮次耗时，
    以及单模型调用状态与耗时。
  - HTTP：运维端点的请求数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
*/
package metrics
