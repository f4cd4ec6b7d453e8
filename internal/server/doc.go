// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供运维 HTTP 服务器的生命周期管理与路由。

# 核心类型

  - Manager：封装 net/http.Server，状态 idle -> running -> stopped，
    不可重启。Start 非阻塞，异步错误经 Errors 返回。
  - Config：监听地址与各项超时，Validate 在加载配置时执行。
  - OpsOptions / NewOpsHandler：构建运维路由。

# 路由

  - /health：存活检查，始终返回 ok。
  - /ready：依次执行注册的 HealthCheck，任一失败返回 503。
  - /status：编排器、Worker 池与 Council 的 JSON 状态快照。
  - /metrics：Prometheus 指标（promhttp）。

所有路由经过 instrument 中间件，请求数与耗时记录到 metrics.Collector。
*/
package server
