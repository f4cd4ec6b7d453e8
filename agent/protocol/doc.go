// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package protocol 提供 Agent 之间的进程内消息协议。

# 概述

Protocol 同步投递 Message 给按类型注册的 Handler，保存有界的消息日志，
并通过 CorrelationID 把回复与请求配对，支撑 SendAndWait 请求-应答。

# 核心类型

  - Message：消息信封，含类型、收发方、载荷、优先级、关联 ID、重试计数
  - MessageType：task_assign、task_complete、rescue_request、council_vote_request 等
  - Protocol：注册、发送、等待回复、查询日志
  - Record：消息的持久化视图，可镜像到 persistence.MessageStore

# 约束

  - 回复的 CorrelationID 必须指向日志中已出现的消息，否则 Send 返回 ErrUnknownCorrelation
  - 每个等待者最多被解析一次，超时后迟到的回复只进入日志
  - Handler 的错误与 panic 被记录，不影响其余 Handler
*/
package protocol
