// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package ctxkeys 定义在 context 中传递请求、任务与 Worker 标识的键。
//
// Worker 在调用 ActionExecutor 前写入任务与 Worker ID，
// 运维端点的 RequestID 中间件写入请求 ID。
package ctxkeys
