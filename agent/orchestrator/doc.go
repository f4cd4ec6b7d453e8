// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package orchestrator 按角色注册 Agent，并通过 protocol 分发任务。

# 分发

SubmitTask 将任务发给得分最高、仍有空闲槽位的 operator（无 operator 时
使用 specialist），否则回退到 supervisor。活跃任务数达到
MaxParallelTasks 或没有可用 Agent 时任务进入 FIFO 队列，任一任务结束后
按顺序出队。

得分 = 0.6·load_factor + 0.4·success_rate。

# 失败处理

task_failed 回执触发状态机：未超过 MaxRetries 时重新分发；否则在开启
RescueOnFailure 时向 supervisor 发送 rescue_request，不然标记为失败并调用
OnError 回调。

# 与 Worker 池对接

WorkerBridge 把 task_assign 消息交给 worker.Pool 执行，并以关联的
task_complete / task_failed 消息回报结果；其 StepExecutor 供
ExecuteWithSupervisor 使用。
*/
package orchestrator
