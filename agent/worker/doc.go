// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 worker 提供单队列执行单元 Worker 与有界 Worker 池 Pool。

# Worker

每个 Worker 拥有一个按（优先级升序，入队顺序升序）排序的并发安全队列，
在独立的 goroutine 上逐个执行任务。状态机：

	IDLE -> BUSY -> IDLE
	PAUSED：不再出队，正在执行的任务正常结束
	ERROR：瞬时状态，下一轮循环恢复为 IDLE
	STOPPED：终态，运行循环在 PollInterval 内退出

SubmitTask 仅在 STOPPED 时返回 false，本层不做背压。ActionExecutor 的错误、
panic 与超时都会转换为失败的 WorkerResult，不会终止运行循环。

# Pool

Pool 保证 min_workers <= 数量 <= max_workers，AddWorker / RemoveWorker
违反边界时返回 false。SubmitTask 按能力筛选（general 能力匹配一切），
排除 STOPPED / ERROR，选择（队列长度，配置优先级）最小的 Worker。
被移除 Worker 的排队任务会重新分配给剩余 Worker。
*/
package worker
