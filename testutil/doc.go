// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 AgentCouncil 测试的共享工具。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel
  - 协议消息收集: RecordMessages 返回 MessageRecorder
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: ScriptedGenerator（按模型脚本化回复）、StaticRegistry（固定模型列表）、
    FuncExecutor（按动作分派的 worker 执行器，支持失败注入）
  - testutil/fixtures: 投票回复样例与常用 Agent

被 testutil 引用的包（council、orchestrator、worker、protocol）在自身的包内测试中
不能导入本包，它们保留各自的本地测试替身。
*/
package testutil
