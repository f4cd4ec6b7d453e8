// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package council 提供多模型共识投票。

Council 从模型注册表中挑选可用模型（排除超大模型），以有界并发向每个模型
发送同一提示，将回复解析为 Vote，再用可插拔的 Strategy 归约为
ConsensusResult。

# 投票策略

  - majority: 赞成（approve + conditional）占比严格大于阈值
  - weighted: 按 confidence × 模型权重加权
  - unanimous: 全部赞成才通过
  - quorum: 票数达到最小法定数后按 majority 判定
  - veto: 否决模型投 reject 即否决

# 降级行为

Vote 从不返回错误。模型不足时按 InsufficientPolicy 返回 fail-open 或
fail-closed 结果；单个模型失败或超时只会丢弃该票；没有任何票时结果为
未通过。

Bridge 将 Council 挂到 protocol 上，应答 council_vote_request 消息。
*/
package council
