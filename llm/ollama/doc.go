// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package ollama 通过 Ollama HTTP API 为议会提供文本补全与模型列表能力。

Client 同时实现 council.Generator（POST /api/generate，非流式）与
council.ModelRegistry（GET /api/tags）。

# 错误映射

  - 404：模型未安装，返回 MODEL_UNAVAILABLE
  - 5xx / 429 / 连接失败：返回可重试的 MODEL_UNAVAILABLE
  - 上下文超时：返回 TIMEOUT
  - 其他 4xx 与响应解析失败：返回 INTERNAL_ERROR

议会只在本轮内丢弃失败模型的票，不做重试；Retryable 标记留给调用方使用。
*/
package ollama
