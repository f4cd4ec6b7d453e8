// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package tlsutil 提供出站连接的 TLS 与 HTTP 客户端设置（TLS 1.2+，仅 AEAD 密码套件），
// 供模型后端客户端与 Redis 消息存储使用。
package tlsutil
