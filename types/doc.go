// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentcouncil 各包共享的基础类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 protocol、worker、
orchestrator、council 等上层模块提供统一的错误契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 Retryable 标记与 Cause 链
  - NewError / Errorf：构造函数
  - IsRetryable / GetErrorCode：基于 errors.As 的查询辅助函数
*/
package types
