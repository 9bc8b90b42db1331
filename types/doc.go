// Copyright (c) Perspectra Authors.
// Licensed under the MIT License.

/*
Package types 提供 Perspectra 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm、api 等上层
模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - PersonaType      : 董事会角色（system1 / system2 / moderator / devilsAdvocate / user）
  - Message          : 对话消息（ID、Content、Persona、Timestamp、FactChecked）
  - ConversationState: 引擎状态快照（当前发言者、轮次、话题、激活/暂停标记）
  - ChatMessage      : 发送给语言模型的 prompt 条目
  - TokenCounter     : 最小 Token 计数接口
  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithTraceID / WithUserID / WithConversationID
  - 错误映射：HTTPStatusOf 将错误码映射为 HTTP 状态码
*/
package types
