// Copyright (c) Perspectra Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Perspectra HTTP API 的请求处理器实现。

# 概述

handlers 把 session.Manager 暴露为 REST + websocket 接口：
创建与列出会话、开始/暂停/恢复/结束讨论、用户发言、手动请求角色发言、
调整发言间隔，以及实时事件流。所有 Handler 遵循标准 net/http 接口，
路由使用 Go 1.22 的 "METHOD /path/{id}" 模式。

# 核心类型

  - ConversationHandler: 会话路由，Register 挂载到 *http.ServeMux
  - HealthHandler      : /health, /healthz, /ready, /version
  - Response           : 统一 JSON 响应结构（success + data + error + timestamp + request_id）
  - ErrorInfo          : 结构化错误信息，含 code、message、retryable
  - ResponseWriter     : 捕获状态码与字节数，支持 Hijack 以便 websocket 升级
  - HealthCheck        : 可插拔健康检查，PingCheck 适配任意 Ping 方法

# 约定

  - 错误统一经 WriteError 输出，状态码由 types.HTTPStatusOf 决定；
    非 types.Error 的错误只返回 INTERNAL_ERROR，不暴露细节
  - DecodeJSONBody 限制 1 MB，拒绝未知字段
  - 会话按 ctxkeys.UserID 隔离，他人的会话返回 404
  - 事件流首帧为 snapshot，随后是 message / state，会话卸载时以 closed 结束
*/
package handlers
