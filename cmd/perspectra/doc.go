// Copyright (c) Perspectra Authors.
// Licensed under the MIT License.

/*
Package main 提供 Perspectra 服务端程序入口。

# 概述

cmd/perspectra 提供 HTTP API 服务、数据库迁移、健康检查和版本查询等子命令。
serve 读取 YAML 配置（环境变量 PERSPECTRA_* 覆盖），装配会话存储、
Perplexity 网关与会话管理器，并在配置文件变更时在线调整日志级别和发言节奏边界。

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、Metrics、
    OTelTracing、CORS、RateLimiter（基于 IP）、JWTAuth 或 APIKeyAuth
  - 事件流：WebSocket 连接可通过 access_token / api_key 查询参数认证
  - Metrics：MetricsPort 为 0 时在 API 端口暴露 /metrics，否则使用独立端口
  - 优雅关闭：信号 → 关闭 HTTP 与会话 → 存储、Redis、数据库 → 遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
