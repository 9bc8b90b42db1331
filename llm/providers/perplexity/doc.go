// Copyright (c) Perspectra Authors.
// Licensed under the MIT License.

/*
Package perplexity 提供 Perplexity Chat Completions API 的客户端，
以及将其适配为 boardroom.ResponseGateway 的 Gateway。

# 模型

  - 常规人格使用 Config.Model（默认 sonar）
  - 主持人人格使用 Config.SearchModel（默认 sonar-pro），
    并附带 search_recency_filter=month 以获得最近的检索结果

# 错误映射

HTTP 状态码统一映射为 types.Error：401/403 → UNAUTHORIZED/FORBIDDEN，
429 → RATE_LIMITED（可重试），5xx → UPSTREAM_ERROR（可重试），
其余 4xx → INVALID_REQUEST。
*/
package perplexity
