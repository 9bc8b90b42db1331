// 版权所有 2024 Perspectra Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、LLM、
会议室引擎、会话与数据库连接池。

# 核心类型

  - Collector：通过 promauto.With(registry) 注册全部指标，
    同时实现 boardroom.Recorder、session.Recorder 与
    perplexity.Recorder。

# 主要指标

  - HTTP：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - LLM：请求总数、耗时与 Token 用量，按 provider/model 分组。
  - 会议室：按角色与结果统计的发言轮次、生成耗时、调度器状态转换、
    观察者失败次数，以及已加载会话数。
  - 数据库：打开/空闲连接数。
*/
package metrics
