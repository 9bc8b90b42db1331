// 版权所有 2024 Perspectra Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供会议室会话与对话记录的持久化存储。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - ConversationStore: 会话元数据（问题、话题焦点、发言间隔）与
    消息记录的增删查改，AppendMessage 按消息 ID 幂等。

# 后端实现

  - MemoryStore: 进程内实现，适用于开发与测试。
  - GormStore: 基于 GORM 的数据库实现，支持 PostgreSQL、MySQL
    与 SQLite，表结构由 internal/migration 维护。
  - StateCache: 基于 Redis 的会话状态快照缓存（可选）。

通过 NewConversationStore 按 StoreConfig.Type 选择后端。
*/
package persistence
