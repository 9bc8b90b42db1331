// 版权所有 2024 Perspectra Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 提供会话存储 Schema 的迁移管理，支持 PostgreSQL、
MySQL 与 SQLite 三种数据库，基于 golang-migrate 实现。

# 概述

迁移文件以 embed.FS 内嵌，每种方言一个目录，版本号保持一致：

  - 000001_init_schema：conversations 与 messages 表
  - 000002_message_order_index：消息按 (conversation_id, sent_at, seq) 排序的索引

# 核心类型

  - Migrator：迁移器接口，Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close。
  - DefaultMigrator：基于 golang-migrate 的实现，ctx 取消时通过
    GracefulStop 在当前迁移完成后停止。
  - CLI：终端格式化输出，Execute 按子命令分发。

# 工厂函数

NewMigratorFromDatabaseConfig / NewMigratorFromURL 创建迁移器，
MigrateUp 供服务启动时自动迁移使用。
*/
package migration
