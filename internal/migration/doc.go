// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 longtask 的数据库 Schema，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

# 迁移内容

内嵌的 SQL 文件按方言分目录，版本号在三种方言间保持一致：

  - 000001_create_tasks：任务记录表 tasks。
  - 000002_create_checkpoints：检查点表 checkpoints。
  - 000003_create_cms：内容模型、条目与文件夹表。

SQLite 迁移走 mattn/go-sqlite3（需要 cgo），运行期存储仍使用纯 Go 的 glebarez/sqlite。

# 核心类型

  - Migrator / SchemaMigrator：Up/Down/Reset/Steps/Goto/Force 改变版本，
    Version/Plan/Summarize 查询状态。ctx 取消后在当前迁移完成时停止。
  - Catalog：列出某个方言的内嵌迁移。
  - CLI：longtask migrate 的终端输出。
  - FromDatabaseConfig / FromURL / URLFor：从应用配置或显式连接串构造。
*/
package migration
