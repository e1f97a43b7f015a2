// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理。

# 概述

Open 按 config.DatabaseConfig 选择方言（postgres、mysql、纯 Go 的
sqlite 以及 cgo 的 sqlite3），打开连接后交给 Pool 管理。
任务记录、检查点与 CMS 仓库共享同一个 *gorm.DB。sqlite 固定单连接。

# 核心类型

  - Pool：DB()、Ping()、Stats()、Close()；后台定时探活，
    成功后通过 Observe 回调导出连接池指标。
  - PoolConfig / PoolStats：连接池参数与快照。

# 事务

InTx 执行事务；传入 retry.Retryer 时，IsTransient 识别的错误
（PostgreSQL 40001/40P01/55P03、MySQL 1205/1213、SQLite busy、断连）
会整体重放事务，其余错误立即返回。
*/
package database
