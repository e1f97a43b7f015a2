// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供任务记录的持久化存储，实现 task.Store 契约。

# 概述

编排器只通过 task.Store 读写任务记录（创建、读取、整体覆盖、按条件列出），
写入遵循后写者胜出。本包在此之上提供删除与统计等管理操作，
并按 StoreConfig.Type 选择后端。

# 核心接口

  - TaskStore：task.Store + Close/Ping + Stats
  - TaskStoreStats：按状态与任务定义的计数

# 后端实现

  - MemoryTaskStore：进程内 map，返回深拷贝
  - FileTaskStore：内存缓存 + index.json 原子落盘
  - RedisTaskStore：JSON 值 + 有序集合/集合索引
  - GormTaskStore：tasks 表（postgres / mysql / sqlite）

# 使用方式

	store, err := persistence.NewTaskStore(cfg.Store, persistence.Backends{Redis: client, DB: db})
*/
package persistence
