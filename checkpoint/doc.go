/*
Package checkpoint 提供跨调用的键值侧通道存储。

长时间运行的破坏性任务在开始前写入一个检查点条目（例如
"deletingModel#<modelId>"），记录所属任务 ID 与发起人。条目的存在是拒绝
同一资源上第二次触发的唯一信号，同时供管理端的取消/查询操作定位任务。

实现：

  - MemoryStore：进程内 map，测试与单机模式
  - RedisStore：基于 internal/cache.Manager 的 JSON 值
  - GormStore：checkpoints 表（postgres / mysql / sqlite）
*/
package checkpoint
