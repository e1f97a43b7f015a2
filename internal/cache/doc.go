// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供共享的 Redis 连接管理，供检查点存储、任务存储与
搜索索引复用同一个连接池。

# 核心类型

  - Manager：持有 Redis 客户端，提供 GetJSON/SetJSON/Delete/Ping 与
    Client 访问器；Wrap 用于包装已有客户端。
  - Config：地址、密码、连接池与慢命令阈值。

# 主要能力

  - 慢命令日志：通过 go-redis Hook 记录超过阈值的命令与管道。
  - 永久键：ttl 为 0 时不设置过期时间，检查点条目依赖此语义。
  - 错误语义：ErrMiss 与 IsMiss，ErrClosed。
*/
package cache
