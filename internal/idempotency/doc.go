// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 idempotency 为任务触发提供幂等键存储。

客户端在 POST /api/v1/tasks 时携带 Idempotency-Key 请求头，重复请求
返回第一次创建的任务而不是新建一条记录。Redis 实现在多副本间共享，
内存实现用于单进程部署与测试。
*/
package idempotency
