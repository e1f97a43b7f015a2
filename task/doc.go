// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 task 实现可恢复、带检查点的长任务执行核心。

# 概述

一个长任务被拆成多次有时间预算的调用（invocation）。每次调用由 Runner
完成一段工作，并返回四种结果之一：

  - Continue：还有剩余工作，携带下一次调用的输入（游标）与可选延迟
  - Done：成功终止，携带输出
  - Failed：失败终止，携带结构化错误（ErrorInfo）
  - Aborted：观察到取消请求后终止

Runner 在每个工作单元循环顶部通过 Check(Guard) 轮询：取消优先于超时。

# 生命周期

  pending → running → (running)* → done | error | aborted
  pending → aborted （从未开始的任务被取消时立即终结）

Orchestrator 在调用 Runner 之前先把迭代计数加一并持久化，之后再写入结果。
Runner 的 panic 转换为 RUNNER_PANIC，返回 nil 转换为 CONTRACT_VIOLATION，
超过 MaxIterations 时以 MAX_ITERATIONS_EXCEEDED 终止。

# 驱动方式

  - Orchestrator.Invoke：执行恰好一次调用
  - Orchestrator.RunToCompletion：循环调用直到终态
  - Scheduler：轮询可运行任务并分发到 worker 池，同一任务同时最多一个调用
*/
package task
