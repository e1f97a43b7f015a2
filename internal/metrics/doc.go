// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、任务执行
与数据库连接池。

# 概述

每个 Collector 持有独立的 prometheus.Registry（含 Go 运行时与进程指标），
Handler 暴露该 Registry。Collector 实现 task.MetricsRecorder，
可直接传给 task.WithMetrics 接入编排器。

# 指标

  - http_*：请求数（状态码按 2xx/4xx 等归类）、耗时、请求/响应体大小。
  - task_*：按 definition/outcome 统计调用与耗时，按终态统计完成数，
    按 definition/action 统计 runner 处理的条目数。
  - scheduler_in_flight：抓取时读取调度器在途调用数。
  - db_connections：按 open/idle 区分的连接池 Gauge。
*/
package metrics
