// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 longtask HTTP API 的请求处理器。

# 核心类型

  - TaskHandler：任务创建、查询、列表与中止（/api/v1/tasks）
  - ModelHandler：模型删除的启动、取消与进度（/api/v1/models/{id}/delete）
  - HealthHandler：/health、/healthz、/ready、/version
  - Response：统一 JSON 响应（success + data + error + timestamp + request_id）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，供中间件使用

# 主要能力

  - types.ErrorCode 到 HTTP 状态码的映射（types.HTTPStatusFor）
  - 严格的请求体解码：拒绝未知字段，限制 1 MB
  - Register(mux) 基于 Go 1.22 方法+路径模式注册路由
*/
package handlers
