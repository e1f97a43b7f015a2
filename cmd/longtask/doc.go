// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 longtask 服务端程序入口。

# 概述

cmd/longtask 装配编排器、检查点存储、内置任务定义（deleteModel、
pruneLogs、syncIndex）与 HTTP API，提供 serve、run、migrate、
health、version 子命令。

# 核心类型

  - App：组件装配：连接、存储、注册表、调度器与处理器
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    Observe（访问日志 + HTTP 指标）、JWTAuth（HS256/RS256）、RateLimiter（按租户）
  - 本地调度器：轮询可运行任务并交给 worker 池续跑
  - 配置热重载：配置文件变更后调整日志级别
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
