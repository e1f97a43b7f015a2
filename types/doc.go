// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 longtask 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 task、runners、api
等上层模块提供统一的错误契约与上下文传播工具，以避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误，含 HTTP 状态码、Retryable 标记与上下文 Data
  - HTTPStatusFor：错误码到 HTTP 状态码的映射

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithTenantID / WithUserID /
    WithLocale / WithTaskID
  - 错误工具链：AsError / IsErrorCode / GetErrorCode / IsRetryable
*/
package types
