// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 API 端口与 metrics 端口的 HTTP/HTTPS 监听生命周期。

# 核心类型

  - Manager：封装 http.Server 与 net.Listener，提供 Start/Run/Shutdown。
  - Config：监听地址、读写与空闲超时、关闭超时以及可选的 TLS 证书。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中服务；配置证书时自动走 HTTPS。
  - 阻塞运行：Run 在 ctx 取消或服务异常退出后执行优雅关闭，适合放进 errgroup。
  - TLS：Start 先加载证书再绑定端口，监听套接字使用 TLSConfig（TLS 1.2+，AEAD 套件）；ProbeClient 供 health 命令使用。
  - 错误传播：Errors() 暴露异步服务错误。
*/
package server
