// Package config 提供 longtask 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 LONGTASK）的顺序加载，
// 覆盖 HTTP 服务、编排器、任务/检查点存储、各 runner、重试、Redis、
// 数据库、MongoDB、JWT、日志与遥测。Reloader 轮询配置文件并在变更后
// 重新加载，serve 命令用它在运行时调整日志级别。
package config
