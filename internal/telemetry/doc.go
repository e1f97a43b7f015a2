// Package telemetry 封装 OpenTelemetry SDK 初始化，为编排器调用 span 与
// HTTP 追踪中间件提供全局 TracerProvider 和 MeterProvider。
// 遥测禁用时保留 noop 实现，不连接任何外部服务。
package telemetry
