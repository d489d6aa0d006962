// 版权所有 2024 StoreFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为 StoreFlow 的注册表 span 提供集中配置的 TracerProvider 与 MeterProvider。
// 遥测关闭时使用 noop 实现，不连接任何外部服务。
package telemetry
