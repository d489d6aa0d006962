// 版权所有 2024 StoreFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 StoreFlow 服务端程序入口。

# 概述

cmd/storeflow 是仓库注册表的可执行入口，提供管理 API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及配置热重载。

# 核心类型

  - Server           — 组装后端、注册表、校验器与 HTTP 服务，负责优雅关闭
  - Middleware       — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - validatorGate    — 按热更新后的 validation.enabled 决定是否探测远程仓库

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    Metrics、RequestLogger、CORS、Authenticate（JWT / X-API-Key）、
    RateLimiter（按用户或 IP）
  - 配置热重载：日志级别与校验参数无需重启即可生效
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
