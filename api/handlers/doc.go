// 版权所有 2024 StoreFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 handlers 实现 StoreFlow 管理 API 的 HTTP 处理器。

处理器只调用注册表操作，不含业务规则：

  - StoreHandler   仓库定义的列表、查询、写入与删除
  - GroupHandler   分组有序展开、包含关系、受影响分组、按 URL 查找远程仓库
  - EventsHandler  注册表 post-* 事件的 WebSocket 推送
  - HealthHandler  /health、/healthz、/ready 与 /version

所有 JSON 响应使用 Response 信封。注册表错误经 WriteRegistryError
按错误码映射为 HTTP 状态：NOT_FOUND→404，VALIDATION_FAILED 与
INVALID_REQUEST→400，READONLY_VIOLATION→409，LOCK_TIMEOUT→503，
BACKEND_FAILURE→502。

路由使用 Go 1.22 的方法与通配符模式（见 Routes）。
*/
package handlers
