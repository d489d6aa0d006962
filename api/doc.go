// 版权所有 2024 StoreFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package api 定义 StoreFlow 管理 API 的请求与响应类型。
//
// # API Overview
//
// 管理 API 只调用注册表操作：
//   - 仓库定义的查询、写入与删除
//   - 分组有序展开、包含关系与受影响分组
//   - 按 URL 查找远程仓库
//   - 注册表事件的 WebSocket 流
//   - 健康检查与版本信息
//
// # Authentication
//
// 配置了 JWT 密钥或 API Key 时，/api/v1 下的端点需要认证：
//
//	Authorization: Bearer <jwt>
//	X-API-Key: your-api-key
//
// 删除只读 hosted 仓库（ignore_readonly=true）需要 admin 角色。
//
// # Base URL
//
//	http://localhost:8080
package api
