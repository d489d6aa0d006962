// 版权所有 2024 StoreFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 StoreFlow 的 HTTP 监听：管理 API 与 Prometheus
/metrics 各占一个具名服务器。

Manager.Add 注册服务器，Start 非阻塞地监听全部地址（任一失败则
释放已打开的监听），Run 阻塞到 ctx 取消或某个服务异常退出，随后
借助 errgroup 并发优雅关闭。Config 同时设置证书与私钥时使用 TLS。
*/
package server
