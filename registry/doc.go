// 版权所有 2024 StoreFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 registry 是存储定义的权威目录，负责按键串行化写入、在写入前后
派发变更事件，并维护组成员关系的反向索引（affected-by）。

# 核心类型

  - Registry：注册表本体。Store/Delete 获取每键锁（超时返回
    LOCK_TIMEOUT），先派发 pre 事件再持久化；post 事件失败时
    恢复原值并回退索引。
  - AffectedIndex：成员到直接包含它的组的反向映射，按成员差量
    增量维护，可随时由 Rebuild 从全部组重建。
  - Query：只读查询门面，支持包类型、存储类型与启用状态过滤，
    提供组展开顺序、直接成员查询与按 URL 查找远程仓库。
  - Dispatcher / Broadcaster：同步事件派发与面向订阅者的扇出。
  - EventMetadata：随一次变更传递的上下文包，记录变更摘要、
    只读绕过标记，并缓存 affected-by 结果。

# 遍历语义

AffectedBy 沿反向索引做广度优先遍历，已处理集合保证每个组只出现
一次且环路终止。被禁用的组会出现在结果中，但不会继续向上展开。
GetOrderedStoresInGroup 按成员列表顺序做深度优先展开，seen 集合
以根组为种子，重复或成环的成员只计入一次。
*/
package registry
