// 版权所有 2024 StoreFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 gorm 后端 artifact_stores 表的版本化 Schema，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 文件通过 embed.FS 内嵌在二进制中，由 iofs 源驱动交给
golang-migrate 执行。000001 创建 artifact_stores（主键为
package_type + store_type + name），000002 为按类型列举增加索引。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close；阻塞操作在 ctx 取消后于当前迁移结束时停止。
  - CLI：storeflow migrate 子命令的分发与终端输出。
  - NewMigratorFromConfig / NewMigratorFromDatabaseConfig /
    NewMigratorFromURL：从应用配置或连接串创建迁移器。
*/
package migration
