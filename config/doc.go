// 版权所有 2024 StoreFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 config 提供 StoreFlow 的配置加载与热重载。

# 概述

配置按 默认值 → YAML 文件 → 环境变量（STOREFLOW_ 前缀）的顺序叠加，
Validate 汇总全部问题后一次返回。BackendConfig、CacheConfig 与
ValidatorConfig 将配置段转换为各组件自身的配置类型。

# 热重载

ReloadManager 借助 Watcher（fsnotify）监听配置文件，重新加载后
比较字段差异并依次调用 ReloadHook。Log.Level 与 Validation 下的
探测参数可在运行期生效，其余字段的变更会被记录为需要重启。
任一钩子失败时配置回滚到旧版本。
*/
package config
