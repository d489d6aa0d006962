// Copyright (c) StoreFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 StoreFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 registry、api 等上层模块
提供统一的类型契约。

# 核心类型

  - StoreKey / StoreType — 仓库身份三元组 (packageType, storeType, name)
  - ArtifactStore        — 仓库定义，Remote / Hosted / Group 三选一
  - ChangeSummary        — 变更记录（谁、为什么）
  - Error / ErrorCode    — 结构化错误体系，携带仓库 key 与 Retryable 标记

# 主要能力

  - StoreKey 文本序列化，可直接作为 JSON map key
  - Group 成员维护：AddConstituent / RemoveConstituent（尊重 prepend 标记）
  - 错误工具链：AsError / IsErrorCode / IsRetryable
*/
package types
