// 版权所有 2024 StoreFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 StoreFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext，自动注册 Cleanup 防止泄漏
  - 断言工具: AssertStoreKeys / Keys
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel

# 子包

  - testutil/mocks: 可注入错误的 MockBackend、记录事件的
    RecordingListener 与可编排结果的 MockValidator
  - testutil/fixtures: 预置存储定义与典型组拓扑（菱形、环、链）

# 使用示例

	ctx := testutil.TestContext(t)
	b := mocks.NewMockBackend().WithPutErr(errors.New("boom"))
	reg := registry.New(b)
*/
package testutil
