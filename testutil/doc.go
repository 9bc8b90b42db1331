// Copyright 2026 Perspectra Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 Perspectra 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现相似的
测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue，超时轮询等待条件满足
  - 数据工具: NewMessage / MessageIDs / Personas，简化会话数据构造

# 子包

  - testutil/mocks: ScriptedGateway（按脚本返回响应或错误）、
    BlockingGateway（阻塞直到放行或取消）、ObserverRecorder（记录观察者回调）

# 使用示例

	gw := mocks.NewScriptedGateway().WithContent("point one")
	rec := mocks.NewObserverRecorder()
	engine := boardroom.NewEngine(gw)
	rec.Attach(engine)
*/
package testutil
