// 版权所有 2024 Perspectra Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 boardroom 提供多角色董事会辩论的对话编排引擎。

# 概述

boardroom 解决的是"谁在什么时候发言"的问题：一组固定的 AI 角色
（System-1 直觉思考者、System-2 分析思考者、主持人/事实核查者、
魔鬼代言人）与可选的人类参与者围绕同一个问题轮流发言。引擎负责
发言人选择、回合节奏、轮次与话题状态，以及暂停、恢复、停止和
用户插话。引擎本身不生成文本，也不做持久化。

# 核心类型

  - Engine：对外门面，持有 ConversationState 与规范历史，
    提供 Start / Pause / Resume / Stop / Interrupt / AddMessage /
    SetSpeakingInterval 等生命周期操作
  - ResponseGateway：外部生成接口，给定角色、问题与历史返回消息正文
    与事实核查标记，可能失败或很慢
  - SpeakerPolicy：纯函数式发言人选择策略，默认实现见 speaker 子包
  - MessageObserver / StateObserver：单订阅者回调，后注册者替换前者

# 调度模型

每个会话只有一个调度循环（Idle → Running ⇄ Paused → Stopped）。
循环的两个挂起点（节奏等待与生成调用）都在同一个步骤 context 下
执行，Pause 与 Stop 通过取消该 context 立即生效：被取消的回合
永远不会发出消息。Resume 重新开始一个完整的等待间隔并重新选择
发言人。生成失败（错误、空响应、超时）视为跳过回合，轮次与
LastSpeakTime 不变，循环等待下一个间隔后再试。

# 回调语义

观察者在引擎完成对应状态变更之后、按变更顺序被调用；同一时刻只有
一个 goroutine 投递事件。观察者内部可以重入调用引擎方法（例如把
消息经 AddMessage 回灌、或调用 Pause），重入调用只入队不阻塞。
观察者返回的错误或 panic 会被记录并计数，但不会中断调度循环。

# 使用示例

	engine := boardroom.NewEngine(gateway,
		boardroom.WithLogger(logger),
		boardroom.WithSpeakingInterval(3*time.Second),
	)
	engine.SetMessageObserver(func(m types.Message) error {
		return store.AppendMessage(ctx, conversationID, m)
	})
	if err := engine.Start("Should we expand into Europe?", nil); err != nil {
		return err
	}
*/
package boardroom
