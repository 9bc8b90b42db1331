// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BaSui01/perspectra/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// ⏳ 异步断言
// =============================================================================

// AssertEventuallyTrue 轮询直到条件成立或超时
func AssertEventuallyTrue(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// =============================================================================
// 📦 数据工具
// =============================================================================

// NewMessage 构造指定角色的消息
func NewMessage(id string, persona types.PersonaType, content string) types.Message {
	return types.Message{
		ID:        id,
		Persona:   persona,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// SeedHistory 构造 n 条交替发言的种子消息
func SeedHistory(n int) []types.Message {
	personas := types.AutonomousPersonas()
	out := make([]types.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, NewMessage(fmt.Sprintf("seed-%d", i), personas[i%2], fmt.Sprintf("seed point %d", i)))
	}
	return out
}

// MessageIDs 提取消息 ID 列表
func MessageIDs(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// Personas 提取消息的发言角色列表
func Personas(msgs []types.Message) []types.PersonaType {
	out := make([]types.PersonaType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Persona
	}
	return out
}
