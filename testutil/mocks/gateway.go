// Package mocks 提供 boardroom 组件的测试模拟实现。
//
// 支持脚本化响应、错误注入与阻塞生成场景。
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/perspectra/agent/boardroom"
	"github.com/BaSui01/perspectra/types"
)

// --- ScriptedGateway ---

// Step 是脚本中的一次生成结果
type Step struct {
	Content     string
	FactChecked bool
	Err         error
}

// ScriptedGateway 按脚本依次返回结果，脚本耗尽后返回确定性内容
type ScriptedGateway struct {
	mu       sync.Mutex
	steps    []Step
	fallback func(req boardroom.GenerateRequest, call int) Step
	calls    []boardroom.GenerateRequest
}

// NewScriptedGateway 创建默认返回 "<persona> point <n>" 的网关
func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{
		fallback: func(req boardroom.GenerateRequest, call int) Step {
			return Step{
				Content:     fmt.Sprintf("%s point %d", req.Persona, call),
				FactChecked: req.Persona == types.PersonaModerator,
			}
		},
	}
}

// WithSteps 追加脚本步骤
func (g *ScriptedGateway) WithSteps(steps ...Step) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.steps = append(g.steps, steps...)
	return g
}

// WithContent 将后续所有默认响应固定为 content
func (g *ScriptedGateway) WithContent(content string) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallback = func(boardroom.GenerateRequest, int) Step { return Step{Content: content} }
	return g
}

// WithError 使所有脚本外调用返回 err
func (g *ScriptedGateway) WithError(err error) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallback = func(boardroom.GenerateRequest, int) Step { return Step{Err: err} }
	return g
}

// Generate 实现 boardroom.ResponseGateway
func (g *ScriptedGateway) Generate(ctx context.Context, req boardroom.GenerateRequest) (*boardroom.GenerateResponse, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	call := len(g.calls)
	var step Step
	if len(g.steps) > 0 {
		step = g.steps[0]
		g.steps = g.steps[1:]
	} else {
		step = g.fallback(req, call)
	}
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &boardroom.GenerateResponse{Content: step.Content, FactChecked: step.FactChecked}, nil
}

// Calls 返回调用记录副本
func (g *ScriptedGateway) Calls() []boardroom.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]boardroom.GenerateRequest, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallCount 返回调用次数
func (g *ScriptedGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// --- BlockingGateway ---

// BlockingGateway 在 Release 之前阻塞每次生成
type BlockingGateway struct {
	started chan boardroom.GenerateRequest
	release chan string
	// IgnoreCancel 为 true 时忽略 ctx 取消，模拟不配合取消的后端
	IgnoreCancel bool
}

// NewBlockingGateway 创建阻塞网关
func NewBlockingGateway() *BlockingGateway {
	return &BlockingGateway{
		started: make(chan boardroom.GenerateRequest, 16),
		release: make(chan string),
	}
}

// Started 每次生成开始时收到请求
func (g *BlockingGateway) Started() <-chan boardroom.GenerateRequest {
	return g.started
}

// Release 放行一次阻塞中的生成，返回 content
func (g *BlockingGateway) Release(content string) {
	g.release <- content
}

// Generate 实现 boardroom.ResponseGateway
func (g *BlockingGateway) Generate(ctx context.Context, req boardroom.GenerateRequest) (*boardroom.GenerateResponse, error) {
	select {
	case g.started <- req:
	default:
	}
	if g.IgnoreCancel {
		content := <-g.release
		return &boardroom.GenerateResponse{Content: content}, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case content := <-g.release:
		return &boardroom.GenerateResponse{Content: content}, nil
	}
}
