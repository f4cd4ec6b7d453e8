// 议会模型后端的测试模拟实现。
//
// 支持按模型固定回复、错误注入与延迟，并记录调用与峰值并发。
package mocks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentcouncil/agent/council"
)

// --- ScriptedGenerator ---

// ScriptedGenerator 按模型返回预设回复的 council.Generator
type ScriptedGenerator struct {
	mu       sync.RWMutex
	replies  map[string]string
	errs     map[string]error
	delays   map[string]time.Duration
	fallback string
	calls    []council.GenerateRequest

	inFlight atomic.Int32
	peak     atomic.Int32
}

// NewScriptedGenerator 创建模拟生成器；未配置的模型返回 fallback
func NewScriptedGenerator() *ScriptedGenerator {
	return &ScriptedGenerator{
		replies:  make(map[string]string),
		errs:     make(map[string]error),
		delays:   make(map[string]time.Duration),
		fallback: `{"vote":"approve","confidence":0.8,"reasoning":"looks fine"}`,
	}
}

// WithReply 设置模型的固定回复
func (g *ScriptedGenerator) WithReply(model, reply string) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[model] = reply
	return g
}

// WithError 设置模型返回的错误
func (g *ScriptedGenerator) WithError(model string, err error) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[model] = err
	return g
}

// WithDelay 设置模型的响应延迟
func (g *ScriptedGenerator) WithDelay(model string, d time.Duration) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delays[model] = d
	return g
}

// WithFallback 设置未配置模型的回复
func (g *ScriptedGenerator) WithFallback(reply string) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallback = reply
	return g
}

// Generate 实现 council.Generator
func (g *ScriptedGenerator) Generate(ctx context.Context, req council.GenerateRequest) (string, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	g.mu.Lock()
	g.calls = append(g.calls, req)
	delay := g.delays[req.Model]
	err := g.errs[req.Model]
	reply, ok := g.replies[req.Model]
	if !ok {
		reply = g.fallback
	}
	g.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Calls 返回调用记录副本
func (g *ScriptedGenerator) Calls() []council.GenerateRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]council.GenerateRequest(nil), g.calls...)
}

// CalledModels 返回被调用过的模型（排序、去重）
func (g *ScriptedGenerator) CalledModels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range g.Calls() {
		if !seen[c.Model] {
			seen[c.Model] = true
			out = append(out, c.Model)
		}
	}
	sort.Strings(out)
	return out
}

// PeakConcurrency 返回观察到的最大并发调用数
func (g *ScriptedGenerator) PeakConcurrency() int {
	return int(g.peak.Load())
}

// --- StaticRegistry ---

// ErrRegistryDown 模拟模型列表不可用
var ErrRegistryDown = errors.New("model registry down")

// StaticRegistry 返回固定模型列表的 council.ModelRegistry
type StaticRegistry struct {
	mu     sync.RWMutex
	models []string
	err    error
}

// NewStaticRegistry 创建模型列表
func NewStaticRegistry(models ...string) *StaticRegistry {
	return &StaticRegistry{models: models}
}

// SetModels 替换模型列表
func (r *StaticRegistry) SetModels(models ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = models
}

// SetError 使 ListModels 返回 err；nil 恢复正常
func (r *StaticRegistry) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// ListModels 实现 council.ModelRegistry
func (r *StaticRegistry) ListModels(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}
	return append([]string(nil), r.models...), nil
}

var (
	_ council.Generator     = (*ScriptedGenerator)(nil)
	_ council.ModelRegistry = (*StaticRegistry)(nil)
)
