package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentcouncil/agent/worker"
)

// ExecutorCall 记录一次动作执行
type ExecutorCall struct {
	Action string
	Params map[string]any
	At     time.Time
}

// FuncExecutor 按动作名分派的 worker.ActionExecutor。
// 未注册的动作返回错误，可用 FailTimes 让动作先失败若干次。
type FuncExecutor struct {
	mu       sync.Mutex
	actions  map[string]worker.ExecutorFunc
	failures map[string]int
	calls    []ExecutorCall
}

// NewFuncExecutor 创建执行器
func NewFuncExecutor() *FuncExecutor {
	return &FuncExecutor{
		actions:  make(map[string]worker.ExecutorFunc),
		failures: make(map[string]int),
	}
}

// Handle 注册动作
func (e *FuncExecutor) Handle(action string, fn worker.ExecutorFunc) *FuncExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[action] = fn
	return e
}

// Returns 注册一个总是返回 output 的动作
func (e *FuncExecutor) Returns(action string, output any) *FuncExecutor {
	return e.Handle(action, func(context.Context, string, map[string]any) (any, error) {
		return output, nil
	})
}

// FailTimes 让 action 的前 n 次执行返回错误
func (e *FuncExecutor) FailTimes(action string, n int) *FuncExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[action] = n
	return e
}

// Execute 实现 worker.ActionExecutor
func (e *FuncExecutor) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	e.mu.Lock()
	e.calls = append(e.calls, ExecutorCall{Action: action, Params: params, At: time.Now()})
	fn, ok := e.actions[action]
	fail := e.failures[action] > 0
	if fail {
		e.failures[action]--
	}
	e.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("%s: injected failure", action)
	}
	if !ok {
		return nil, errors.New("unknown action: " + action)
	}
	return fn(ctx, action, params)
}

// Calls 返回调用记录副本
func (e *FuncExecutor) Calls() []ExecutorCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExecutorCall(nil), e.calls...)
}

// CallCount 返回 action 的执行次数
func (e *FuncExecutor) CallCount(action string) int {
	n := 0
	for _, c := range e.Calls() {
		if c.Action == action {
			n++
		}
	}
	return n
}

var _ worker.ActionExecutor = (*FuncExecutor)(nil)
