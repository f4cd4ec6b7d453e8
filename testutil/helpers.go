// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 上下文、异步等待与协议消息收集
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	rec := testutil.RecordMessages(p, protocol.MessageTaskComplete)
//	testutil.AssertEventuallyTrue(t, func() bool { return rec.Len() == 1 }, time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentcouncil/agent/protocol"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
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
// ⏱️ 异步断言
// =============================================================================

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// =============================================================================
// 📨 协议消息收集
// =============================================================================

// MessageRecorder 记录经过协议的指定类型消息
type MessageRecorder struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

// RecordMessages 为每个类型注册一个记录处理器
func RecordMessages(p *protocol.Protocol, kinds ...protocol.MessageType) *MessageRecorder {
	r := &MessageRecorder{}
	for _, kind := range kinds {
		p.RegisterHandler(kind, func(_ context.Context, msg *protocol.Message) error {
			r.mu.Lock()
			r.msgs = append(r.msgs, msg.Clone())
			r.mu.Unlock()
			return nil
		})
	}
	return r
}

// Messages 返回已记录的消息
func (r *MessageRecorder) Messages() []*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Message(nil), r.msgs...)
}

// OfType 返回指定类型的消息
func (r *MessageRecorder) OfType(kind protocol.MessageType) []*protocol.Message {
	var out []*protocol.Message
	for _, m := range r.Messages() {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

// Len 返回记录数
func (r *MessageRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MustParseJSON 解析 JSON 字符串，失败时 panic
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}
