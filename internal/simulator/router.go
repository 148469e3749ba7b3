package simulator

import (
	"sync"

	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
)

// Reply 应答（nil 表示不应答）
type Reply struct {
	Cmd     byte
	Payload []byte
}

// Handler 请求处理函数
type Handler func(f *mte.Frame) *Reply

// Table 路由表（cmd -> handler）
type Table struct {
	mu       sync.RWMutex
	handlers map[byte]Handler
}

// NewTable 创建路由表
func NewTable() *Table { return &Table{handlers: make(map[byte]Handler)} }

// Register 注册处理器，重复注册覆盖
func (t *Table) Register(cmd byte, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[cmd] = h
}

// Route 分发请求；未注册的命令返回 (nil, false)
func (t *Table) Route(f *mte.Frame) (*Reply, bool) {
	t.mu.RLock()
	h := t.handlers[f.Cmd]
	t.mu.RUnlock()
	if h == nil {
		return nil, false
	}
	return h(f), true
}
