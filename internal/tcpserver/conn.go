package tcpserver

import (
	"errors"
	"net"
	"sync/atomic"
	"time"
)

// ErrConnClosed 连接已关闭
var ErrConnClosed = errors.New("connection closed")

// ConnContext 单个 TCP 连接的读/写循环与回调
type ConnContext struct {
	s      *Server
	c      net.Conn
	id     uint64
	writeC chan []byte
	closed int32
	onRead func([]byte)
	doneC  chan struct{}
}

func newConnContext(s *Server, c net.Conn, id uint64) *ConnContext {
	return &ConnContext{
		s:      s,
		c:      c,
		id:     id,
		writeC: make(chan []byte, 16),
		doneC:  make(chan struct{}),
	}
}

// ID 连接 ID（进程内递增）
func (cc *ConnContext) ID() uint64 { return cc.id }

// RemoteAddr 远端地址
func (cc *ConnContext) RemoteAddr() net.Addr { return cc.c.RemoteAddr() }

// SetOnRead 安装读取回调
func (cc *ConnContext) SetOnRead(h func([]byte)) { cc.onRead = h }

// Write 异步写入
func (cc *ConnContext) Write(b []byte) error {
	if atomic.LoadInt32(&cc.closed) == 1 {
		return ErrConnClosed
	}
	dup := make([]byte, len(b))
	copy(dup, b)
	select {
	case cc.writeC <- dup:
		return nil
	case <-cc.doneC:
		return ErrConnClosed
	case <-time.After(cc.s.cfg.WriteTimeout):
		return errors.New("write queue timeout")
	}
}

// Close 关闭连接，读循环随之退出
func (cc *ConnContext) Close() error {
	if !atomic.CompareAndSwapInt32(&cc.closed, 0, 1) {
		return nil
	}
	return cc.c.Close()
}

// Done 连接关闭通知
func (cc *ConnContext) Done() <-chan struct{} { return cc.doneC }

// run 阻塞直至连接结束
func (cc *ConnContext) run() {
	defer close(cc.doneC)
	defer cc.Close()

	stopW := make(chan struct{})
	doneW := make(chan struct{})
	go func() {
		defer close(doneW)
		for {
			select {
			case msg := <-cc.writeC:
				_ = cc.c.SetWriteDeadline(time.Now().Add(cc.s.cfg.WriteTimeout))
				if _, err := cc.c.Write(msg); err != nil {
					return
				}
			case <-stopW:
				return
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		if cc.s.cfg.ReadTimeout > 0 {
			_ = cc.c.SetReadDeadline(time.Now().Add(cc.s.cfg.ReadTimeout))
		}
		n, err := cc.c.Read(buf)
		if n > 0 {
			if cc.s.onRecvBytes != nil {
				cc.s.onRecvBytes(n)
			}
			if cc.onRead != nil {
				cc.onRead(buf[:n])
			}
		}
		if err != nil {
			break
		}
	}
	close(stopW)
	<-doneW
}
