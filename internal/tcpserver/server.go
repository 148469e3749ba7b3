package tcpserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/mte-gateway/internal/guard"
)

// Config TCP 服务配置
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxConns     int
}

// Server 最小 TCP 服务：接受连接并交给连接处理器
type Server struct {
	cfg        Config
	ln         net.Listener
	wg         sync.WaitGroup
	stopC      chan struct{}
	stopOnce   sync.Once
	limiter    *guard.SessionLimiter
	logger     *zap.Logger
	nextConnID uint64
	conns      sync.Map // id -> *ConnContext

	handler func(*ConnContext)
	// 可选指标回调
	onAccept    func()
	onRecvBytes func(n int)
}

// New 创建 TCP 服务
func New(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 64
	}
	return &Server{
		cfg:     cfg,
		stopC:   make(chan struct{}),
		limiter: guard.NewSessionLimiter(cfg.MaxConns, time.Second),
		logger:  logger,
	}
}

// SetConnHandler 设置新连接处理器（在读循环启动前调用，用于安装 onRead）
func (s *Server) SetConnHandler(h func(*ConnContext)) { s.handler = h }

// SetMetricsCallbacks 设置指标回调
func (s *Server) SetMetricsCallbacks(onAccept func(), onRecvBytes func(int)) {
	s.onAccept, s.onRecvBytes = onAccept, onRecvBytes
}

// Addr 实际监听地址（Start 之后有效）
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start 监听并接受连接（非阻塞）
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("tcp server listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			c, err := s.ln.Accept()
			if err != nil {
				select {
				case <-s.stopC:
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				// 短暂错误等待后重试
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if err := s.limiter.Acquire(context.Background()); err != nil {
				s.logger.Warn("connection rejected", zap.String("remote", c.RemoteAddr().String()), zap.Error(err))
				_ = c.Close()
				continue
			}
			if s.onAccept != nil {
				s.onAccept()
			}

			cc := newConnContext(s, c, atomic.AddUint64(&s.nextConnID, 1))
			if s.handler != nil {
				s.handler(cc)
			}
			s.conns.Store(cc.ID(), cc)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.limiter.Release()
				defer s.conns.Delete(cc.ID())
				cc.run()
			}()
		}
	}()
	return nil
}

// Shutdown 关闭监听与全部连接并等待退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopC) })
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.conns.Range(func(_, v any) bool {
		_ = v.(*ConnContext).Close()
		return true
	})
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
