package driver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
)

// DefaultDialTimeout 默认建连超时
const DefaultDialTimeout = 5 * time.Second

// Options 连接选项
type Options struct {
	StationAddr byte // 本站（网关）地址
	DeviceAddr  byte // 仪器地址
	Timeout     time.Duration
	DialTimeout time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
	Hooks       Hooks
}

func (o *Options) withDefaults() {
	if o.StationAddr == 0 {
		o.StationAddr = mte.DefaultGatewayAddr
	}
	if o.DeviceAddr == 0 {
		o.DeviceAddr = mte.DefaultInstrumentAddr
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Conn 一条到仪器的连接：读循环 → 重组器 → Exchanger
type Conn struct {
	nc     net.Conn
	rx     *mte.Receiver
	ex     *Exchanger
	logger *zap.Logger
	hooks  Hooks

	closeOnce sync.Once
	done      chan struct{}
}

// Dial 建立连接
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts.withDefaults()
	d := net.Dialer{Timeout: opts.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("mte connected", zap.String("addr", addr))
	return NewConn(nc, opts), nil
}

// NewConn 接管已建立的连接并启动读循环
func NewConn(nc net.Conn, opts Options) *Conn {
	opts.withDefaults()
	c := &Conn{
		nc:     nc,
		logger: opts.Logger.With(zap.String("remote", nc.RemoteAddr().String())),
		hooks:  opts.Hooks,
		done:   make(chan struct{}),
	}
	c.ex = NewExchanger(nc, ExchangerConfig{
		StationAddr: opts.StationAddr,
		PeerAddr:    opts.DeviceAddr,
		Timeout:     opts.Timeout,
		Clock:       opts.Clock,
		Logger:      c.logger,
		Hooks:       opts.Hooks,
	})
	c.rx = mte.NewReceiver(opts.StationAddr, c.ex.Deliver, c.onDrop)
	c.rx.Start()
	go c.readLoop()
	return c
}

// Send 见 Exchanger.Send
func (c *Conn) Send(ctx context.Context, cmd byte, payload []byte, opts ...SendOption) (*mte.Frame, error) {
	return c.ex.Send(ctx, cmd, payload, opts...)
}

// Close 关闭连接，未完成的 Send 返回 ErrConnectionClosed
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.ex.Close()
		err = c.nc.Close()
		c.rx.Stop()
		close(c.done)
	})
	return err
}

// Done 连接关闭后关闭
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			if c.hooks.OnBytes != nil {
				c.hooks.OnBytes("rx", n)
			}
			c.rx.Feed(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn("mte read failed", zap.Error(err))
			}
			// 对端应答后立即断开时，应答须先于关闭交付
			c.rx.Flush()
			_ = c.Close()
			return
		}
	}
}

func (c *Conn) onDrop(err error) {
	c.logger.Warn("mte frame discarded", zap.String("kind", mte.KindOf(err)), zap.Error(err))
	if c.hooks.OnDrop != nil {
		c.hooks.OnDrop(mte.KindOf(err))
	}
}
