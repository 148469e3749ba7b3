package simulator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
	"github.com/taoyao-code/mte-gateway/internal/tcpserver"
)

// Config 模拟仪器配置
type Config struct {
	Addr        string
	StationAddr byte // 仪器地址
	ReadTimeout time.Duration
	MaxConns    int
	// NakWrites 为 true 时所有写请求回 NAK
	NakWrites bool
	// Silent 收到后不应答的命令码（模拟免应答命令）
	Silent []byte
	// TestErrorRaw 轮询应答中的误差原值
	TestErrorRaw int32
	Device       *mte.DeviceInfo
	Reading      *mte.InstantaneousRaw
}

// Simulator CL3013 模拟仪器：应答连接、读、写、启停与轮询命令，并记录收到的请求
type Simulator struct {
	cfg    Config
	srv    *tcpserver.Server
	table  *Table
	logger *zap.Logger

	mu       sync.Mutex
	reading  mte.InstantaneousRaw
	device   mte.DeviceInfo
	nak      bool
	silent   map[byte]bool
	received []*mte.Frame
	loads    []*mte.LoadDefinition
	running  map[byte]bool
	seq      map[byte]uint8
}

// New 创建模拟仪器
func New(cfg Config, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StationAddr == 0 {
		cfg.StationAddr = mte.DefaultInstrumentAddr
	}
	s := &Simulator{
		cfg:     cfg,
		table:   NewTable(),
		logger:  logger,
		nak:     cfg.NakWrites,
		silent:  make(map[byte]bool),
		running: make(map[byte]bool),
		seq:     make(map[byte]uint8),
	}
	for _, c := range cfg.Silent {
		s.silent[c] = true
	}
	if cfg.Device != nil {
		s.device = *cfg.Device
	} else {
		s.device = DefaultDevice()
	}
	if cfg.Reading != nil {
		s.reading = *cfg.Reading
	} else {
		s.reading = DefaultReading()
	}

	s.table.Register(mte.CmdConnect, s.handleConnect)
	s.table.Register(mte.CmdRead, s.handleRead)
	s.table.Register(mte.CmdWrite, s.handleWrite)
	s.table.Register(mte.CmdStopTest, s.handleStopTest)
	s.table.Register(mte.CmdStartTest, s.handleStartTest)
	s.table.Register(mte.CmdPollTestResult, s.handlePoll)

	s.srv = tcpserver.New(tcpserver.Config{
		Addr:        cfg.Addr,
		ReadTimeout: cfg.ReadTimeout,
		MaxConns:    cfg.MaxConns,
	}, logger)
	s.srv.SetConnHandler(s.bind)
	return s
}

// DefaultDevice 默认设备信息，序列号随机生成
func DefaultDevice() mte.DeviceInfo {
	return mte.DeviceInfo{
		ProtocolVersion: "1",
		DeviceType:      "CL3013",
		FirmwareVersion: "1",
		SerialNumber:    uuid.NewString()[:12],
	}
}

// DefaultReading 默认瞬时量
func DefaultReading() mte.InstantaneousRaw {
	return mte.InstantaneousRaw{
		V:    [3]mte.ME{{Mantissa: 239000000, Exponent: -6}, {Mantissa: 241000000, Exponent: -6}, {Mantissa: 230000000, Exponent: -6}},
		I:    [3]mte.ME{{Mantissa: 5010000, Exponent: -6}, {Mantissa: 4990000, Exponent: -6}, {Mantissa: 20680000, Exponent: -6}},
		Freq: 500,
		PhiV: [3]int32{0, 2400, 1200},
		PhiI: [3]int32{0, 2400, 1200},
		PF:   [3]int32{10, 10, 10},
		P: [4]mte.ME{
			{Mantissa: 84668258, Exponent: -5}, {Mantissa: 85035954, Exponent: -5},
			{Mantissa: 411916323, Exponent: -5}, {Mantissa: 581620535, Exponent: -5},
		},
		Q: [4]mte.ME{
			{Mantissa: 84668258, Exponent: -5}, {Mantissa: 85035954, Exponent: -5},
			{Mantissa: 237820000, Exponent: -5}, {Mantissa: 407524212, Exponent: -5},
		},
	}
}

// Start 开始监听
func (s *Simulator) Start() error { return s.srv.Start() }

// Addr 实际监听地址
func (s *Simulator) Addr() string {
	if a := s.srv.Addr(); a != nil {
		return a.String()
	}
	return s.cfg.Addr
}

// SetMetricsCallbacks 设置连接与收包指标回调（Start 之前调用）
func (s *Simulator) SetMetricsCallbacks(onAccept func(), onRecvBytes func(int)) {
	s.srv.SetMetricsCallbacks(onAccept, onRecvBytes)
}

// Shutdown 停止服务
func (s *Simulator) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// SetReading 更新瞬时量
func (s *Simulator) SetReading(r mte.InstantaneousRaw) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = r
}

// SetNak 切换写请求 NAK 模式
func (s *Simulator) SetNak(nak bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nak = nak
}

// Received 返回收到的指定命令请求（按到达顺序）
func (s *Simulator) Received(cmd byte) []*mte.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mte.Frame
	for _, f := range s.received {
		if f.Cmd == cmd {
			out = append(out, f)
		}
	}
	return out
}

// Loads 返回已接受的负载设定
func (s *Simulator) Loads() []*mte.LoadDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*mte.LoadDefinition(nil), s.loads...)
}

// Running 表位是否处于校验中
func (s *Simulator) Running(mindex byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[mindex]
}

// bind 为新连接安装重组器
func (s *Simulator) bind(cc *tcpserver.ConnContext) {
	log := s.logger.With(zap.Uint64("conn_id", cc.ID()), zap.String("remote", cc.RemoteAddr().String()))
	log.Info("simulator connection accepted")

	rx := mte.NewReceiver(s.cfg.StationAddr, func(f *mte.Frame) {
		s.serve(cc, f, log)
	}, func(err error) {
		log.Warn("simulator frame discarded", zap.String("kind", mte.KindOf(err)), zap.Error(err))
	})
	cc.SetOnRead(rx.Feed)
	rx.Start()
	go func() {
		<-cc.Done()
		rx.Stop()
		log.Info("simulator connection closed")
	}()
}

func (s *Simulator) serve(cc *tcpserver.ConnContext, f *mte.Frame, log *zap.Logger) {
	s.mu.Lock()
	s.received = append(s.received, f)
	silent := s.silent[f.Cmd]
	s.mu.Unlock()

	reply, ok := s.table.Route(f)
	if !ok {
		log.Warn("no handler for command", zap.Uint8("cmd", f.Cmd))
		return
	}
	if reply == nil || silent {
		return
	}
	raw, err := mte.EncodeFrame(f.Sender, s.cfg.StationAddr, reply.Cmd, reply.Payload)
	if err != nil {
		log.Error("encode reply failed", zap.Error(err))
		return
	}
	if err := cc.Write(raw); err != nil {
		log.Warn("write reply failed", zap.Error(err))
	}
}
