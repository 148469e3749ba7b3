package mte

import (
	"fmt"
	"sync"
)

// StreamDecoder 处理半包/粘包的流式解码器（非并发安全，由 Receiver 加锁使用）
type StreamDecoder struct {
	buf     []byte
	station byte // 本站地址，接收地址不符的帧丢弃
}

// NewStreamDecoder 创建流式解码器
func NewStreamDecoder(station byte) *StreamDecoder {
	return &StreamDecoder{station: station}
}

// Feed 追加上行字节
func (d *StreamDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered 当前缓冲字节数
func (d *StreamDecoder) Buffered() int { return len(d.buf) }

// Next 尝试切出下一帧：
//   - (frame, nil) 成功
//   - (nil, err)   本帧已消耗但被丢弃（校验/地址错误），调用方应继续调用
//   - (nil, nil)   数据不足，等待更多字节
func (d *StreamDecoder) Next() (*Frame, error) {
	for {
		// 丢弃起始符之前的杂散字节
		start := 0
		for start < len(d.buf) && d.buf[start] != MessageStart {
			start++
		}
		d.buf = d.buf[start:]

		// 长度字段位于偏移 3
		if len(d.buf) < 4 {
			return nil, nil
		}
		total := int(d.buf[3])
		if total < MsgOverhead {
			// 长度非法，跳过起始符重新同步
			d.buf = d.buf[1:]
			continue
		}
		if len(d.buf) < total {
			// 半包，等待更多
			return nil, nil
		}

		raw := d.buf[:total]
		d.buf = d.buf[total:]
		if len(d.buf) == 0 {
			d.buf = nil
		}

		f, err := DecodeFrame(raw)
		if err != nil {
			return nil, err
		}
		if f.Receiver != d.station {
			return nil, fmt.Errorf("%w: got %d, expect %d", ErrAddressMismatch, f.Receiver, d.station)
		}
		return f, nil
	}
}

// Drain 同步切出当前缓冲内的全部有效帧，丢弃的帧交给 onDrop
func (d *StreamDecoder) Drain(onDrop func(error)) []*Frame {
	var out []*Frame
	for {
		f, err := d.Next()
		if err != nil {
			if onDrop != nil {
				onDrop(err)
			}
			continue
		}
		if f == nil {
			return out
		}
		out = append(out, f)
	}
}

// Receiver 每连接一个的重组器：Feed 追加字节并唤醒扫描协程，
// 扫描协程按到达顺序逐帧回调 onMessage，帧与帧之间让出执行权。
type Receiver struct {
	mu        sync.Mutex
	dec       *StreamDecoder
	wake      chan struct{} // 容量 1，多次到达合并为一次完整重扫
	stopC     chan struct{}
	doneC     chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once

	onMessage func(*Frame)
	onDrop    func(error)
}

// NewReceiver 创建重组器；onDrop 可为 nil
func NewReceiver(station byte, onMessage func(*Frame), onDrop func(error)) *Receiver {
	return &Receiver{
		dec:       NewStreamDecoder(station),
		wake:      make(chan struct{}, 1),
		stopC:     make(chan struct{}),
		doneC:     make(chan struct{}),
		onMessage: onMessage,
		onDrop:    onDrop,
	}
}

// Start 启动扫描协程（幂等）
func (r *Receiver) Start() {
	r.startOnce.Do(func() { go r.run() })
}

// Feed 追加字节并安排一次重扫；已有待执行的重扫会被合并
func (r *Receiver) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	r.mu.Lock()
	r.dec.Feed(p)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Stop 停止后续重组（幂等），等待扫描协程退出
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() { close(r.stopC) })
	started := false
	r.startOnce.Do(func() { close(r.doneC) })
	select {
	case <-r.doneC:
	default:
		started = true
	}
	if started {
		<-r.doneC
	}
}

// Flush 停止扫描协程，并在调用方协程内同步交付缓冲中剩余的完整帧。
// 连接读端结束时使用，保证先到的应答先于关闭事件交付。
func (r *Receiver) Flush() {
	r.Stop()
	r.mu.Lock()
	frames := r.dec.Drain(r.onDrop)
	r.mu.Unlock()
	if r.onMessage == nil {
		return
	}
	for _, f := range frames {
		r.onMessage(f)
	}
}

func (r *Receiver) run() {
	defer close(r.doneC)
	for {
		select {
		case <-r.stopC:
			return
		case <-r.wake:
		}
		r.scan()
	}
}

// scan 逐帧处理缓冲，直到数据不足或收到停止信号
func (r *Receiver) scan() {
	for {
		select {
		case <-r.stopC:
			return
		default:
		}
		r.mu.Lock()
		f, err := r.dec.Next()
		r.mu.Unlock()
		switch {
		case err != nil:
			if r.onDrop != nil {
				r.onDrop(err)
			}
		case f == nil:
			return
		default:
			if r.onMessage != nil {
				r.onMessage(f)
			}
		}
	}
}
