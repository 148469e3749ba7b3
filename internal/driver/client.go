package driver

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
)

// Client 仪器领域命令层
type Client struct {
	conn   *Conn
	logger *zap.Logger
	info   *mte.DeviceInfo
}

// NewClient 基于已建立的连接创建 Client
func NewClient(conn *Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{conn: conn, logger: logger}
}

// Open 建连并握手，失败时关闭连接
func Open(ctx context.Context, addr string, opts Options) (*Client, error) {
	conn, err := Dial(ctx, addr, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", mte.ErrConnectionClosed, addr, err)
	}
	c := NewClient(conn, opts.Logger)
	if _, err := c.Handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// DeviceInfo 握手返回的设备信息（未握手为 nil）
func (c *Client) DeviceInfo() *mte.DeviceInfo { return c.info }

// Close 关闭连接
func (c *Client) Close() error { return c.conn.Close() }

// Handshake 连接握手（201 → 57）
func (c *Client) Handshake(ctx context.Context) (*mte.DeviceInfo, error) {
	f, err := c.expect(ctx, mte.CmdConnect, nil, mte.CmdConnectResp)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	info, err := mte.ParseDeviceInfo(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	c.info = info
	c.logger.Info("mte handshake ok",
		zap.String("proto_version", info.ProtocolVersion),
		zap.String("dev_type", info.DeviceType),
		zap.String("fw_version", info.FirmwareVersion),
		zap.String("seqno", info.SerialNumber))
	return info, nil
}

// Read 读对象（160 → 80），返回回显地址之后的数据
func (c *Client) Read(ctx context.Context, obj mte.Object, selection []byte) ([]byte, error) {
	f, err := c.expect(ctx, mte.CmdRead, mte.BuildReadPayload(obj, selection), mte.CmdReadResp)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", obj.Name, err)
	}
	if !bytes.HasPrefix(f.Payload, obj.Address) {
		return nil, fmt.Errorf("read %s: %w: echoed % X", obj.Name, mte.ErrUnexpectedResponse, f.Payload)
	}
	return f.Payload, nil
}

// ReadInstantaneous 读瞬时量
func (c *Client) ReadInstantaneous(ctx context.Context) (*mte.Instantaneous, error) {
	payload, err := c.Read(ctx, mte.ObjInstantaneous, mte.InstantaneousSelection)
	if err != nil {
		return nil, err
	}
	raw, err := mte.ParseInstantaneous(payload)
	if err != nil {
		return nil, fmt.Errorf("read instantaneous: %w", err)
	}
	return raw.Reading(), nil
}

// Write 写对象（163 → 48/51），仪器拒绝返回 false
func (c *Client) Write(ctx context.Context, obj mte.Object, data []byte) (bool, error) {
	payload, err := mte.BuildWritePayload(obj, data)
	if err != nil {
		return false, err
	}
	f, err := c.expect(ctx, mte.CmdWrite, payload, mte.CmdAck, mte.CmdNak)
	if err != nil {
		return false, fmt.Errorf("write %s: %w", obj.Name, err)
	}
	if f.Cmd == mte.CmdNak {
		c.logger.Warn("mte write rejected", zap.String("object", obj.Name))
		return false, nil
	}
	return true, nil
}

// SetupLoad 下发负载设定：写 loadSetup，成功后写 displayWindow 刷新界面，两步均成功才算成功
func (c *Client) SetupLoad(ctx context.Context, def *mte.LoadDefinition) (bool, error) {
	data, err := def.Encode()
	if err != nil {
		return false, err
	}
	ok, err := c.Write(ctx, mte.ObjLoadSetup, data)
	if err != nil || !ok {
		return false, err
	}
	return c.Write(ctx, mte.ObjDisplayWindow, displayRefreshLiteral)
}

// StartTest 启动校验
func (c *Client) StartTest(ctx context.Context, mindex byte) error {
	return c.Run(ctx, StartTestScript(mindex))
}

// StopTest 停止校验
func (c *Client) StopTest(ctx context.Context, mindex byte) error {
	return c.Run(ctx, StopTestScript(mindex))
}

// PollTestResult 查询校验结果（52，1 字节请求 → 6 字节应答）
func (c *Client) PollTestResult(ctx context.Context, mindex byte) (*mte.TestResult, error) {
	f, err := c.expect(ctx, mte.CmdPollTestResult, []byte{mindex}, mte.CmdPollTestResult)
	if err != nil {
		return nil, fmt.Errorf("poll test result: %w", err)
	}
	if !mte.IsPollResponse(f) {
		return nil, fmt.Errorf("poll test result: %w: %d bytes", mte.ErrUnexpectedResponse, len(f.Payload))
	}
	return mte.ParseTestResult(f.Payload)
}

func (c *Client) expect(ctx context.Context, cmd byte, payload []byte, want ...byte) (*mte.Frame, error) {
	f, err := c.conn.Send(ctx, cmd, payload)
	if err != nil {
		return nil, err
	}
	for _, w := range want {
		if f.Cmd == w {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: cmd %d for request %d", mte.ErrUnexpectedResponse, f.Cmd, cmd)
}
