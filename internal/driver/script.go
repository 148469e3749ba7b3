package driver

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
)

// Step 脚本中的一步：命令码 + 字面负载
type Step struct {
	Name string
	Cmd  byte
	// Object 非空时 Payload 为写入数据，发送前按对象地址编码
	Object        *mte.Object
	Payload       []byte
	FireAndForget bool
	Timeout       time.Duration
	// Expect 允许的应答命令码，空表示任意
	Expect []byte
}

// Script 顺序执行的固定命令序列，遇错即停，已执行步骤不回滚
type Script struct {
	Name  string
	Steps []Step
}

// 以下字面量抓包逆向所得，含义未知，勿擅自修改
var (
	// startWiringLiteral 启动校验前写入 wiringSetup 的数据
	startWiringLiteral = []byte{0x00, 0x01}
	// startTestFlag 启动命令第二字节
	startTestFlag byte = 0x01
	// displayRefreshLiteral 写入 displayWindow 触发仪器界面刷新
	displayRefreshLiteral = []byte{0x01}
)

// StartTestScript 启动第 mindex 表位校验：先停止，再写接线，最后启动
func StartTestScript(mindex byte) Script {
	return Script{
		Name: "start_test",
		Steps: []Step{
			{Name: "stop_previous", Cmd: mte.CmdStopTest, Payload: []byte{mindex}, FireAndForget: true},
			{Name: "wiring_setup", Cmd: mte.CmdWrite, Object: &mte.ObjWiringSetup, Payload: startWiringLiteral, Expect: []byte{mte.CmdAck}},
			{Name: "start", Cmd: mte.CmdStartTest, Payload: []byte{mindex, startTestFlag}, FireAndForget: true},
		},
	}
}

// StopTestScript 停止第 mindex 表位校验并刷新显示
func StopTestScript(mindex byte) Script {
	return Script{
		Name: "stop_test",
		Steps: []Step{
			{Name: "stop", Cmd: mte.CmdStopTest, Payload: []byte{mindex}, FireAndForget: true},
			{Name: "display_refresh", Cmd: mte.CmdWrite, Object: &mte.ObjDisplayWindow, Payload: displayRefreshLiteral, Expect: []byte{mte.CmdAck}},
		},
	}
}

// payload 本步实际发送的负载
func (s Step) payload() ([]byte, error) {
	if s.Object == nil {
		return s.Payload, nil
	}
	return mte.BuildWritePayload(*s.Object, s.Payload)
}

// Run 执行脚本
func (c *Client) Run(ctx context.Context, s Script) error {
	for i, step := range s.Steps {
		opts := []SendOption{WithTimeout(step.Timeout)}
		if step.FireAndForget {
			opts = append(opts, FireAndForget())
		}
		payload, err := step.payload()
		if err != nil {
			return fmt.Errorf("%s step %d (%s): %w", s.Name, i+1, step.Name, err)
		}
		f, err := c.conn.Send(ctx, step.Cmd, payload, opts...)
		if err != nil {
			return fmt.Errorf("%s step %d (%s): %w", s.Name, i+1, step.Name, err)
		}
		if f == nil {
			continue
		}
		if f.Cmd == mte.CmdNak {
			return fmt.Errorf("%s step %d (%s): %w", s.Name, i+1, step.Name, mte.ErrNak)
		}
		if len(step.Expect) > 0 && !slices.Contains(step.Expect, f.Cmd) {
			return fmt.Errorf("%s step %d (%s): %w: cmd %d", s.Name, i+1, step.Name, mte.ErrUnexpectedResponse, f.Cmd)
		}
	}
	return nil
}
