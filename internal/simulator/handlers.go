package simulator

import (
	"go.uber.org/zap"

	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
)

var (
	ack = &Reply{Cmd: mte.CmdAck}
	nak = &Reply{Cmd: mte.CmdNak}
)

func (s *Simulator) handleConnect(_ *mte.Frame) *Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Reply{Cmd: mte.CmdConnectResp, Payload: s.device.Encode()}
}

func (s *Simulator) handleRead(f *mte.Frame) *Reply {
	obj, _, ok := mte.SplitObject(f.Payload)
	if !ok || obj.Name != mte.ObjInstantaneous.Name {
		s.logger.Warn("simulator read of unsupported object", zap.Binary("payload", f.Payload))
		return nak
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Reply{Cmd: mte.CmdReadResp, Payload: s.reading.Encode()}
}

func (s *Simulator) handleWrite(f *mte.Frame) *Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nak {
		return nak
	}
	obj, data, ok := mte.SplitObject(f.Payload)
	if !ok {
		return nak
	}
	if obj.Name == mte.ObjLoadSetup.Name {
		def, err := mte.ParseLoadDefinition(data)
		if err != nil {
			s.logger.Warn("simulator bad load definition", zap.Error(err))
			return nak
		}
		s.loads = append(s.loads, def)
	}
	return ack
}

func (s *Simulator) handleStopTest(f *mte.Frame) *Reply {
	if len(f.Payload) < 1 {
		return nak
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[f.Payload[0]] = false
	return ack
}

func (s *Simulator) handleStartTest(f *mte.Frame) *Reply {
	if len(f.Payload) < 1 {
		return nak
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[f.Payload[0]] = true
	return ack
}

func (s *Simulator) handlePoll(f *mte.Frame) *Reply {
	if !mte.IsPollRequest(f) {
		return nil
	}
	mindex := f.Payload[0]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[mindex]++
	res := &mte.TestResult{MeterIndex: mindex, Sequence: s.seq[mindex], ErrorRaw: s.cfg.TestErrorRaw}
	return &Reply{Cmd: mte.CmdPollTestResult, Payload: res.Encode()}
}
