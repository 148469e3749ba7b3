package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/mte-gateway/internal/api/middleware"
	"github.com/taoyao-code/mte-gateway/internal/guard"
	"github.com/taoyao-code/mte-gateway/internal/mteconfig"
	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
	"github.com/taoyao-code/mte-gateway/internal/service"
	"github.com/taoyao-code/mte-gateway/internal/simulator"
	"github.com/taoyao-code/mte-gateway/internal/storage/pg"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeOps 返回预设错误
type fakeOps struct {
	err     error
	store   *mteconfig.Store
	started []byte
}

func (f *fakeOps) DeviceInfo(context.Context) (*mte.DeviceInfo, error) { return nil, f.err }
func (f *fakeOps) ReadInstantaneous(context.Context) (*mte.Instantaneous, error) {
	return nil, f.err
}
func (f *fakeOps) SetupLoad(context.Context, *mte.LoadDefinition) (bool, error) {
	return false, f.err
}
func (f *fakeOps) StartTest(_ context.Context, mindex byte) error {
	f.started = append(f.started, mindex)
	return f.err
}
func (f *fakeOps) StopTest(context.Context, byte) error { return f.err }
func (f *fakeOps) PollTestResult(context.Context, byte) (*mte.TestResult, error) {
	return nil, f.err
}
func (f *fakeOps) Targets() *mteconfig.Store { return f.store }

type fakeOpLog struct {
	recs []pg.OpRecord
}

func (f *fakeOpLog) Recent(_ context.Context, op string, limit int) ([]pg.OpRecord, error) {
	var out []pg.OpRecord
	for _, r := range f.recs {
		if op == "" || r.Op == op {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newStore() *mteconfig.Store {
	return mteconfig.NewStore(mteconfig.Target{Host: "127.0.0.1", Port: 2404, StationAddr: 6, DeviceAddr: 1, Timeout: time.Second}, nil, nil)
}

func newRouter(ops MteOperations, oplog OpLogReader, auth middleware.AuthConfig) *gin.Engine {
	r := gin.New()
	RegisterMteRoutes(r, ops, oplog, auth, nil)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, StandardResponse) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp StandardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func dataMap(t *testing.T, resp StandardResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

// newSimRouter 连接模拟仪器的完整链路
func newSimRouter(t *testing.T, cfg simulator.Config) (*gin.Engine, *simulator.Simulator) {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	sim := simulator.New(cfg, nil)
	require.NoError(t, sim.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sim.Shutdown(ctx)
	})
	host, port, err := net.SplitHostPort(sim.Addr())
	require.NoError(t, err)
	p, _ := strconv.Atoi(port)
	store := mteconfig.NewStore(mteconfig.Target{Host: host, Port: p, StationAddr: 6, DeviceAddr: 1, Timeout: 300 * time.Millisecond}, nil, nil)
	svc := service.NewMteService(store, service.Config{RatePerSec: 1000, Burst: 100, DialTimeout: time.Second}, nil)
	return newRouter(svc, nil, middleware.AuthConfig{}), sim
}

func TestMteHandler_Instantaneous(t *testing.T) {
	reading := simulator.DefaultReading()
	reading.V = [3]mte.ME{{Mantissa: 242100, Exponent: -3}, {Mantissa: 242200, Exponent: -3}, {Mantissa: 242300, Exponent: -3}}
	r, _ := newSimRouter(t, simulator.Config{Reading: &reading})

	w, resp := do(t, r, http.MethodGet, "/api/instantaneous", "", "X-Request-ID", "trace-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, "trace-1", resp.RequestID)
	data := dataMap(t, resp)
	assert.Equal(t, []any{242.1, 242.2, 242.3}, data["v"])
	assert.NotContains(t, data, "raw")

	_, resp = do(t, r, http.MethodGet, "/api/instantaneous?raw=true", "")
	assert.Contains(t, dataMap(t, resp), "raw")
	assert.NotEmpty(t, resp.RequestID, "request id generated when absent")
}

func TestMteHandler_LoadDefinition(t *testing.T) {
	body := `{"phi_v":[0,1200,2400],"v":[[230,0],[230,0],[230,0]],"i":[[5,0],[5,0],[5,0]],"f":50000}`

	t.Run("仪器接受", func(t *testing.T) {
		r, sim := newSimRouter(t, simulator.Config{})
		w, resp := do(t, r, http.MethodPut, "/api/loadef", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, service.ResultOK, dataMap(t, resp)["result"])
		require.Len(t, sim.Loads(), 1)
		require.NotNil(t, sim.Loads()[0].F)
		assert.Equal(t, int32(50000), *sim.Loads()[0].F)
	})

	t.Run("仪器拒绝", func(t *testing.T) {
		r, sim := newSimRouter(t, simulator.Config{NakWrites: true})
		w, resp := do(t, r, http.MethodPut, "/api/loadef", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, service.ResultFailure, dataMap(t, resp)["result"])
		assert.Len(t, sim.Received(mte.CmdWrite), 1)
	})

	t.Run("数值超出范围", func(t *testing.T) {
		r, sim := newSimRouter(t, simulator.Config{})
		w, resp := do(t, r, http.MethodPut, "/api/loadef", `{"v":[[99999999999,0]]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, mte.KindEncoding, dataMap(t, resp)["error_kind"])
		assert.Empty(t, sim.Received(mte.CmdConnect))
	})

	t.Run("超过三相", func(t *testing.T) {
		r, _ := newSimRouter(t, simulator.Config{})
		w, _ := do(t, r, http.MethodPut, "/api/loadef", `{"phi_v":[0,0,0,0]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMteHandler_TestCycle(t *testing.T) {
	r, sim := newSimRouter(t, simulator.Config{TestErrorRaw: 375})

	w, _ := do(t, r, http.MethodPut, "/api/test/start/3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sim.Running(3))

	w, resp := do(t, r, http.MethodGet, "/api/test/result/3", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := dataMap(t, resp)
	assert.Equal(t, 3.0, data["meter_index"])
	assert.InDelta(t, 0.0375, data["error"], 1e-9)

	w, _ = do(t, r, http.MethodPut, "/api/test/stop/3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sim.Running(3))
}

func TestMteHandler_Device(t *testing.T) {
	r, _ := newSimRouter(t, simulator.Config{
		Device: &mte.DeviceInfo{ProtocolVersion: "2", DeviceType: "CL3013", FirmwareVersion: "1.7", SerialNumber: "A1"},
	})
	w, resp := do(t, r, http.MethodGet, "/api/device", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CL3013", dataMap(t, resp)["dev_type"])
}

func TestMteHandler_InvalidMeterIndex(t *testing.T) {
	ops := &fakeOps{store: newStore()}
	r := newRouter(ops, nil, middleware.AuthConfig{})
	for _, p := range []string{"/api/test/start/256", "/api/test/start/-1", "/api/test/start/x"} {
		w, resp := do(t, r, http.MethodPut, p, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, p)
		assert.Equal(t, KindBadRequest, dataMap(t, resp)["error_kind"])
	}
	assert.Empty(t, ops.started)
}

func TestMteHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"超时", fmt.Errorf("read: %w", mte.ErrTimeout), http.StatusGatewayTimeout, mte.KindTimeout},
		{"连接断开", mte.ErrConnectionClosed, http.StatusBadGateway, mte.KindConnectionClosed},
		{"会话占用", mte.ErrBusy, http.StatusConflict, mte.KindBusy},
		{"会话许可超时", guard.ErrSessionLimit, http.StatusConflict, mte.KindBusy},
		{"熔断", guard.ErrCircuitOpen, http.StatusServiceUnavailable, service.KindCircuitOpen},
		{"编码", mte.ErrEncoding, http.StatusBadRequest, mte.KindEncoding},
		{"应答不符", mte.ErrUnexpectedResponse, http.StatusInternalServerError, mte.KindUnexpectedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(&fakeOps{err: tt.err, store: newStore()}, nil, middleware.AuthConfig{})
			w, resp := do(t, r, http.MethodGet, "/api/instantaneous", "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.kind, dataMap(t, resp)["error_kind"])
		})
	}

	t.Run("NAK返回失败结果", func(t *testing.T) {
		r := newRouter(&fakeOps{err: fmt.Errorf("step: %w", mte.ErrNak), store: newStore()}, nil, middleware.AuthConfig{})
		w, resp := do(t, r, http.MethodPut, "/api/test/start/1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, service.ResultFailure, dataMap(t, resp)["result"])
	})
}

func TestMteHandler_Config(t *testing.T) {
	ops := &fakeOps{store: newStore()}
	r := newRouter(ops, nil, middleware.AuthConfig{})

	w, resp := do(t, r, http.MethodGet, "/api/mteconfig", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "127.0.0.1", dataMap(t, resp)["host"])

	w, resp = do(t, r, http.MethodPut, "/api/mteconfig", `{"host":"10.1.1.9","port":"6200"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6200.0, dataMap(t, resp)["port"])
	assert.Equal(t, "10.1.1.9:6200", ops.store.Current().Addr())

	w, resp = do(t, r, http.MethodPut, "/api/mteconfig", `{"port":70000}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.KindInvalidTarget, dataMap(t, resp)["error_kind"])

	w, _ = do(t, r, http.MethodPut, "/api/mteconfig", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, r, http.MethodPut, "/api/mteconfig", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMteHandler_OpLog(t *testing.T) {
	ops := &fakeOps{store: newStore()}

	w, resp := do(t, newRouter(ops, nil, middleware.AuthConfig{}), http.MethodGet, "/api/oplog", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, KindAuditDisabled, dataMap(t, resp)["error_kind"])

	log := &fakeOpLog{recs: []pg.OpRecord{{Op: service.OpStartTest}, {Op: service.OpReadInstantaneous}}}
	w, resp = do(t, newRouter(ops, log, middleware.AuthConfig{}), http.MethodGet, "/api/oplog?op=start_test", "")
	require.Equal(t, http.StatusOK, w.Code)
	recs, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, recs, 1)
}

func TestMteHandler_Auth(t *testing.T) {
	ops := &fakeOps{store: newStore()}
	r := newRouter(ops, nil, middleware.AuthConfig{Enabled: true, APIKeys: []string{"sk_test_123456"}})

	w, _ := do(t, r, http.MethodGet, "/api/mteconfig", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/mteconfig", "", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/mteconfig", "", "Authorization", "Bearer sk_test_123456")
	assert.Equal(t, http.StatusOK, w.Code)
}
