package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// errRejected 仪器拒绝请求（网关返回 result=failure）
var errRejected = errors.New("instrument rejected request")

// envelope 网关标准响应
type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

type gatewayClient struct {
	base   string
	apiKey string
	http   *http.Client
}

func newGatewayClient(server, apiKey string, timeout time.Duration) *gatewayClient {
	server = strings.TrimRight(server, "/")
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return &gatewayClient{
		base:   server + "/api",
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
	}
}

// do 发送请求并返回 data；非 0 code 或 result=failure 转为错误
func (c *gatewayClient) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("gateway error: %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		var detail struct {
			ErrorKind string `json:"error_kind"`
		}
		_ = json.Unmarshal(env.Data, &detail)
		if detail.ErrorKind != "" {
			return nil, fmt.Errorf("gateway error: %d %s (%s)", resp.StatusCode, env.Message, detail.ErrorKind)
		}
		return nil, fmt.Errorf("gateway error: %d %s", resp.StatusCode, env.Message)
	}

	var result struct {
		Result string `json:"result"`
	}
	if json.Unmarshal(env.Data, &result) == nil && result.Result == "failure" {
		return env.Data, errRejected
	}
	return env.Data, nil
}
