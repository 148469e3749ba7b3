package mteconfig

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	cfgpkg "github.com/taoyao-code/mte-gateway/internal/config"
)

// ErrInvalidTarget 目标配置非法
var ErrInvalidTarget = errors.New("invalid mte target")

// Target 仪器目标快照（只读，更新时整体替换）
type Target struct {
	Host        string        `json:"host"`
	Port        int           `json:"port"`
	StationAddr byte          `json:"station_addr"`
	DeviceAddr  byte          `json:"device_addr"`
	Timeout     time.Duration `json:"-"`
	TimeoutMs   int64         `json:"timeout_ms"`
	Version     int64         `json:"version"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// FromConfig 由进程配置构造默认目标
func FromConfig(c cfgpkg.MteConfig) Target {
	t := Target{
		Host:        c.Host,
		Port:        c.Port,
		StationAddr: byte(c.StationAddr),
		DeviceAddr:  byte(c.DeviceAddr),
		Timeout:     c.Timeout,
	}
	t.TimeoutMs = t.Timeout.Milliseconds()
	return t
}

// Addr host:port
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Validate 校验取值范围
func (t Target) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidTarget)
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidTarget, t.Port)
	}
	// 0 在驱动层表示取默认地址，不可作为显式配置
	if t.StationAddr == 0 || t.DeviceAddr == 0 {
		return fmt.Errorf("%w: station %d device %d", ErrInvalidTarget, t.StationAddr, t.DeviceAddr)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("%w: timeout %s", ErrInvalidTarget, t.Timeout)
	}
	return nil
}

// Apply 返回修改了单个键的新快照，接收方不变。
// 键兼容驼峰与下划线写法；值可为字符串（命令行传入）或 JSON 原生类型。
func (t Target) Apply(key string, value any) (Target, error) {
	switch normalizeKey(key) {
	case "host":
		s, err := cast.ToStringE(value)
		if err != nil {
			return t, fmt.Errorf("%w: host: %v", ErrInvalidTarget, err)
		}
		t.Host = strings.TrimSpace(s)
	case "port":
		n, err := toInt(value)
		if err != nil {
			return t, fmt.Errorf("%w: port: %v", ErrInvalidTarget, err)
		}
		t.Port = n
	case "stationaddr":
		b, err := toAddr("station", value)
		if err != nil {
			return t, err
		}
		t.StationAddr = b
	case "deviceaddr":
		b, err := toAddr("device", value)
		if err != nil {
			return t, err
		}
		t.DeviceAddr = b
	case "timeout", "timeoutms":
		d, err := toTimeout(value)
		if err != nil {
			return t, err
		}
		t.Timeout = d
		t.TimeoutMs = d.Milliseconds()
	default:
		return t, fmt.Errorf("%w: unknown key %q", ErrInvalidTarget, key)
	}
	return t, nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(key))
}

// toInt 整数取值；JSON 数字解码为 float64，带小数部分的拒绝而非截断
func toInt(value any) (int, error) {
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
	case float32:
		if float64(v) != math.Trunc(float64(v)) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
	case string:
		return cast.ToIntE(strings.TrimSpace(v))
	}
	return cast.ToIntE(value)
}

// toAddr 站地址取值 1..255
func toAddr(name string, value any) (byte, error) {
	n, err := toInt(value)
	if err != nil || n < 1 || n > 0xFF {
		return 0, fmt.Errorf("%w: %s address %v", ErrInvalidTarget, name, value)
	}
	return byte(n), nil
}

// toTimeout 字符串按 Go duration 解析（"3s"），纯数字按毫秒
func toTimeout(value any) (time.Duration, error) {
	if s, ok := value.(string); ok {
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			d, err := cast.ToDurationE(s)
			if err != nil {
				return 0, fmt.Errorf("%w: timeout %q", ErrInvalidTarget, s)
			}
			return d, nil
		}
	}
	ms, err := cast.ToInt64E(value)
	if err != nil {
		return 0, fmt.Errorf("%w: timeout %v", ErrInvalidTarget, value)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
