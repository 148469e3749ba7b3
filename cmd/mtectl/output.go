package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// writeData 按 json|yaml 输出网关返回的 data
func writeData(w io.Writer, format string, data json.RawMessage) error {
	switch strings.ToLower(format) {
	case "", "json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err := w.Write(buf.Bytes())
		return err
	case "yaml", "yml":
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (json|yaml)", format)
	}
}

// toJSON 将 JSON 或 YAML 文档统一转为 JSON；YAML 以扩展名或首字符判断
func toJSON(name string, content []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%s is empty", name)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".json" || (ext != ".yaml" && ext != ".yml" && (trimmed[0] == '{' || trimmed[0] == '[')) {
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%s is not valid JSON", name)
		}
		return trimmed, nil
	}
	var v any
	if err := yaml.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return json.Marshal(v)
}
