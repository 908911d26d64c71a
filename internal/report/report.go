// Package report 把 RunReport 持久化为 JSON 或 YAML 文件。
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/bookconv/internal/domain"
	"github.com/John-Robertt/bookconv/internal/infra/fsx"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatFor 由文件扩展名决定格式：.yaml/.yml 为 YAML，其余一律 JSON。
func FormatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Marshal 按 format 编码报告（JSON 带缩进，末尾换行）。
func Marshal(rr domain.RunReport, format string) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(rr)
	case FormatJSON, "":
		b, err := json.MarshalIndent(rr, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	default:
		return nil, fmt.Errorf("不支持的报告格式：%q", format)
	}
}

// Encode 把报告写到 w（stdout 契约：单个 JSON 对象）。
func Encode(w io.Writer, rr domain.RunReport) error {
	return json.NewEncoder(w).Encode(rr)
}

// WriteFile 原子写入报告文件；父目录不存在时创建。
func WriteFile(path string, rr domain.RunReport) error {
	b, err := Marshal(rr, FormatFor(path))
	if err != nil {
		return err
	}
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	return fsx.WriteFileAtomicReplace(dir, name, b)
}
