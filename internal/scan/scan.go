// Package scan 把命令行给出的路径展开为待转换的输入列表。
package scan

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ExpandInputs 展开输入路径。
//
// 规则（硬约束）：
// - 文件：原样保留（扩展名不受支持的由后续校验报 unsupported_format）
// - 目录：递归收集 .cbz/.zip/.epub（大小写不敏感），按词法顺序；跳过以 '.' 开头的文件与目录
// - 不存在的路径：原样保留，让后续校验报 invalid_source
// - 同一路径只保留第一次出现（两个任务不能写同一个输出）
//
// 注意：扫描阶段只做 stat，不读文件内容。
func ExpandInputs(fsys afero.Fs, args []string) ([]string, error) {
	seen := make(map[string]struct{}, len(args))
	out := make([]string, 0, len(args))
	add := func(p string) {
		key := filepath.Clean(p)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}

	for _, arg := range args {
		if strings.TrimSpace(arg) == "" {
			continue
		}
		fi, err := fsys.Stat(arg)
		if err != nil || !fi.IsDir() {
			add(arg)
			continue
		}

		root := filepath.Clean(arg)
		err = afero.Walk(fsys, root, func(p string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p != root && strings.HasPrefix(info.Name(), ".") {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() || !IsArchiveExt(filepath.Ext(p)) {
				return nil
			}
			add(p)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IsArchiveExt 判断扩展名（带 '.'）是否是受支持的输入容器。
func IsArchiveExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".cbz", ".zip", ".epub":
		return true
	default:
		return false
	}
}
