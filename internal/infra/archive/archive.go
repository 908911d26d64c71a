// Package archive 封装 ZIP 容器的读写（CBZ/ZIP/EPUB 都是 ZIP）。
//
// 约束：
// - Reader 只读、可随机访问；条目名在打开时就做 mangle（规范化 + 防穿越）
// - Writer 先写同目录临时文件，Finalize 才替换到目标路径；Abort 不留下任何输出
// - Deflate 统一走 klauspost/compress 的实现
package archive

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

// MaxEntrySize 是单个条目解压后允许的最大字节数（防 zip bomb）。
const MaxEntrySize int64 = 512 << 20

var (
	ErrFinalized     = errors.New("archive: writer already finalized or aborted")
	ErrDuplicateName = errors.New("archive: duplicate entry name")
	ErrLocked        = errors.New("archive: output is locked by another writer")
)

// OpenError 表示源归档无法打开或不是合法的 ZIP 容器。
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("打开归档失败：%q：%v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// WriteError 表示输出归档的创建/写入/封口失败。
type WriteError struct {
	Path string
	Op   string // "create" / "entry" / "finalize"
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("写入归档失败（%s）：%q：%v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Mangle 把条目存储路径规范化为安全的相对路径：
// '\' 视为分隔符，去掉根、盘符以及空/./.. 段。
func Mangle(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	parts := strings.Split(name, "/")
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		switch {
		case p == "" || p == "." || p == "..":
			continue
		case i == 0 && len(p) == 2 && p[1] == ':':
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}

func newFlateReader(r io.Reader) io.ReadCloser { return flate.NewReader(r) }

func newFlateWriter(level int) func(io.Writer) (io.WriteCloser, error) {
	return func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	}
}
