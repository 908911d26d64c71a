package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/flate"

	"github.com/John-Robertt/bookconv/internal/infra/fsx"
)

// WriterOptions 控制输出归档的压缩方式。
type WriterOptions struct {
	// Deflate 为 false 时条目以 Store 写入（漫画图片本身已压缩，再 deflate 收益很小）。
	Deflate bool
	// Level 是 deflate 等级；0 表示 flate.DefaultCompression。
	Level int
}

// Writer 是输出归档的写入句柄。
//
// 约束：
// - 条目名在同一个 Writer 内唯一
// - Finalize/Abort 恰好生效一次；之后任何写入都返回 ErrFinalized
// - 条目头写出后的任何失败都会让 Writer 进入损坏状态（Err 非 nil），之后只能 Abort
// - 持有 <path>.lock 文件锁，避免两个任务写同一个目标
type Writer struct {
	path string

	lock *flock.Flock
	af   *fsx.AtomicFile
	cw   *countingWriter
	zw   *zip.Writer

	method uint16
	names  map[string]struct{}
	done   bool
	broken error
}

// Create 为 path 准备输出归档。父目录必须已存在；目标已存在时 Finalize 会覆盖它。
func Create(path string, opts WriterOptions) (*Writer, error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	lk := flock.New(path + ".lock")
	ok, err := lk.TryLock()
	if err != nil {
		return nil, &WriteError{Path: path, Op: "create", Err: err}
	}
	if !ok {
		return nil, &WriteError{Path: path, Op: "create", Err: ErrLocked}
	}

	af, err := fsx.CreateAtomic(dir, name)
	if err != nil {
		releaseLock(lk)
		return nil, &WriteError{Path: path, Op: "create", Err: err}
	}

	cw := &countingWriter{w: af}
	zw := zip.NewWriter(cw)
	method := zip.Store
	if opts.Deflate {
		level := opts.Level
		if level == 0 {
			level = flate.DefaultCompression
		}
		zw.RegisterCompressor(zip.Deflate, newFlateWriter(level))
		method = zip.Deflate
	}

	return &Writer{
		path:   path,
		lock:   lk,
		af:     af,
		cw:     cw,
		zw:     zw,
		method: method,
		names:  map[string]struct{}{},
	}, nil
}

// Size 返回已写出的字节数（Finalize 之后即为输出文件大小）。
func (w *Writer) Size() int64 { return w.cw.n }

// Err 返回导致 Writer 损坏的错误。非 nil 时输出流里可能有残缺条目，不能再 Finalize。
func (w *Writer) Err() error { return w.broken }

// WriteEntry 以 name 写入一个新条目。
func (w *Writer) WriteEntry(name string, data []byte) error {
	if err := w.claim(name); err != nil {
		return err
	}
	fh := &zip.FileHeader{
		Name:     name,
		Method:   w.method,
		Modified: time.Now(),
	}
	dst, err := w.zw.CreateHeader(fh)
	if err != nil {
		return w.breakWith(err)
	}
	if _, err := dst.Write(data); err != nil {
		return w.breakWith(err)
	}
	return nil
}

// RawCopyEntry 把 r 的第 idx 个条目以 name 写入，压缩数据原样搬运（不解压、不重新压缩）。
func (w *Writer) RawCopyEntry(r *Reader, idx int, name string) error {
	if idx < 0 || idx >= len(r.zr.File) {
		return fmt.Errorf("非法条目下标：%d", idx)
	}
	if err := w.claim(name); err != nil {
		return err
	}

	zf := r.zr.File[idx]
	src, err := zf.OpenRaw()
	if err != nil {
		return err
	}

	fh := zf.FileHeader
	fh.Name = name
	fh.Extra = nil
	dst, err := w.zw.CreateRaw(&fh)
	if err != nil {
		return w.breakWith(err)
	}
	// 读源失败同样会留下残缺条目。
	if _, err := io.Copy(dst, src); err != nil {
		return w.breakWith(err)
	}
	return nil
}

// Finalize 写出中央目录并把临时文件替换到目标路径。
func (w *Writer) Finalize() error {
	if w.done {
		return ErrFinalized
	}
	w.done = true
	defer releaseLock(w.lock)

	if w.broken != nil {
		_ = w.af.Abort()
		return w.broken
	}
	if err := w.zw.Close(); err != nil {
		_ = w.af.Abort()
		return &WriteError{Path: w.path, Op: "finalize", Err: err}
	}
	if err := w.af.Commit(0o644); err != nil {
		return &WriteError{Path: w.path, Op: "finalize", Err: err}
	}
	return nil
}

// Abort 丢弃已写内容，目标路径保持原样。Finalize 之后调用是 no-op。
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	defer releaseLock(w.lock)
	return w.af.Abort()
}

func (w *Writer) breakWith(err error) error {
	w.broken = &WriteError{Path: w.path, Op: "entry", Err: err}
	return w.broken
}

func (w *Writer) claim(name string) error {
	if w.done {
		return ErrFinalized
	}
	if w.broken != nil {
		return w.broken
	}
	if name == "" {
		return &WriteError{Path: w.path, Op: "entry", Err: errors.New("条目名为空")}
	}
	if _, ok := w.names[name]; ok {
		return &WriteError{Path: w.path, Op: "entry", Err: fmt.Errorf("%w：%s", ErrDuplicateName, name)}
	}
	w.names[name] = struct{}{}
	return nil
}

func releaseLock(lk *flock.Flock) {
	_ = lk.Unlock()
	_ = os.Remove(lk.Path())
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
