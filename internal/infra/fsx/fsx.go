package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// 通过可替换的函数指针，让测试能稳定模拟 EXDEV 等错误。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// CrossDeviceError 表示跨盘（EXDEV）导致的 rename 失败。
// 临时文件总是与目标同目录，正常情况下不会出现；出现即说明目录被挂载点替换等异常。
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨盘重命名失败（EXDEV）：%q -> %q：%v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename 封装 os.Rename，并把 EXDEV 显式标记为 CrossDeviceError。
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// ErrAtomicDone 表示 AtomicFile 已经 Commit 或 Abort 过。
var ErrAtomicDone = errors.New("fsx: atomic file already committed or aborted")

// AtomicFile 是“同目录临时文件 + rename”的写入句柄。
//
// 约束：
// - 写入期间目标路径保持原样（可能是旧文件，也可能不存在）
// - Commit 恰好生效一次；Abort 只删除临时文件，绝不触碰目标
// - 目标是目录时在 Create 阶段就失败（PathTypeConflictError）
type AtomicFile struct {
	f   *os.File
	dst string
	dir string

	done bool
}

// CreateAtomic 在 dir 下为 name 创建临时文件（前缀带 '.'，避免被当成正式产物）。
// dir 必须已存在：输出目录的存在性属于调用方的校验范围，这里不隐式创建。
func CreateAtomic(dir, name string) (*AtomicFile, error) {
	dir = filepath.Clean(dir)
	dst := filepath.Join(dir, name)
	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return nil, &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &AtomicFile{f: tmp, dst: dst, dir: dir}, nil
}

func (a *AtomicFile) Write(p []byte) (int, error) { return a.f.Write(p) }

// Name 返回最终目标路径（不是临时文件路径）。
func (a *AtomicFile) Name() string { return a.dst }

// Commit 把临时文件 Sync + Close 后原子替换到目标路径。
func (a *AtomicFile) Commit(perm os.FileMode) error {
	if a.done {
		return ErrAtomicDone
	}
	a.done = true

	tmpName := a.f.Name()
	fail := func(err error) error {
		_ = a.f.Close()
		_ = os.Remove(tmpName)
		return err
	}

	if err := a.f.Chmod(perm); err != nil {
		return fail(err)
	}
	if err := a.f.Sync(); err != nil {
		return fail(err)
	}
	if err := a.f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := Rename(tmpName, a.dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(a.dir)
	return nil
}

// Abort 丢弃临时文件。Commit 之后调用是 no-op（返回 nil），便于 defer。
func (a *AtomicFile) Abort() error {
	if a.done {
		return nil
	}
	a.done = true
	_ = a.f.Close()
	return os.Remove(a.f.Name())
}

// WriteFileAtomicReplace 在 dir 下原子写入 name，若目标已存在则覆盖。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	af, err := CreateAtomic(dir, name)
	if err != nil {
		return err
	}
	if err := writeAll(af, data); err != nil {
		_ = af.Abort()
		return err
	}
	return af.Commit(0o644)
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
