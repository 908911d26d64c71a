//go:build unix

package fsx

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestAtomicFile_CommitCrossDevice_KeepsTargetAndCleansTemp(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "vol1.cbz")
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatalf("写入旧输出失败：%v", err)
	}

	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
	}
	defer func() { renameFunc = old }()

	af, err := CreateAtomic(dir, "vol1.cbz")
	if err != nil {
		t.Fatalf("CreateAtomic 失败：%v", err)
	}
	if _, err := af.Write([]byte("new archive")); err != nil {
		t.Fatalf("写入失败：%v", err)
	}

	err = af.Commit(0o644)
	if !IsCrossDevice(err) {
		t.Fatalf("期望 CrossDeviceError，实际：%T %v", err, err)
	}
	if left, _ := filepath.Glob(filepath.Join(dir, ".vol1.cbz.tmp-*")); len(left) != 0 {
		t.Fatalf("临时文件应被清理：%v", left)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "old" {
		t.Fatalf("rename 失败时目标应保持原样：%q", string(b))
	}
}
