package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/John-Robertt/bookconv/internal/domain"
)

// Reader 是源归档的随机访问句柄。不是并发安全的：只由一个转换任务持有。
type Reader struct {
	f       *os.File
	zr      *zip.Reader
	entries []domain.ContainerEntry
}

// Open 打开 path 处的 ZIP 容器。失败统一返回 *OpenError。
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &OpenError{Path: path, Err: err}
	}

	zr, err := zip.NewReader(f, fi.Size())
	// ErrInsecurePath 时 zr 仍然可用：条目名会在下面 mangle。
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		_ = f.Close()
		return nil, &OpenError{Path: path, Err: err}
	}
	zr.RegisterDecompressor(zip.Deflate, newFlateReader)

	entries := make([]domain.ContainerEntry, 0, len(zr.File))
	for i, zf := range zr.File {
		isDir := strings.HasSuffix(zf.Name, "/") || zf.FileInfo().IsDir()
		entries = append(entries, domain.NewContainerEntry(i, Mangle(zf.Name), zf.UncompressedSize64, isDir))
	}

	return &Reader{f: f, zr: zr, entries: entries}, nil
}

func (r *Reader) Len() int { return len(r.entries) }

// Entry 返回第 i 个条目的元数据（原生索引顺序）。
func (r *Reader) Entry(i int) domain.ContainerEntry { return r.entries[i] }

// Entries 返回所有条目（调用方不得修改）。
func (r *Reader) Entries() []domain.ContainerEntry { return r.entries }

// Open 打开第 i 个条目的解压流。
func (r *Reader) Open(i int) (io.ReadCloser, error) {
	if i < 0 || i >= len(r.zr.File) {
		return nil, fmt.Errorf("非法条目下标：%d", i)
	}
	return r.zr.File[i].Open()
}

// ReadAll 读取第 i 个条目的全部内容，受 MaxEntrySize 限制。
func (r *Reader) ReadAll(i int) ([]byte, error) {
	return r.readAllWithLimit(i, MaxEntrySize)
}

func (r *Reader) readAllWithLimit(i int, limit int64) ([]byte, error) {
	if i < 0 || i >= len(r.zr.File) {
		return nil, fmt.Errorf("非法条目下标：%d", i)
	}
	zf := r.zr.File[i]
	if zf.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("条目 %s 过大：%d 字节（上限 %d）", zf.Name, zf.UncompressedSize64, limit)
	}

	rc, err := r.Open(i)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// 多读 1 字节：声明的大小可能是伪造的。
	b, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("条目 %s 解压后超过上限（%d 字节）", zf.Name, limit)
	}
	return b, nil
}

// FS 以 fs.FS 形式暴露归档内容（EPUB 定位器通过它读取 container.xml/OPF/XHTML）。
func (r *Reader) FS() fs.FS { return r.zr }

func (r *Reader) Close() error { return r.f.Close() }
