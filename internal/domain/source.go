package domain

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// SourceContainer 描述一个待转换的输入归档。
//
// 不变量：
// - 只在校验通过（存在 + 普通文件 + 扩展名受支持）后构造
// - 一次转换期间不可变，且只被处理它的那个任务持有
type SourceContainer struct {
	Index int // 在输入列表中的位置（结果按它排序，而不是按完成顺序）
	Path  string
	Kind  ContainerKind
	Stem  string // 输出文件名的主干：<Stem>.<ExportKind>
}

// NewSourceContainer 由已校验的路径构造 SourceContainer。
func NewSourceContainer(idx int, p string) (SourceContainer, error) {
	ext := filepath.Ext(p)
	kind, err := ParseContainerKind(ext)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Path = p
		}
		return SourceContainer{}, err
	}
	return SourceContainer{
		Index: idx,
		Path:  p,
		Kind:  kind,
		Stem:  strings.TrimSuffix(filepath.Base(p), ext),
	}, nil
}

// ContainerEntry 是归档内的一个条目（迭代时临时构造，不持久化）。
type ContainerEntry struct {
	Index int
	Name  string // mangled：已规范化、不可穿越的相对路径（'/' 分隔）
	Stem  string
	Ext   string // 不带 '.'，保持存储时的大小写
	Size  uint64
	IsDir bool
}

// NewContainerEntry 从规范化后的名字派生 stem/ext。
func NewContainerEntry(idx int, name string, size uint64, isDir bool) ContainerEntry {
	base := path.Base(name)
	ext := path.Ext(base)
	return ContainerEntry{
		Index: idx,
		Name:  name,
		Stem:  strings.TrimSuffix(base, ext),
		Ext:   strings.TrimPrefix(ext, "."),
		Size:  size,
		IsDir: isDir,
	}
}

// FileName 返回条目的文件名部分（EPUB 匹配使用）。
func (e ContainerEntry) FileName() string { return path.Base(e.Name) }
