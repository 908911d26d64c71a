package domain

import (
	"fmt"
	"strings"
)

// ContainerKind 是输入容器的类型（由扩展名判定）。
type ContainerKind string

const (
	KindCBZ  ContainerKind = "cbz"
	KindZIP  ContainerKind = "zip"
	KindEPUB ContainerKind = "epub"
)

// ParseContainerKind 从扩展名（可带 '.'，大小写不敏感）解析输入容器类型。
func ParseContainerKind(ext string) (ContainerKind, error) {
	switch k := ContainerKind(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))); k {
	case KindCBZ, KindZIP, KindEPUB:
		return k, nil
	case "":
		return "", &Error{Code: ErrCodeUnsupportedFormat, Err: fmt.Errorf("无法识别扩展名")}
	default:
		return "", &Error{Code: ErrCodeUnsupportedFormat, Err: fmt.Errorf("不支持的扩展名 %q（只支持 cbz/zip/epub）", ext)}
	}
}

// ExportKind 是输出容器类型：只允许 cbz/zip，epub 永远不是合法输出。
type ExportKind string

const (
	ExportCBZ ExportKind = "cbz"
	ExportZIP ExportKind = "zip"
)

// DefaultExportKind 是 --fileformat 的默认值。
const DefaultExportKind = ExportCBZ

func ParseExportKind(s string) (ExportKind, error) {
	switch k := ExportKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ExportCBZ, ExportZIP:
		return k, nil
	default:
		return "", &Error{Code: ErrCodeUnsupportedFormat, Err: fmt.Errorf("输出格式只能是 cbz 或 zip，实际是 %q", s)}
	}
}

// ImageFormat 是目标图片编码。零值表示“不转码，全部原样复制”。
type ImageFormat string

const (
	ImageNone ImageFormat = ""
	ImageWebP ImageFormat = "webp"
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

// ParseImageFormat 解析 --imageformat；空串返回 ImageNone。
func ParseImageFormat(s string) (ImageFormat, error) {
	switch f := ImageFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case ImageNone, ImageWebP, ImagePNG, ImageJPEG:
		return f, nil
	default:
		return "", &Error{Code: ErrCodeUnsupportedFormat, Err: fmt.Errorf("图片格式只能是 webp/png/jpeg，实际是 %q", s)}
	}
}

// Ext 返回规范扩展名（不带 '.'）。判断“是否需要转码”时与条目扩展名逐字比较。
func (f ImageFormat) Ext() string { return string(f) }

func (f ImageFormat) IsSet() bool { return f != ImageNone }
