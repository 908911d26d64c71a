package domain

import (
	"errors"
	"fmt"
)

// 文件级错误码（写入 FileResult.ErrorCode）与条目级告警码（写入 EntryWarning.Code）。
const (
	ErrCodeInvalidSource      = "invalid_source"
	ErrCodeInvalidDestination = "invalid_destination"
	ErrCodeUnsupportedFormat  = "unsupported_format"
	ErrCodeArchiveOpen        = "archive_open_failed"
	ErrCodeArchiveWrite       = "archive_write_failed"
	ErrCodeNoImagesFound      = "no_images_found"
	ErrCodeCanceled           = "canceled"
	ErrCodeConfigNotFound     = "config_not_found"
	ErrCodeConfigInvalid      = "config_invalid"

	WarnCodeRead               = "read_failed"
	WarnCodeDecode             = "decode_failed"
	WarnCodeEncode             = "encode_failed"
	WarnCodeWrite              = "write_failed"
	WarnCodeUnmatchedReference = "unmatched_reference"
	WarnCodeLocate             = "locate_failed"
)

// Error 是单个文件转换的终止性错误（带 error_code）。
// 条目级失败不使用它，而是记录为 EntryWarning。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s：%q：%v", e.Code, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s：%q", e.Code, e.Path)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
