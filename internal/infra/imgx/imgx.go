// Package imgx 负责单张图片的解码与重新编码。
package imgx

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	_ "golang.org/x/image/bmp"  // 注册 BMP 解码器
	_ "golang.org/x/image/tiff" // 注册 TIFF 解码器
	_ "golang.org/x/image/webp" // 注册 WebP 解码器（输入可能已是 webp）

	"github.com/John-Robertt/bookconv/internal/domain"
)

const (
	DefaultJPEGQuality = 90
	DefaultWebPQuality = 80
)

// Options 是编码参数。
//
// WebPQuality 为 0 是合法的最低质量，不会被替换成默认值；需要默认参数时用 DefaultOptions。
type Options struct {
	JPEGQuality  int     // 1..100
	WebPQuality  float32 // 0..100，仅有损模式使用
	WebPLossless bool
}

func DefaultOptions() Options {
	return Options{JPEGQuality: DefaultJPEGQuality, WebPQuality: DefaultWebPQuality}
}

// withDefaults 只替换越界值。JPEG 质量 0 不合法，按未设置处理。
func (o Options) withDefaults() Options {
	if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
		o.JPEGQuality = DefaultJPEGQuality
	}
	if o.WebPQuality < 0 || o.WebPQuality > 100 {
		o.WebPQuality = DefaultWebPQuality
	}
	return o
}

// DecodeError 表示输入字节不是可识别的图片（包括 ComicInfo.xml 这类非图片条目）。
type DecodeError struct{ Err error }

func (e *DecodeError) Error() string { return fmt.Sprintf("图片解码失败：%v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError 表示编码为目标格式失败。
type EncodeError struct {
	Format domain.ImageFormat
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("图片编码为 %s 失败：%v", e.Format, e.Err)
}
func (e *EncodeError) Unwrap() error { return e.Err }

// Transcoder 是无状态的转码器，可被多个任务并发使用。
type Transcoder struct {
	opts Options
}

func NewTranscoder(opts Options) *Transcoder {
	return &Transcoder{opts: opts.withDefaults()}
}

func (t *Transcoder) Options() Options { return t.opts }

// Transcode 把 data 解码后按 target 重新编码。
//
// 约束：
// - 解码会按 EXIF 方向自动旋转（手机拍摄的扫描页常见）
// - JPEG 不支持透明：带 alpha 的图先铺白底
func (t *Transcoder) Transcode(data []byte, target domain.ImageFormat) ([]byte, error) {
	if !target.IsSet() {
		return nil, &EncodeError{Format: target, Err: errors.New("未指定目标格式")}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("输入为空")}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Err: errors.New("图片尺寸无效")}
	}

	var out bytes.Buffer
	switch target {
	case domain.ImageWebP:
		err = t.encodeWebP(&out, img)
	case domain.ImagePNG:
		err = imaging.Encode(&out, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	case domain.ImageJPEG:
		err = imaging.Encode(&out, flatten(img), imaging.JPEG, imaging.JPEGQuality(t.opts.JPEGQuality))
	default:
		err = fmt.Errorf("不支持的目标格式：%q", target)
	}
	if err != nil {
		return nil, &EncodeError{Format: target, Err: err}
	}
	return out.Bytes(), nil
}

func (t *Transcoder) encodeWebP(out *bytes.Buffer, img image.Image) error {
	var (
		eo  *encoder.Options
		err error
	)
	if t.opts.WebPLossless {
		eo, err = encoder.NewLosslessEncoderOptions(encoder.PresetDefault, 6)
	} else {
		eo, err = encoder.NewLossyEncoderOptions(encoder.PresetDefault, t.opts.WebPQuality)
	}
	if err != nil {
		return err
	}
	return webp.Encode(out, img, eo)
}

func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
