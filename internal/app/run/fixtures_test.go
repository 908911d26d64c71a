package run

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"testing"

	"github.com/John-Robertt/bookconv/internal/config"
	"github.com/John-Robertt/bookconv/internal/domain"
)

type zentry struct {
	name    string
	data    []byte
	deflate bool
}

func writeZip(t *testing.T, p string, entries ...zentry) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		method := zip.Store
		if e.deflate {
			method = zip.Deflate
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: method})
		if err != nil {
			t.Fatalf("写入测试条目 %s 失败：%v", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("写入测试条目 %s 失败：%v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("关闭测试 zip 失败：%v", err)
	}
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("写入 %s 失败：%v", p, err)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 5), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png 失败：%v", err)
	}
	return buf.Bytes()
}

type outEntry struct {
	name string
	data []byte
	raw  []byte
}

func readZip(t *testing.T, p string) []outEntry {
	t.Helper()
	zr, err := zip.OpenReader(p)
	if err != nil {
		t.Fatalf("打开输出 %s 失败：%v", p, err)
	}
	defer zr.Close()

	out := make([]outEntry, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("打开条目 %s 失败：%v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("读取条目 %s 失败：%v", f.Name, err)
		}
		rr, err := f.OpenRaw()
		if err != nil {
			t.Fatalf("读取原始条目 %s 失败：%v", f.Name, err)
		}
		raw, _ := io.ReadAll(rr)
		out = append(out, outEntry{name: f.Name, data: data, raw: raw})
	}
	return out
}

func names(es []outEntry) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.name)
	}
	return out
}

func baseEff(dest string) config.EffectiveConfig {
	return config.EffectiveConfig{
		ExportPath:  dest,
		Export:      domain.ExportCBZ,
		Concurrency: 2,
		JPEGQuality: config.DefaultJPEGQuality,
		WebPQuality: config.DefaultWebPQuality,
	}
}

const epubContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
<rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`

func epubPage(href string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:xlink="http://www.w3.org/1999/xlink"><body>
<svg xmlns="http://www.w3.org/2000/svg"><image xlink:href="` + href + `"/></svg>
</body></html>`)
}
