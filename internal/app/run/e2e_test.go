package run

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/John-Robertt/bookconv/internal/domain"
)

func TestExecute_CBZRawCopyIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "Vol 01.cbz")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	p1 := pngBytes(t, 20, 20)
	writeZip(t, src,
		zentry{name: "Vol 01/"},
		zentry{name: "Vol 01/001.png", data: p1, deflate: true},
		zentry{name: "Vol 01/002.jpg", data: []byte("not really a jpeg")},
		zentry{name: "extras/001.png", data: p1},
	)

	out := filepath.Join(dir, "out")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	rr := Execute(context.Background(), baseEff(out), []string{src})
	if rr.Summary.Failed != 0 || len(rr.Items) != 1 {
		t.Fatalf("不期望失败：%+v", rr.Items)
	}
	it := rr.Items[0]
	wantDst := filepath.Join(out, "Vol 01.cbz")
	if it.Dst != wantDst || it.Kind != "cbz" || it.Entries.RawCopied != 3 || it.OutBytes <= 0 {
		t.Fatalf("结果不符合预期：%+v", it)
	}

	got := readZip(t, wantDst)
	want := []string{"001.png", "002.jpg", "001__2.png"}
	if !reflect.DeepEqual(names(got), want) {
		t.Fatalf("输出条目不符合预期：got=%v want=%v", names(got), want)
	}
	if !bytes.Equal(got[0].data, p1) || !bytes.Equal(got[1].data, []byte("not really a jpeg")) {
		t.Fatalf("未指定目标格式时内容应逐字节一致")
	}
}

func TestExecute_CBZTranscodeToWebP(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "book.zip")
	writeZip(t, src,
		zentry{name: "p1.png", data: pngBytes(t, 16, 16)},
		zentry{name: "p2.webp", data: []byte("already webp")},
		zentry{name: "ComicInfo.xml", data: []byte("<ComicInfo/>")},
	)

	eff := baseEff("")
	eff.Image = domain.ImageWebP
	rr := Execute(context.Background(), eff, []string{src})
	it := rr.Items[0]
	if it.Status != domain.StatusSuccess {
		t.Fatalf("条目失败不应导致文件失败：%+v", it)
	}
	if it.Entries.Transcoded != 1 || it.Entries.RawCopied != 1 || it.Entries.Skipped != 1 {
		t.Fatalf("条目计数不符合预期：%+v", it.Entries)
	}
	if len(it.Warnings) != 1 || it.Warnings[0].Code != domain.WarnCodeDecode || it.Warnings[0].Entry != "ComicInfo.xml" {
		t.Fatalf("非图片条目应记为 decode_failed：%+v", it.Warnings)
	}

	got := readZip(t, filepath.Join(dir, "book.cbz"))
	if !reflect.DeepEqual(names(got), []string{"p1.webp", "p2.webp"}) {
		t.Fatalf("输出条目不符合预期：%v", names(got))
	}
	if !bytes.HasPrefix(got[0].data, []byte("RIFF")) {
		t.Fatalf("p1 应被转码为 webp")
	}
	if string(got[1].data) != "already webp" {
		t.Fatalf("已是 webp 的条目应原样复制")
	}
}

func TestExecute_EpubSpineOrderAndContiguousNames(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "novel.epub")
	opf := `<?xml version="1.0"?><package xmlns="http://www.idpf.org/2007/opf" version="3.0"><manifest>
<item id="p1" href="text/p1.xhtml" media-type="application/xhtml+xml"/>
<item id="p2" href="text/p2.xhtml" media-type="application/xhtml+xml"/>
<item id="p3" href="text/p3.xhtml" media-type="application/xhtml+xml"/>
</manifest><spine><itemref idref="p1"/><itemref idref="p2"/><itemref idref="p3"/></spine></package>`
	writeZip(t, src,
		zentry{name: "mimetype", data: []byte("application/epub+zip")},
		zentry{name: "META-INF/container.xml", data: []byte(epubContainer)},
		zentry{name: "OEBPS/content.opf", data: []byte(opf)},
		// 归档顺序与阅读顺序相反。
		zentry{name: "OEBPS/images/c.jpg", data: []byte("C")},
		zentry{name: "OEBPS/images/b.jpg", data: []byte("B")},
		zentry{name: "OEBPS/images/unused.jpg", data: []byte("U")},
		zentry{name: "OEBPS/images/a.jpg", data: []byte("A")},
		zentry{name: "OEBPS/text/p1.xhtml", data: epubPage("../images/a.jpg")},
		zentry{name: "OEBPS/text/p2.xhtml", data: epubPage("../images/b.jpg")},
		zentry{name: "OEBPS/text/p3.xhtml", data: epubPage("../images/c.jpg")},
	)

	rr := Execute(context.Background(), baseEff(""), []string{src})
	it := rr.Items[0]
	if it.Status != domain.StatusSuccess || it.Kind != "epub" {
		t.Fatalf("不期望失败：%+v", it)
	}

	got := readZip(t, filepath.Join(dir, "novel.cbz"))
	if !reflect.DeepEqual(names(got), []string{"0.jpg", "1.jpg", "2.jpg"}) {
		t.Fatalf("输出条目不符合预期：%v", names(got))
	}
	for i, want := range []string{"A", "B", "C"} {
		if string(got[i].data) != want {
			t.Fatalf("第 %d 页内容应为 %s，实际 %q", i, want, got[i].data)
		}
	}
}

func TestExecute_EpubIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "omnibus.epub")
	opf := `<?xml version="1.0"?><package xmlns="http://www.idpf.org/2007/opf" version="3.0"><manifest>
<item id="v1" href="vol1/p.xhtml" media-type="application/xhtml+xml"/>
<item id="v2" href="vol2/p.xhtml" media-type="application/xhtml+xml"/>
</manifest><spine><itemref idref="v1"/><itemref idref="v2"/></spine></package>`
	// 两卷的图片同名，且归档里 vol2 在前。
	writeZip(t, src,
		zentry{name: "META-INF/container.xml", data: []byte(epubContainer)},
		zentry{name: "OEBPS/content.opf", data: []byte(opf)},
		zentry{name: "OEBPS/vol2/001.jpg", data: []byte("V2")},
		zentry{name: "OEBPS/vol1/001.jpg", data: []byte("V1")},
		zentry{name: "OEBPS/vol1/p.xhtml", data: epubPage("001.jpg")},
		zentry{name: "OEBPS/vol2/p.xhtml", data: epubPage("001.jpg")},
	)

	var runs [][]outEntry
	for _, sub := range []string{"a", "b"} {
		dest := filepath.Join(dir, sub)
		if err := os.Mkdir(dest, 0o755); err != nil {
			t.Fatalf("创建输出目录失败：%v", err)
		}
		rr := Execute(context.Background(), baseEff(dest), []string{src})
		if it := rr.Items[0]; it.Status != domain.StatusSuccess || len(it.Warnings) != 0 {
			t.Fatalf("不期望失败或 warning：%+v", it)
		}
		runs = append(runs, readZip(t, filepath.Join(dest, "omnibus.cbz")))
	}

	if !reflect.DeepEqual(names(runs[0]), names(runs[1])) {
		t.Fatalf("两次转换的条目顺序/命名应一致：%v vs %v", names(runs[0]), names(runs[1]))
	}
	if !reflect.DeepEqual(names(runs[0]), []string{"0.jpg", "1.jpg"}) {
		t.Fatalf("输出条目不符合预期：%v", names(runs[0]))
	}
	for _, got := range runs {
		if string(got[0].data) != "V1" || string(got[1].data) != "V2" {
			t.Fatalf("同名图片应按完整路径配对：0=%q 1=%q", got[0].data, got[1].data)
		}
	}
}

func TestExecute_InvalidDestinationCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.cbz")
	writeZip(t, src, zentry{name: "1.png", data: []byte("x")})

	missing := filepath.Join(dir, "nope")
	rr := Execute(context.Background(), baseEff(missing), []string{src})
	it := rr.Items[0]
	if it.Status != domain.StatusFailed || it.ErrorCode != domain.ErrCodeInvalidDestination || it.Dst != "" {
		t.Fatalf("期望 invalid_destination：%+v", it)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Fatalf("不应创建输出目录：%v", err)
	}
	ents, _ := os.ReadDir(dir)
	if len(ents) != 1 {
		t.Fatalf("不应产生任何输出文件：%v", ents)
	}
}

func TestExecute_BatchFailuresAreIsolatedAndOrdered(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "0-empty.epub")
	opf := `<package><manifest><item id="t" href="t.xhtml" media-type="application/xhtml+xml"/></manifest><spine><itemref idref="t"/></spine></package>`
	writeZip(t, empty,
		zentry{name: "META-INF/container.xml", data: []byte(`<container><rootfiles><rootfile full-path="content.opf"/></rootfiles></container>`)},
		zentry{name: "content.opf", data: []byte(opf)},
		zentry{name: "t.xhtml", data: []byte(`<html><body><p>no images</p></body></html>`)},
	)
	good := filepath.Join(dir, "1-good.cbz")
	writeZip(t, good, zentry{name: "1.png", data: []byte("x")})
	corrupt := filepath.Join(dir, "2-corrupt.zip")
	if err := os.WriteFile(corrupt, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("写文件失败：%v", err)
	}
	rar := filepath.Join(dir, "3-x.rar")
	if err := os.WriteFile(rar, []byte("x"), 0o644); err != nil {
		t.Fatalf("写文件失败：%v", err)
	}
	missing := filepath.Join(dir, "4-missing.cbz")

	rr := Execute(context.Background(), baseEff(""), []string{empty, good, corrupt, rar, missing})

	wantCodes := []string{
		domain.ErrCodeNoImagesFound,
		"",
		domain.ErrCodeArchiveOpen,
		domain.ErrCodeUnsupportedFormat,
		domain.ErrCodeInvalidSource,
	}
	if len(rr.Items) != len(wantCodes) {
		t.Fatalf("期望 %d 条结果，实际 %d", len(wantCodes), len(rr.Items))
	}
	for i, want := range wantCodes {
		if rr.Items[i].Index != i || rr.Items[i].ErrorCode != want {
			t.Fatalf("第 %d 条结果不符合预期（应按输入顺序）：%+v", i, rr.Items[i])
		}
	}
	if rr.Summary.Succeeded != 1 || rr.Summary.Failed != 4 || rr.OK() {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	if _, err := os.Stat(filepath.Join(dir, "0-empty.cbz")); !os.IsNotExist(err) {
		t.Fatalf("no_images_found 不应产生输出：%v", err)
	}
	if rr.RunID == "" {
		t.Fatalf("run_id 不应为空")
	}
}

func TestExecute_CanceledLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.zip")
	writeZip(t, src, zentry{name: "1.png", data: []byte("x")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rr := Execute(ctx, baseEff(""), []string{src})
	if rr.Items[0].ErrorCode != domain.ErrCodeCanceled {
		t.Fatalf("期望 canceled：%+v", rr.Items[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "a.cbz")); !os.IsNotExist(err) {
		t.Fatalf("取消后不应产生输出：%v", err)
	}
}

func TestExecute_InPlaceConversion(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.cbz")
	writeZip(t, src, zentry{name: "deep/dir/1.png", data: []byte("one")})

	rr := Execute(context.Background(), baseEff(""), []string{src})
	if rr.Items[0].Status != domain.StatusSuccess {
		t.Fatalf("原地转换不应失败：%+v", rr.Items[0])
	}
	got := readZip(t, src)
	if !reflect.DeepEqual(names(got), []string{"1.png"}) || string(got[0].data) != "one" {
		t.Fatalf("原地转换结果不符合预期：%v", names(got))
	}
}
