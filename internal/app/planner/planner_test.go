package planner

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/John-Robertt/bookconv/internal/domain"
)

func entries(names ...string) []domain.ContainerEntry {
	out := make([]domain.ContainerEntry, 0, len(names))
	for i, n := range names {
		isDir := len(n) > 0 && n[len(n)-1] == '/'
		if isDir {
			n = n[:len(n)-1]
		}
		out = append(out, domain.NewContainerEntry(i, n, 1, isDir))
	}
	return out
}

func outNames(plans []domain.EntryPlan) []string {
	out := make([]string, 0, len(plans))
	for _, p := range plans {
		out = append(out, p.OutName)
	}
	return out
}

func TestDecide(t *testing.T) {
	cases := []struct {
		ext    string
		target domain.ImageFormat
		want   domain.Action
	}{
		{"png", domain.ImageNone, domain.ActionRawCopy},
		{"webp", domain.ImageWebP, domain.ActionRawCopy},
		{"jpg", domain.ImageJPEG, domain.ActionTranscode}, // jpg 与 jpeg 不做别名归一
		{"PNG", domain.ImagePNG, domain.ActionTranscode},  // 区分大小写
		{"xml", domain.ImageWebP, domain.ActionTranscode},
	}
	for _, c := range cases {
		e := domain.NewContainerEntry(0, "p."+c.ext, 1, false)
		if got := Decide(e, c.target); got != c.want {
			t.Fatalf("Decide(%q, %q)=%q，期望 %q", c.ext, c.target, got, c.want)
		}
	}
}

func TestPlanArchive_FlattenSkipDirsAndCollisions(t *testing.T) {
	plans := PlanArchive(entries("vol1/", "vol1/p1.png", "vol2/p1.png", "vol1/p2.webp", "cover.jpg"), domain.ImageWebP)

	want := []string{"p1.webp", "p1__2.webp", "p2.webp", "cover.webp"}
	if got := outNames(plans); !reflect.DeepEqual(got, want) {
		t.Fatalf("输出名不符合预期：got=%v want=%v", got, want)
	}
	if plans[2].Action != domain.ActionRawCopy {
		t.Fatalf("已是 webp 的条目应原样复制：%+v", plans[2])
	}
	if plans[0].Action != domain.ActionTranscode || plans[0].Target != domain.ImageWebP || plans[0].Seq != -1 {
		t.Fatalf("png 条目应转码为 webp：%+v", plans[0])
	}
}

func TestPlanArchive_NoTargetKeepsExt(t *testing.T) {
	plans := PlanArchive(entries("a/01.JPG", "README"), domain.ImageNone)
	want := []string{"01.JPG", "README"}
	if got := outNames(plans); !reflect.DeepEqual(got, want) {
		t.Fatalf("输出名不符合预期：got=%v want=%v", got, want)
	}
	for _, p := range plans {
		if p.Action != domain.ActionRawCopy {
			t.Fatalf("未指定目标格式时应全部原样复制：%+v", p)
		}
	}
}

func TestPlanEpub_ContiguousNumberingInDiscoveryOrder(t *testing.T) {
	// 归档顺序与阅读顺序不同；b.png 未被引用。
	es := entries("OEBPS/", "OEBPS/images/c.jpg", "OEBPS/images/b.png", "OEBPS/images/a.jpg", "mimetype")
	refs := []string{"OEBPS/images/a.jpg", "OEBPS/images/c.jpg"}

	plans, warns := PlanEpub(es, refs, domain.ImageNone)
	want := []string{"0.jpg", "1.jpg"}
	if got := outNames(plans); !reflect.DeepEqual(got, want) {
		t.Fatalf("输出名不符合预期：got=%v want=%v", got, want)
	}
	if plans[0].Entry.Name != "OEBPS/images/a.jpg" || plans[1].Entry.Name != "OEBPS/images/c.jpg" {
		t.Fatalf("应按阅读顺序排列：%v / %v", plans[0].Entry.Name, plans[1].Entry.Name)
	}
	if len(warns) != 0 {
		t.Fatalf("不期望 warning：%+v", warns)
	}
}

func TestPlanEpub_LastReferenceIsNotDropped(t *testing.T) {
	es := entries("i/a.png", "i/b.png", "i/c.png")
	plans, _ := PlanEpub(es, []string{"i/a.png", "i/b.png", "i/c.png"}, domain.ImageWebP)
	want := []string{"0.webp", "1.webp", "2.webp"}
	if got := outNames(plans); !reflect.DeepEqual(got, want) {
		t.Fatalf("输出名不符合预期：got=%v want=%v", got, want)
	}
}

func TestPlanEpub_UnmatchedAndDuplicateRefs(t *testing.T) {
	es := entries("i/a.png", "i/b.png")
	refs := []string{"i/a.png", "i/missing.png", "i/b.png", "i/a.png"}

	plans, warns := PlanEpub(es, refs, domain.ImageNone)
	// 第二次引用 a.png 没有对应的第二个条目：未匹配。
	want := []string{"0.png", "1.png"}
	if got := outNames(plans); !reflect.DeepEqual(got, want) {
		t.Fatalf("输出名不符合预期：got=%v want=%v", got, want)
	}
	if len(warns) != 2 || warns[0].Entry != "i/missing.png" || warns[1].Entry != "i/a.png" {
		t.Fatalf("未匹配引用应按发现顺序记为 warning：%+v", warns)
	}
	if warns[0].Code != domain.WarnCodeUnmatchedReference {
		t.Fatalf("warning code 不正确：%+v", warns[0])
	}
}

func TestPlanEpub_NFCMatching(t *testing.T) {
	nfd := "e\u0301.jpg" // é 的分解形式
	nfc := "\u00e9.jpg"
	plans, warns := PlanEpub(entries("img/"+nfd), []string{"img/" + nfc}, domain.ImageNone)
	if len(plans) != 1 || len(warns) != 0 {
		t.Fatalf("NFC/NFD 文件名应能匹配：plans=%+v warns=%+v", plans, warns)
	}
}

func TestPlanEpub_SameNameDifferentDirsPrefersExactPath(t *testing.T) {
	// 两卷都有 001.jpg，归档里 vol2 排在前面。
	es := entries("OEBPS/vol2/001.jpg", "OEBPS/vol1/001.jpg")
	refs := []string{"OEBPS/vol1/001.jpg", "OEBPS/vol2/001.jpg"}

	plans, warns := PlanEpub(es, refs, domain.ImageNone)
	if len(plans) != 2 || len(warns) != 0 {
		t.Fatalf("期望两个计划、无 warning：plans=%+v warns=%+v", plans, warns)
	}
	if plans[0].OutName != "0.jpg" || plans[0].Entry.Name != "OEBPS/vol1/001.jpg" {
		t.Fatalf("0.jpg 应来自 vol1：%+v", plans[0])
	}
	if plans[1].OutName != "1.jpg" || plans[1].Entry.Name != "OEBPS/vol2/001.jpg" {
		t.Fatalf("1.jpg 应来自 vol2：%+v", plans[1])
	}
}

func TestPlanEpub_FileNameFallbackWhenPathDiffers(t *testing.T) {
	// 引用路径与归档布局不一致（例如引用越界后只剩文件名）时按文件名配对。
	es := entries("images/p1.png", "OEBPS/p2.png")
	refs := []string{"OEBPS/images/p1.png", "OEBPS/p2.png"}

	plans, warns := PlanEpub(es, refs, domain.ImageNone)
	if got := outNames(plans); !reflect.DeepEqual(got, []string{"0.png", "1.png"}) || len(warns) != 0 {
		t.Fatalf("文件名回退配对失败：got=%v warns=%+v", got, warns)
	}
	if plans[0].Entry.Name != "images/p1.png" {
		t.Fatalf("0.png 应来自 images/p1.png：%+v", plans[0])
	}
}

func TestPlanEpub_IsDeterministic(t *testing.T) {
	es := entries("x/b.jpg", "y/a.jpg", "x/a.jpg", "z/c.png")
	refs := []string{"x/a.jpg", "a.jpg", "x/b.jpg", "c.png", "gone.png"}

	p1, w1 := PlanEpub(es, refs, domain.ImageWebP)
	p2, w2 := PlanEpub(es, refs, domain.ImageWebP)
	if !reflect.DeepEqual(p1, p2) || !reflect.DeepEqual(w1, w2) {
		t.Fatalf("相同输入应得到相同计划：\n%+v\n%+v", p1, p2)
	}
}

func TestPlan_AssemblesFilePlan(t *testing.T) {
	sc := domain.SourceContainer{Index: 2, Path: "/in/a.epub", Kind: domain.KindEPUB, Stem: "a"}
	fp, warns := Plan(sc, "/out/a.zip", domain.ExportZIP, entries("i/p.png", "i/q.png"), []string{"i/q.png", "i/r.png"}, domain.ImageNone)
	if fp.Source != sc || fp.OutPath != "/out/a.zip" || fp.Export != domain.ExportZIP {
		t.Fatalf("FilePlan 头部字段不正确：%+v", fp)
	}
	if got := outNames(fp.Entries); !reflect.DeepEqual(got, []string{"0.png"}) {
		t.Fatalf("EPUB 计划不正确：%v", got)
	}
	if len(warns) != 1 || warns[0].Entry != "i/r.png" {
		t.Fatalf("期望 i/r.png 未匹配：%+v", warns)
	}

	sc.Kind = domain.KindCBZ
	fp, warns = Plan(sc, "/out/a.zip", domain.ExportZIP, entries("i/p.png", "i/q.png"), []string{"ignored"}, domain.ImageNone)
	if got := outNames(fp.Entries); !reflect.DeepEqual(got, []string{"p.png", "q.png"}) || warns != nil {
		t.Fatalf("CBZ 计划应忽略 refs：%v %+v", got, warns)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "book.epub")
	write(t, src)

	sc, out, err := Validate(0, src, "", domain.ExportCBZ)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if sc.Kind != domain.KindEPUB || out != filepath.Join(dir, "book.cbz") {
		t.Fatalf("校验结果不符合预期：%+v out=%s", sc, out)
	}

	if _, _, err := Validate(0, src, filepath.Join(dir, "nope"), domain.ExportCBZ); domain.Code(err) != domain.ErrCodeInvalidDestination {
		t.Fatalf("不存在的输出目录应为 invalid_destination：%v", err)
	}
	if _, _, err := Validate(0, src, src, domain.ExportCBZ); domain.Code(err) != domain.ErrCodeInvalidDestination {
		t.Fatalf("输出目录是文件应为 invalid_destination：%v", err)
	}
	if _, _, err := Validate(0, filepath.Join(dir, "missing.cbz"), dir, domain.ExportZIP); domain.Code(err) != domain.ErrCodeInvalidSource {
		t.Fatalf("不存在的源应为 invalid_source：%v", err)
	}
	if _, _, err := Validate(0, dir, dir, domain.ExportZIP); domain.Code(err) != domain.ErrCodeInvalidSource {
		t.Fatalf("源是目录应为 invalid_source：%v", err)
	}

	rar := filepath.Join(dir, "x.rar")
	write(t, rar)
	if _, _, err := Validate(0, rar, dir, domain.ExportZIP); domain.Code(err) != domain.ErrCodeUnsupportedFormat {
		t.Fatalf("rar 应为 unsupported_format：%v", err)
	}

	ents, _ := os.ReadDir(dir)
	if len(ents) != 2 {
		t.Fatalf("校验不应创建任何文件：%v", ents)
	}
}

func write(t *testing.T, p string) {
	t.Helper()
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("写文件失败：%v", err)
	}
}
