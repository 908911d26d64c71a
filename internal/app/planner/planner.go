// Package planner 负责纯规划：输入校验、输出路径、逐条目的 RawCopy/Transcode 决策与命名。
// 这里不读写归档内容，结果只取决于输入（确定性）。
package planner

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/John-Robertt/bookconv/internal/domain"
)

// Validate 校验一个输入并构造 SourceContainer 与输出路径。
//
// 顺序：输出目录（存在且是目录）→ 源文件（存在且是普通文件）→ 扩展名。
// exportDir 为空时输出到源文件所在目录。校验失败时不创建任何文件。
func Validate(idx int, src, exportDir string, export domain.ExportKind) (domain.SourceContainer, string, error) {
	if exportDir == "" {
		exportDir = filepath.Dir(src)
	}

	fi, err := os.Stat(exportDir)
	if err != nil {
		return domain.SourceContainer{}, "", &domain.Error{Code: domain.ErrCodeInvalidDestination, Path: exportDir, Err: err}
	}
	if !fi.IsDir() {
		return domain.SourceContainer{}, "", &domain.Error{Code: domain.ErrCodeInvalidDestination, Path: exportDir, Err: fmt.Errorf("不是目录")}
	}

	fi, err = os.Stat(src)
	if err != nil {
		return domain.SourceContainer{}, "", &domain.Error{Code: domain.ErrCodeInvalidSource, Path: src, Err: err}
	}
	if !fi.Mode().IsRegular() {
		return domain.SourceContainer{}, "", &domain.Error{Code: domain.ErrCodeInvalidSource, Path: src, Err: fmt.Errorf("不是普通文件")}
	}

	sc, err := domain.NewSourceContainer(idx, src)
	if err != nil {
		return domain.SourceContainer{}, "", err
	}
	return sc, OutputPath(exportDir, sc, export), nil
}

// OutputPath 返回 <exportDir>/<stem>.<export>。
func OutputPath(exportDir string, sc domain.SourceContainer, export domain.ExportKind) string {
	return filepath.Join(exportDir, sc.Stem+"."+string(export))
}

// Decide 决定单个条目的处理方式。
//
// 扩展名比较区分大小写且不做别名归一："jpg" 与 "jpeg" 视为不同，会触发转码。
func Decide(e domain.ContainerEntry, target domain.ImageFormat) domain.Action {
	if !target.IsSet() || e.Ext == target.Ext() {
		return domain.ActionRawCopy
	}
	return domain.ActionTranscode
}

// PlanArchive 为 CBZ/ZIP 源生成条目计划：原生索引顺序，跳过目录，名字拍平为 <stem>.<ext>。
// 拍平后重名的条目追加 __2、__3 后缀。
func PlanArchive(entries []domain.ContainerEntry, target domain.ImageFormat) []domain.EntryPlan {
	used := make(map[string]struct{}, len(entries))
	plans := make([]domain.EntryPlan, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		p := newEntryPlan(e, e.Stem, target)
		p.Seq = -1
		p.OutName = allocName(p.OutName, used)
		used[p.OutName] = struct{}{}
		plans = append(plans, p)
	}
	return plans
}

// Plan 组装单个文件的执行计划。refs 只对 EPUB 源有意义，其余类型忽略。
func Plan(sc domain.SourceContainer, outPath string, export domain.ExportKind, entries []domain.ContainerEntry, refs []string, target domain.ImageFormat) (domain.FilePlan, []domain.EntryWarning) {
	fp := domain.FilePlan{Source: sc, OutPath: outPath, Export: export}
	if sc.Kind == domain.KindEPUB {
		var warns []domain.EntryWarning
		fp.Entries, warns = PlanEpub(entries, refs, target)
		return fp, warns
	}
	fp.Entries = PlanArchive(entries, target)
	return fp, nil
}

// PlanEpub 把定位到的图片引用（归档内路径，阅读顺序）与归档条目配对。
//
// 约束：
// - 先按完整路径配对，剩下的条目再按文件名配对（同名引用各自排队，先到先得）
// - 条目按归档顺序扫描，每个条目最多消费一个引用
// - 计划按发现顺序排列，命名 0.ext、1.ext……（只对匹配成功的引用连续编号）
// - 未被引用的条目不写出；始终未匹配的引用记为 unmatched_reference 警告
func PlanEpub(entries []domain.ContainerEntry, refs []string, target domain.ImageFormat) ([]domain.EntryPlan, []domain.EntryWarning) {
	byPath := make(map[string][]int, len(refs))
	byName := make(map[string][]int, len(refs))
	for i, r := range refs {
		p, n := matchKey(r), matchKey(path.Base(r))
		byPath[p] = append(byPath[p], i)
		byName[n] = append(byName[n], i)
	}

	used := make([]bool, len(refs))
	pop := func(queues map[string][]int, k string) (int, bool) {
		q := queues[k]
		for len(q) > 0 && used[q[0]] {
			q = q[1:]
		}
		if len(q) == 0 {
			queues[k] = nil
			return 0, false
		}
		used[q[0]] = true
		queues[k] = q[1:]
		return q[0], true
	}

	type match struct {
		ref   int
		entry domain.ContainerEntry
	}
	matched := make([]match, 0, len(refs))
	taken := make([]bool, len(entries))
	for j, e := range entries {
		if e.IsDir {
			continue
		}
		if i, ok := pop(byPath, matchKey(e.Name)); ok {
			matched = append(matched, match{ref: i, entry: e})
			taken[j] = true
		}
	}
	for j, e := range entries {
		if e.IsDir || taken[j] {
			continue
		}
		if i, ok := pop(byName, matchKey(e.FileName())); ok {
			matched = append(matched, match{ref: i, entry: e})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ref < matched[j].ref })

	plans := make([]domain.EntryPlan, 0, len(matched))
	for seq, m := range matched {
		p := newEntryPlan(m.entry, strconv.Itoa(seq), target)
		p.Seq = seq
		plans = append(plans, p)
	}

	warns := make([]domain.EntryWarning, 0, len(refs)-len(matched))
	for i := range refs {
		if used[i] {
			continue
		}
		warns = append(warns, domain.EntryWarning{
			Entry: refs[i],
			Code:  domain.WarnCodeUnmatchedReference,
			Msg:   "引用的图片在归档中不存在",
		})
	}
	return plans, warns
}

func newEntryPlan(e domain.ContainerEntry, base string, target domain.ImageFormat) domain.EntryPlan {
	p := domain.EntryPlan{Entry: e, Action: Decide(e, target)}
	ext := e.Ext
	if p.Action == domain.ActionTranscode {
		p.Target = target
		ext = target.Ext()
	}
	p.OutName = joinExt(base, ext)
	return p
}

func joinExt(base, ext string) string {
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// matchKey 统一 Unicode 规范化形式（macOS 打包的归档常见 NFD 文件名）。
func matchKey(name string) string {
	return norm.NFC.String(name)
}

func allocName(name string, used map[string]struct{}) string {
	if _, ok := used[name]; !ok {
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d%s", base, n, ext)
		if _, ok := used[cand]; !ok {
			return cand
		}
	}
}
