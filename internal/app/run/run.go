// Package run 执行一批转换：每个输入文件一个任务，worker pool 并发，文件内逐条目串行。
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/bookconv/internal/app/planner"
	"github.com/John-Robertt/bookconv/internal/config"
	"github.com/John-Robertt/bookconv/internal/domain"
	"github.com/John-Robertt/bookconv/internal/epub"
	"github.com/John-Robertt/bookconv/internal/infra/archive"
	"github.com/John-Robertt/bookconv/internal/infra/imgx"
	"github.com/John-Robertt/bookconv/internal/logging"
)

// Execute 转换 inputs 中的每个文件，并返回对外稳定的 RunReport。
// 单个文件失败只影响它自己的结果，不会中断整批。
func Execute(ctx context.Context, eff config.EffectiveConfig, inputs []string) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, inputs, nil, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 与 logger（均可为 nil）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, inputs []string, obs Observer, log *slog.Logger) domain.RunReport {
	if log == nil {
		log = logging.Discard()
	}
	if obs != nil {
		obs.OnStart(eff, len(inputs))
	}

	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Items:     make([]domain.FileResult, 0, len(inputs)),
	}
	log = log.With(slog.String("run_id", rr.RunID))

	c := &Converter{
		Export: eff.Export,
		Image:  eff.Image,
		Dest:   eff.ExportPath,
		Writer: archive.WriterOptions{Deflate: eff.Deflate},
		Transcoder: imgx.NewTranscoder(imgx.Options{
			JPEGQuality:  eff.JPEGQuality,
			WebPQuality:  float32(eff.WebPQuality),
			WebPLossless: eff.WebPLossless,
		}),
		Log: log,
	}

	workers := eff.Concurrency
	if workers > len(inputs) {
		workers = len(inputs)
	}
	if workers < 1 {
		workers = 1
	}

	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{
			"workers":     workers,
			"total_files": len(inputs),
		}, 0)
	}

	type job struct {
		idx int
		src string
	}
	type execResult struct {
		res domain.FileResult
		dur time.Duration
	}

	jobs := make(chan job)
	results := make(chan execResult, len(inputs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				started := time.Now()
				r := c.Convert(ctx, j.idx, j.src)
				results <- execResult{res: r, dur: time.Since(started)}
			}
		}()
	}

	go func() {
		for i, src := range inputs {
			jobs <- job{idx: i, src: src}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	done := 0
	for it := range results {
		done++
		rr.Items = append(rr.Items, it.res)
		if obs != nil {
			obs.OnFileDone(done, len(inputs), it.res, it.dur)
		}
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	log.Info("批量转换结束",
		slog.Int("total", rr.Summary.Total),
		slog.Int("succeeded", rr.Summary.Succeeded),
		slog.Int("failed", rr.Summary.Failed),
		slog.Int("warnings", rr.Summary.Warnings),
	)
	return rr
}

// Converter 负责单个文件的完整转换。无可变状态，可被多个 worker 共享。
type Converter struct {
	Export     domain.ExportKind
	Image      domain.ImageFormat
	Dest       string // 为空时输出到源文件所在目录
	Writer     archive.WriterOptions
	Transcoder *imgx.Transcoder
	Log        *slog.Logger
}

// Convert 依次执行：校验 → 打开源 → 发现条目（CBZ/ZIP 枚举 / EPUB 定位）
// → 逐条目（决策 → 原样复制|转码 → 追加）→ 封口。
//
// 约束：
// - 校验失败不创建任何文件
// - 条目级失败记为 warning，条目被跳过，文件仍算成功
// - 取消或封口失败时丢弃临时输出，目标路径保持原样
func (c *Converter) Convert(ctx context.Context, idx int, src string) domain.FileResult {
	res := domain.FileResult{
		Index:    idx,
		Src:      src,
		Status:   domain.StatusSuccess,
		Warnings: []domain.EntryWarning{},
	}
	log := c.logger().With(slog.String("file", src))

	if err := ctx.Err(); err != nil {
		return fail(res, &domain.Error{Code: domain.ErrCodeCanceled, Path: src, Err: err})
	}

	sc, outPath, err := planner.Validate(idx, src, c.Dest, c.Export)
	if err != nil {
		return fail(res, err)
	}
	res.Kind = string(sc.Kind)

	r, err := archive.Open(src)
	if err != nil {
		return fail(res, &domain.Error{Code: domain.ErrCodeArchiveOpen, Path: src, Err: err})
	}
	defer r.Close()

	var refs []string
	if sc.Kind == domain.KindEPUB {
		loc, err := epub.LocateImages(r.FS())
		for _, w := range loc.Warnings {
			res.Warnings = append(res.Warnings, domain.EntryWarning{Entry: w.Path, Code: domain.WarnCodeLocate, Msg: w.Msg})
		}
		switch {
		case errors.Is(err, epub.ErrNoImagesFound):
			return fail(res, &domain.Error{Code: domain.ErrCodeNoImagesFound, Path: src, Err: err})
		case err != nil:
			return fail(res, &domain.Error{Code: domain.ErrCodeArchiveOpen, Path: src, Err: err})
		}
		refs = make([]string, 0, len(loc.Refs))
		for _, ref := range loc.Refs {
			refs = append(refs, ref.Path)
		}
	}

	fp, unmatched := planner.Plan(sc, outPath, c.Export, r.Entries(), refs, c.Image)
	res.Warnings = append(res.Warnings, unmatched...)
	if sc.Kind == domain.KindEPUB && len(fp.Entries) == 0 {
		return fail(res, &domain.Error{Code: domain.ErrCodeNoImagesFound, Path: src, Err: fmt.Errorf("引用的 %d 张图片都不在归档中", len(refs))})
	}
	res.Entries.Planned = len(fp.Entries)

	w, err := archive.Create(fp.OutPath, c.Writer)
	if err != nil {
		return fail(res, &domain.Error{Code: domain.ErrCodeArchiveWrite, Path: fp.OutPath, Err: err})
	}

	for _, p := range fp.Entries {
		if err := ctx.Err(); err != nil {
			_ = w.Abort()
			return fail(res, &domain.Error{Code: domain.ErrCodeCanceled, Path: src, Err: err})
		}

		if warn, ok := c.applyEntry(r, w, p); !ok {
			// 条目写到一半失败：输出流里已有残缺条目，整个文件作废。
			if err := w.Err(); err != nil {
				_ = w.Abort()
				return fail(res, &domain.Error{Code: domain.ErrCodeArchiveWrite, Path: fp.OutPath, Err: err})
			}
			res.Entries.Skipped++
			res.Warnings = append(res.Warnings, warn)
			log.Warn("跳过条目",
				slog.String("entry", warn.Entry),
				slog.String("code", warn.Code),
				slog.String("err", warn.Msg),
			)
			continue
		}
		if p.Action == domain.ActionTranscode {
			res.Entries.Transcoded++
		} else {
			res.Entries.RawCopied++
		}
	}

	if err := ctx.Err(); err != nil {
		_ = w.Abort()
		return fail(res, &domain.Error{Code: domain.ErrCodeCanceled, Path: src, Err: err})
	}
	if err := w.Finalize(); err != nil {
		return fail(res, &domain.Error{Code: domain.ErrCodeArchiveWrite, Path: fp.OutPath, Err: err})
	}

	res.Dst = fp.OutPath
	res.OutBytes = w.Size()
	log.Info("转换完成",
		slog.String("dst", fp.OutPath),
		slog.Int("written", res.Entries.Written()),
		slog.Int("skipped", res.Entries.Skipped),
	)
	return res
}

// applyEntry 写入单个条目；失败时返回对应的 warning。
func (c *Converter) applyEntry(r *archive.Reader, w *archive.Writer, p domain.EntryPlan) (domain.EntryWarning, bool) {
	warn := func(code string, err error) (domain.EntryWarning, bool) {
		return domain.EntryWarning{Entry: p.Entry.Name, Code: code, Msg: err.Error()}, false
	}

	if p.Action == domain.ActionRawCopy {
		if err := w.RawCopyEntry(r, p.Entry.Index, p.OutName); err != nil {
			if isWriteErr(err) {
				return warn(domain.WarnCodeWrite, err)
			}
			return warn(domain.WarnCodeRead, err)
		}
		return domain.EntryWarning{}, true
	}

	data, err := r.ReadAll(p.Entry.Index)
	if err != nil {
		return warn(domain.WarnCodeRead, err)
	}
	tc := c.Transcoder
	if tc == nil {
		tc = imgx.NewTranscoder(imgx.DefaultOptions())
	}
	out, err := tc.Transcode(data, p.Target)
	if err != nil {
		var de *imgx.DecodeError
		if errors.As(err, &de) {
			return warn(domain.WarnCodeDecode, err)
		}
		return warn(domain.WarnCodeEncode, err)
	}
	if err := w.WriteEntry(p.OutName, out); err != nil {
		return warn(domain.WarnCodeWrite, err)
	}
	return domain.EntryWarning{}, true
}

func (c *Converter) logger() *slog.Logger {
	if c.Log == nil {
		return logging.Discard()
	}
	return c.Log
}

func isWriteErr(err error) bool {
	var we *archive.WriteError
	return errors.As(err, &we)
}

func fail(res domain.FileResult, err error) domain.FileResult {
	res.Status = domain.StatusFailed
	res.ErrorCode = domain.Code(err)
	if res.ErrorCode == "" {
		res.ErrorCode = domain.ErrCodeArchiveWrite
	}
	res.ErrorMsg = err.Error()
	res.Dst = ""
	res.Entries.RawCopied = 0
	res.Entries.Transcoded = 0
	return res
}
