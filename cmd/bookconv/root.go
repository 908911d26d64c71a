package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/bookconv/internal/app/run"
	"github.com/John-Robertt/bookconv/internal/config"
	"github.com/John-Robertt/bookconv/internal/domain"
	"github.com/John-Robertt/bookconv/internal/logging"
	"github.com/John-Robertt/bookconv/internal/report"
	"github.com/John-Robertt/bookconv/internal/scan"
)

func newRootCommand(sio stdio) *cobra.Command {
	var cli config.CLIArgs

	cmd := &cobra.Command{
		Use:   "bookconv [flags] <path>...",
		Short: "把 EPUB/CBZ/ZIP 转换为 CBZ/ZIP，可选转码页面图片",
		Long: `把 EPUB/CBZ/ZIP 转换为 CBZ/ZIP，可选把页面图片转码为 webp/png/jpeg。

路径可以是文件或目录（目录会递归查找 .cbz/.zip/.epub）。
输出文件名为 <源文件名>.<cbz|zip>，默认写到源文件所在目录。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env 可选：不存在时静默忽略。
			_ = godotenv.Load()
			return nil
		},
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageErrorf("参数错误：至少需要一个输入路径")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			cli.ExportPathSet = f.Changed("export_path")
			cli.FileFormatSet = f.Changed("fileformat")
			cli.ImageFormatSet = f.Changed("imageformat")
			cli.ConcurrencySet = f.Changed("concurrency")
			cli.ReportPathSet = f.Changed("report")
			cli.LogLevelSet = f.Changed("log-level")
			return runConvert(cmd, sio, cli, args)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("参数错误：%v", err)
	})

	f := cmd.Flags()
	f.StringVarP(&cli.ExportPath, "export_path", "p", "", "输出目录（默认：源文件所在目录）")
	f.StringVarP(&cli.FileFormat, "fileformat", "i", string(domain.DefaultExportKind), "输出容器格式：cbz|zip")
	f.StringVarP(&cli.ImageFormat, "imageformat", "f", "", "页面图片目标格式：webp|png|jpeg（不指定则原样复制）")
	f.BoolVarP(&cli.Yes, "yes", "y", false, "跳过确认提示")
	f.BoolVarP(&cli.DeleteFile, "delete_file", "d", false, "转换成功后删除源文件（尚未实现）")
	f.StringVarP(&cli.ConfigPath, "config", "c", "", "配置文件路径（默认：$BOOKCONV_CONFIG、./bookconv.toml、~/.config/bookconv/config.toml）")
	f.IntVarP(&cli.Concurrency, "concurrency", "j", 0, "并发转换的文件数（默认：CPU 核数，上限 32）")
	f.StringVar(&cli.ReportPath, "report", "", "把运行报告写入文件（.json / .yaml）")
	f.StringVar(&cli.LogLevel, "log-level", "", "日志级别：debug|info|warn|error")

	return cmd
}

func runConvert(cmd *cobra.Command, sio stdio, cli config.CLIArgs, args []string) error {
	ctx := cmd.Context()

	cwd, err := os.Getwd()
	if err != nil {
		return &exitError{code: exitFailed, err: fmt.Errorf("读取当前目录失败：%w", err)}
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		if !sio.outTTY {
			_ = report.Encode(sio.out, reportForConfigError(err))
		}
		return &exitError{code: exitUsage, err: err}
	}

	log, err := logging.New(logging.Options{Level: eff.LogLevel, Format: eff.LogFormat, Writer: sio.err})
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	if eff.ConfigPath != "" {
		log.Debug("已加载配置文件", "path", eff.ConfigPath)
	}
	if eff.DeleteFile {
		log.Warn("--delete_file 尚未实现：源文件将保留")
	}

	inputs, err := scan.ExpandInputs(afero.NewOsFs(), args)
	if err != nil {
		return &exitError{code: exitFailed, err: fmt.Errorf("展开输入路径失败：%w", err)}
	}

	if n := countEpub(inputs); n > 0 && !eff.Yes && sio.inTTY {
		ok, err := confirm(sio.in, sio.err, fmt.Sprintf("将把 %d 个 EPUB 转换为 %s（只保留页面图片），继续吗？[y/N] ", n, eff.Export))
		if err != nil {
			return &exitError{code: exitFailed, err: err}
		}
		if !ok {
			fmt.Fprintln(sio.err, "已取消。")
			if !sio.outTTY {
				_ = report.Encode(sio.out, emptyReport())
			}
			return nil
		}
	}

	var obs run.Observer
	var ui *progressUI
	if sio.errTTY {
		ui = newProgressUI(sio.err)
		obs = ui
	}

	rr := run.ExecuteWithObserver(ctx, eff, inputs, obs, log)
	if ui != nil {
		ui.Stop()
	}

	if eff.ReportPath != "" {
		if err := report.WriteFile(eff.ReportPath, rr); err != nil {
			log.Error("写入报告文件失败", "path", eff.ReportPath, "err", err)
		} else if sio.errTTY {
			fmt.Fprintf(sio.err, "report: %s\n", eff.ReportPath)
		}
	}

	emitReport(sio, rr)
	if !rr.OK() {
		return &exitError{code: exitFailed}
	}
	return nil
}

func countEpub(inputs []string) int {
	n := 0
	for _, p := range inputs {
		if strings.EqualFold(filepath.Ext(p), ".epub") {
			n++
		}
	}
	return n
}

// confirm 读取一行回答；只有 y/yes（大小写不敏感）算同意，EOF 视为拒绝。
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func emitReport(sio stdio, rr domain.RunReport) {
	if sio.outTTY {
		fmt.Fprintln(sio.out, renderSummaryTable(rr))
		fmt.Fprintln(sio.out, summaryLine(rr))
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	_ = report.Encode(sio.out, rr)
	fmt.Fprintln(sio.err, summaryLine(rr))
}

func summaryLine(rr domain.RunReport) string {
	return fmt.Sprintf("完成：success=%d failed=%d warnings=%d",
		rr.Summary.Succeeded, rr.Summary.Failed, rr.Summary.Warnings,
	)
}

func reportForConfigError(err error) domain.RunReport {
	code := config.Code(err)
	if code == "" {
		code = config.ErrCodeInvalid
	}
	now := time.Now().UTC()
	rr := domain.RunReport{
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.FileResult{{
			Index:     0,
			Status:    domain.StatusFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func emptyReport() domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{StartedAt: now, FinishedAt: now, Items: []domain.FileResult{}}
	rr.Finalize()
	return rr
}
