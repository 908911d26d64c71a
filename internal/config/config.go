package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/John-Robertt/bookconv/internal/domain"
	"github.com/John-Robertt/bookconv/internal/logging"
)

const (
	// ErrCodeNotFound 表示显式指定的配置文件（--config / $BOOKCONV_CONFIG）不存在。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
)

const (
	FileName = "bookconv.toml"
	EnvPath  = "BOOKCONV_CONFIG"

	MaxConcurrency     = 32
	DefaultJPEGQuality = 90
	DefaultWebPQuality = 80
)

// CLIArgs 是 CLI 层解析出的参数，保留“是否显式指定”的信息，
// 这样 CLI 的零值（例如 -j 0）也能覆盖配置文件。
type CLIArgs struct {
	ConfigPath string

	ExportPath    string
	ExportPathSet bool

	FileFormat    string
	FileFormatSet bool

	ImageFormat    string
	ImageFormatSet bool

	Concurrency    int
	ConcurrencySet bool

	ReportPath    string
	ReportPathSet bool

	LogLevel    string
	LogLevelSet bool

	Yes        bool
	DeleteFile bool
}

// FileConfig 对应 bookconv.toml。
type FileConfig struct {
	ExportPath   string `toml:"export_path"`
	FileFormat   string `toml:"file_format"`
	ImageFormat  string `toml:"image_format"`
	Concurrency  int    `toml:"concurrency"`
	JPEGQuality  *int   `toml:"jpeg_quality"`
	WebPQuality  *int   `toml:"webp_quality"`
	WebPLossless bool   `toml:"webp_lossless"`
	Deflate      bool   `toml:"deflate"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
	ReportPath   string `toml:"report_path"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigPath 是实际读取的配置文件；没有读取任何文件时为空。
	ConfigPath string

	// ExportPath 为空表示输出到各源文件所在目录。
	ExportPath string
	Export     domain.ExportKind
	Image      domain.ImageFormat

	Concurrency  int
	JPEGQuality  int
	WebPQuality  int
	WebPLossless bool
	Deflate      bool

	LogLevel   string
	LogFormat  string
	ReportPath string

	Yes        bool
	DeleteFile bool
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
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

// LoadEffective 发现并读取配置文件，再与 CLI 参数合并为最终配置。
//
// 发现顺序（固定）：
// 1) --config（必须存在）
// 2) $BOOKCONV_CONFIG（必须存在）
// 3) <cwd>/bookconv.toml（可选）
// 4) ~/.config/bookconv/config.toml（可选）
//
// 覆盖优先级：CLI > 配置文件 > 内置默认。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath, err := resolvePath(cwdAbs, cli.ConfigPath)
	if err != nil {
		return EffectiveConfig{}, err
	}

	var fc FileConfig
	if cfgPath != "" {
		fc, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}
	return merge(cwdAbs, cli, fc, cfgPath)
}

func resolvePath(cwdAbs, explicit string) (string, error) {
	for _, p := range []string{strings.TrimSpace(explicit), strings.TrimSpace(os.Getenv(EnvPath))} {
		if p == "" {
			continue
		}
		p = absCleanFrom(cwdAbs, expandHome(p))
		fi, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", &Error{Code: ErrCodeNotFound, Path: p, Err: err}
			}
			return "", &Error{Code: ErrCodeInvalid, Path: p, Err: err}
		}
		if fi.IsDir() {
			return "", &Error{Code: ErrCodeInvalid, Path: p, Err: fmt.Errorf("是目录")}
		}
		return p, nil
	}

	candidates := []string{filepath.Join(cwdAbs, FileName)}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, ".config", "bookconv", "config.toml"))
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// 配置文件里的相对路径以配置文件所在目录为基准；CLI 的以 cwd 为基准。
	fileBase := cwdAbs
	if cfgPath != "" {
		fileBase = filepath.Dir(cfgPath)
	}

	exportPath := ""
	switch {
	case cli.ExportPathSet && strings.TrimSpace(cli.ExportPath) != "":
		exportPath = absCleanFrom(cwdAbs, expandHome(cli.ExportPath))
	case strings.TrimSpace(fc.ExportPath) != "":
		exportPath = absCleanFrom(fileBase, expandHome(fc.ExportPath))
	}

	fileFormat := string(domain.DefaultExportKind)
	if cli.FileFormatSet {
		fileFormat = cli.FileFormat
	} else if strings.TrimSpace(fc.FileFormat) != "" {
		fileFormat = fc.FileFormat
	}
	export, err := domain.ParseExportKind(fileFormat)
	if err != nil {
		return invalid(err)
	}

	imageFormat := fc.ImageFormat
	if cli.ImageFormatSet {
		imageFormat = cli.ImageFormat
	}
	image, err := domain.ParseImageFormat(imageFormat)
	if err != nil {
		return invalid(err)
	}

	concurrency := fc.Concurrency
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = runtime.NumCPU()
	}
	// 超出 [1, MaxConcurrency] 截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	jpegQuality := DefaultJPEGQuality
	if fc.JPEGQuality != nil {
		jpegQuality = *fc.JPEGQuality
		if jpegQuality < 1 || jpegQuality > 100 {
			return invalid(fmt.Errorf("jpeg_quality 必须在 1..100，实际是 %d", jpegQuality))
		}
	}
	webpQuality := DefaultWebPQuality
	if fc.WebPQuality != nil {
		webpQuality = *fc.WebPQuality
		if webpQuality < 0 || webpQuality > 100 {
			return invalid(fmt.Errorf("webp_quality 必须在 0..100，实际是 %d", webpQuality))
		}
	}

	logLevel := fc.LogLevel
	if cli.LogLevelSet {
		logLevel = cli.LogLevel
	}
	if !logging.ValidLevel(logLevel) {
		return invalid(fmt.Errorf("log_level 只能是 debug/info/warn/error，实际是 %q", logLevel))
	}
	logFormat := strings.ToLower(strings.TrimSpace(fc.LogFormat))
	switch logFormat {
	case "":
		logFormat = logging.FormatConsole
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return invalid(fmt.Errorf("log_format 只能是 console 或 json，实际是 %q", fc.LogFormat))
	}

	reportPath := ""
	switch {
	case cli.ReportPathSet && strings.TrimSpace(cli.ReportPath) != "":
		reportPath = absCleanFrom(cwdAbs, expandHome(cli.ReportPath))
	case strings.TrimSpace(fc.ReportPath) != "":
		reportPath = absCleanFrom(fileBase, expandHome(fc.ReportPath))
	}

	return EffectiveConfig{
		ConfigPath:   cfgPath,
		ExportPath:   exportPath,
		Export:       export,
		Image:        image,
		Concurrency:  concurrency,
		JPEGQuality:  jpegQuality,
		WebPQuality:  webpQuality,
		WebPLossless: fc.WebPLossless,
		Deflate:      fc.Deflate,
		LogLevel:     strings.ToLower(strings.TrimSpace(logLevel)),
		LogFormat:    logFormat,
		ReportPath:   reportPath,
		Yes:          cli.Yes,
		DeleteFile:   cli.DeleteFile,
	}, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

func expandHome(p string) string {
	p = strings.TrimSpace(p)
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

func readFileConfig(path string) (FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileConfig{}, err
	}
	defer f.Close()

	var fc FileConfig
	if err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}
