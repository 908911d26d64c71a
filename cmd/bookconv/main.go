package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// exitError 让 RunE 把退出码交还给 main，而不是在命令内部直接 os.Exit。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

// stdio 是 CLI 的输入输出端点；测试里替换为 buffer 并显式指定是否为终端。
type stdio struct {
	in  io.Reader
	out io.Writer
	err io.Writer

	inTTY  bool
	outTTY bool
	errTTY bool
}

func osStdio() stdio {
	return stdio{
		in:     os.Stdin,
		out:    os.Stdout,
		err:    os.Stderr,
		inTTY:  isTTY(os.Stdin),
		outTTY: isTTY(os.Stdout),
		errTTY: isTTY(os.Stderr),
	}
}

func isTTY(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], osStdio())
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, sio stdio) int {
	cmd := newRootCommand(sio)
	cmd.SetArgs(args)
	cmd.SetIn(sio.in)
	cmd.SetOut(sio.out)
	cmd.SetErr(sio.err)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(sio.err, ee.err)
		}
		if ee.code == exitUsage {
			fmt.Fprintln(sio.err, "使用 \"bookconv --help\" 查看用法。")
		}
		return ee.code
	}
	fmt.Fprintln(sio.err, err)
	return exitFailed
}
