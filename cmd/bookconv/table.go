package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/John-Robertt/bookconv/internal/domain"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderSummaryTable 把 RunReport 渲染为终端表格（每个输入文件一行，按输入顺序）。
func renderSummaryTable(rr domain.RunReport) string {
	headers := []string{"#", "状态", "源文件", "输出", "页数", "大小", "说明"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(rr.Items))
	for _, it := range rr.Items {
		rows = append(rows, summaryRow(it))
	}
	return renderTable(headers, rows, aligns)
}

func summaryRow(it domain.FileResult) []string {
	idx := strconv.Itoa(it.Index + 1)
	src := truncate(filepath.Base(it.Src), 48)

	if it.Status == domain.StatusFailed {
		return []string{idx, "FAIL", src, "-", "-", "-", truncate(it.ErrorCode+": "+it.ErrorMsg, 80)}
	}

	note := ""
	if n := len(it.Warnings); n > 0 {
		note = fmt.Sprintf("跳过 %d 个条目（首个：%s %s）", n, it.Warnings[0].Code, truncate(it.Warnings[0].Entry, 40))
	}
	return []string{
		idx,
		"OK",
		src,
		truncate(filepath.Base(it.Dst), 48),
		strconv.Itoa(it.Entries.Written()),
		humanize.Bytes(uint64(it.OutBytes)),
		note,
	}
}
