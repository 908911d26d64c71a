package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// RunReport 是对外稳定输出（stdout JSON / --report 文件）的结构。
type RunReport struct {
	RunID string `json:"run_id" yaml:"run_id"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	Summary ReportSummary `json:"summary" yaml:"summary"`
	Items   []FileResult  `json:"items" yaml:"items"`
}

type ReportSummary struct {
	Total     int `json:"total" yaml:"total"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	Warnings  int `json:"warnings" yaml:"warnings"`
}

// FileResult 是单个输入文件的转换结果。
type FileResult struct {
	Index int    `json:"index" yaml:"index"`
	Src   string `json:"src" yaml:"src"`
	Dst   string `json:"dst" yaml:"dst"`
	Kind  string `json:"kind" yaml:"kind"`

	Status    string `json:"status" yaml:"status"`
	ErrorCode string `json:"error_code" yaml:"error_code"`
	ErrorMsg  string `json:"error_msg" yaml:"error_msg"`

	Entries  EntryCounts    `json:"entries" yaml:"entries"`
	OutBytes int64          `json:"out_bytes" yaml:"out_bytes"`
	Warnings []EntryWarning `json:"warnings" yaml:"warnings"`
}

type EntryCounts struct {
	Planned    int `json:"planned" yaml:"planned"`
	RawCopied  int `json:"raw_copied" yaml:"raw_copied"`
	Transcoded int `json:"transcoded" yaml:"transcoded"`
	Skipped    int `json:"skipped" yaml:"skipped"`
}

// Written 是实际写入输出归档的条目数。
func (c EntryCounts) Written() int { return c.RawCopied + c.Transcoded }

// EntryWarning 记录被跳过的条目（文件整体仍算成功，只是少了一页）。
type EntryWarning struct {
	Entry string `json:"entry" yaml:"entry"`
	Code  string `json:"code" yaml:"code"`
	Msg   string `json:"msg" yaml:"msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按输入顺序（Index），与完成顺序无关
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool { return r.Items[i].Index < r.Items[j].Index })

	s := ReportSummary{Total: len(r.Items)}
	for i := range r.Items {
		it := &r.Items[i]
		if it.Warnings == nil {
			it.Warnings = []EntryWarning{}
		}
		switch it.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		}
		s.Warnings += len(it.Warnings)
	}
	r.Summary = s
}

// OK 表示整批没有失败文件（决定进程退出码）。
func (r RunReport) OK() bool { return r.Summary.Failed == 0 }

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
