package domain

// Action 是单个条目的处理方式。
type Action string

const (
	ActionRawCopy   Action = "raw_copy"
	ActionTranscode Action = "transcode"
)

// EntryPlan 规划一个条目如何写入输出归档（只描述，不执行）。
//
// 不变量：Target 为 ImageNone 时 Action 必须是 ActionRawCopy。
type EntryPlan struct {
	Entry   ContainerEntry
	Action  Action
	Target  ImageFormat
	OutName string
	Seq     int // EPUB：页序号（0 起）；CBZ/ZIP：-1
}

// FilePlan 是对单个输入文件的最小执行计划。
type FilePlan struct {
	Source  SourceContainer
	OutPath string
	Export  ExportKind
	Entries []EntryPlan
}
