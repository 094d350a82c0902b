package carrier

// RawResult is one of TextBlock, Timeline or TableRow.
type RawResult interface {
	isRawResult()
}

// TextBlock: свободный текст блока деталей (Accert, Jamef).
type TextBlock struct {
	Text string `json:"text"`
}

// TimelineSummary: горизонтальная сводка этапов (Braspress).
type TimelineSummary struct {
	Forecast    string `json:"forecast"`
	Status      string `json:"status"`
	DeliveredAt string `json:"deliveredAt"`
}

type TimelineEntry struct {
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// Timeline: сводка плюс вертикальная детальная лента событий.
type Timeline struct {
	Summary *TimelineSummary `json:"summary,omitempty"`
	Entries []TimelineEntry  `json:"entries"`
}

// TableRow holds the cells of the first result row keyed by column name.
type TableRow struct {
	Columns map[string]string `json:"columns"`
}

func (TextBlock) isRawResult() {}
func (Timeline) isRawResult()  {}
func (TableRow) isRawResult()  {}
