package port

import "time"

// Sink 周期报告输出
type Sink interface {
	// WriteReport 输出一份多行状态报告（费率表、持仓、盈亏统计）
	WriteReport(ts time.Time, report string) error
}
