package sink

import "lawcrawler/internal/shared/types"

// Sink 接收采集结果。实现必须容忍并发写入。
type Sink interface {
	// Write 追加一条结果。
	Write(result *types.AcquisitionResult) error

	// Close 落盘并释放资源。
	Close() error
}
