package feed

import "lawcrawler/internal/identity/model"

// Source 接口定义了从免费身份发现源抓取候选身份的行为。
// 实现者只负责抓取和初步解析，产出的身份一律视为不可信，
// 直到健康检查通过才会被池选择。
type Source interface {
	// Scrape 执行抓取操作，并返回一个 NetworkIdentity 切片。
	Scrape() ([]*model.NetworkIdentity, error)

	// Name 返回发现源的名称，用于日志记录。
	Name() string
}
