package crawler

import (
	"context"
	"errors"

	"lawcrawler/internal/match"
	"lawcrawler/internal/shared/types"
)

// 策略返回的哨兵错误。编排器据此区分“换下一个策略”、“换身份重试”
// 和“升级到更重的策略”。
var (
	// ErrNoMatch 表示策略正常工作但没有找到目标文档。
	ErrNoMatch = errors.New("no candidate matched the target")

	// ErrNoIdentity 表示池中无可用身份且该策略不允许直连。
	ErrNoIdentity = errors.New("no usable network identity")

	// ErrBanSignal 表示当前出口已被目标站点识破。编排器收到后跳过
	// 同级策略，直接升级到下一个会话型策略。
	ErrBanSignal = errors.New("ban signal from target site")
)

// Strategy 是一种文档获取手段。实现必须是无状态的或内部自行加锁，
// 同一个实例会被批量采集的多个 goroutine 共享。
type Strategy interface {
	// Name 返回策略的注册名，用于配置排序和结果归因。
	Name() string

	// Search 用目标名称检索候选文档列表。空列表配 ErrNoMatch。
	Search(ctx context.Context, keyword string) ([]match.Candidate, error)

	// FetchDetail 拉取已选定候选的完整文档。
	FetchDetail(ctx context.Context, cand *match.Candidate) (*types.Record, error)
}

// SessionStrategy 是带会话生命周期的策略（浏览器驱动等）。
// 编排器保证 OpenSession 与 CloseSession 成对调用，并在使用次数
// 达到上限后重启会话。
type SessionStrategy interface {
	Strategy

	// OpenSession 建立会话。失败时该策略在本轮被跳过。
	OpenSession(ctx context.Context) error

	// CloseSession 释放会话资源。对未打开的会话调用是安全的空操作。
	CloseSession()
}
