package crawler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lawcrawler/internal/detect"
	"lawcrawler/internal/match"
	"lawcrawler/internal/shared/logger"
	"lawcrawler/internal/shared/types"
)

// Engine 是多策略采集的编排器。策略按配置的优先级排序，逐层降级:
// 一个目标只要被任一策略解决就不再参与后续层级。
type Engine struct {
	cfg      types.CrawlerConf
	analyzer *detect.Analyzer
	resolver *match.Resolver

	strategies []Strategy
}

// NewEngine 按配置的顺序装配策略链。配置中未注册的名字记告警后忽略，
// 被禁用的策略不进入链。
func NewEngine(cfg types.CrawlerConf, analyzer *detect.Analyzer, resolver *match.Resolver, registered []Strategy) (*Engine, error) {
	l := logger.WithComponent("Crawler/Engine")

	byName := make(map[string]Strategy, len(registered))
	for _, s := range registered {
		byName[s.Name()] = s
	}

	disabled := make(map[string]bool)
	for _, name := range splitList(cfg.DisabledStrategies) {
		disabled[name] = true
	}

	var ordered []Strategy
	for _, name := range splitList(cfg.StrategyOrder) {
		if disabled[name] {
			l.Info().Str("strategy", name).Msg("Strategy disabled by configuration.")
			continue
		}
		s, ok := byName[name]
		if !ok {
			l.Warn().Str("strategy", name).Msg("Unknown strategy in strategy_order, ignoring.")
			continue
		}
		ordered = append(ordered, s)
	}
	if len(ordered) == 0 {
		return nil, errors.New("strategy chain is empty after applying configuration")
	}

	names := make([]string, 0, len(ordered))
	for _, s := range ordered {
		names = append(names, s.Name())
	}
	l.Info().Str("chain", strings.Join(names, " -> ")).Msg("Strategy chain assembled.")

	return &Engine{
		cfg:        cfg,
		analyzer:   analyzer,
		resolver:   resolver,
		strategies: ordered,
	}, nil
}

// AcquireOne 采集单个目标。
func (e *Engine) AcquireOne(ctx context.Context, targetName string) *types.AcquisitionResult {
	results := e.AcquireBatch(ctx, []string{targetName})
	if len(results) == 0 {
		// 空白目标名在批处理入口就被剔除了
		return &types.AcquisitionResult{
			ID:         uuid.New().String(),
			TargetName: targetName,
			Found:      false,
			Err:        "empty target name",
		}
	}
	return results[0]
}

// AcquireBatch 按策略层级分阶段采集一批目标。每个阶段内，尚未解决的
// 目标用当前策略并发处理；阶段结束后剩余目标进入下一层级。
// 每个目标恰好产出一个结果，未找到也有带错误信息的结果。
func (e *Engine) AcquireBatch(ctx context.Context, targets []string) []*types.AcquisitionResult {
	l := logger.WithComponent("Crawler/Engine")
	started := make(map[string]time.Time, len(targets))
	results := make(map[string]*types.AcquisitionResult, len(targets))
	lastErrs := make(map[string]error, len(targets))

	pending := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := started[t]; dup {
			continue
		}
		started[t] = time.Now()
		pending = append(pending, t)
	}

	// 封禁升级标志：升级后跳过非会话策略，直到会话型策略接手
	escalated := false

	for i, strat := range e.strategies {
		if len(pending) == 0 {
			break
		}
		if _, isSession := strat.(SessionStrategy); escalated && !isSession {
			if e.sessionAhead(i + 1) {
				l.Info().Str("strategy", strat.Name()).Msg("Skipping strategy after ban escalation.")
				continue
			}
			// 链上已无会话型策略可接手，只能继续线性降级
			l.Warn().Str("strategy", strat.Name()).Msg("No session strategy left to escalate to, continuing chain.")
			escalated = false
		}

		l.Info().
			Str("strategy", strat.Name()).
			Int("pending", len(pending)).
			Msg("Starting acquisition phase.")

		var solved map[string]*types.Record
		var banned bool
		if session, ok := strat.(SessionStrategy); ok {
			solved, banned = e.runSessionPhase(ctx, session, pending, lastErrs)
			escalated = false
		} else {
			solved, banned = e.runPhase(ctx, strat, pending, lastErrs)
		}
		if banned {
			escalated = true
		}

		var remaining []string
		for _, t := range pending {
			rec, ok := solved[t]
			if !ok {
				remaining = append(remaining, t)
				continue
			}
			results[t] = &types.AcquisitionResult{
				ID:           uuid.New().String(),
				TargetName:   t,
				Found:        true,
				Record:       rec,
				StrategyUsed: strat.Name(),
				Elapsed:      time.Since(started[t]),
			}
		}
		pending = remaining
	}

	for _, t := range pending {
		errMsg := "all strategies exhausted"
		if err := lastErrs[t]; err != nil {
			errMsg = err.Error()
		}
		results[t] = &types.AcquisitionResult{
			ID:         uuid.New().String(),
			TargetName: t,
			Found:      false,
			Elapsed:    time.Since(started[t]),
			Err:        errMsg,
		}
	}

	ordered := make([]*types.AcquisitionResult, 0, len(results))
	for _, t := range targets {
		if res, ok := results[strings.TrimSpace(t)]; ok {
			ordered = append(ordered, res)
			delete(results, strings.TrimSpace(t))
		}
	}

	found := 0
	for _, res := range ordered {
		if res.Found {
			found++
		}
	}
	l.Info().Int("targets", len(ordered)).Int("found", found).Msg("Batch finished.")
	return ordered
}

// sessionAhead 报告链上从 from 起是否还有会话型策略。
func (e *Engine) sessionAhead(from int) bool {
	for _, s := range e.strategies[from:] {
		if _, ok := s.(SessionStrategy); ok {
			return true
		}
	}
	return false
}

// runPhase 用无会话策略并发处理目标，并发度由配置限制。
// 出现封禁信号后不再派发新目标，阶段提前收尾。
func (e *Engine) runPhase(ctx context.Context, strat Strategy, targets []string, lastErrs map[string]error) (map[string]*types.Record, bool) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		solved = make(map[string]*types.Record)
		banned bool
	)
	semaphore := make(chan struct{}, e.cfg.ConcurrencyLimit)

	for _, target := range targets {
		mu.Lock()
		aborted := banned
		mu.Unlock()
		if aborted || ctx.Err() != nil {
			break
		}

		wg.Add(1)
		semaphore <- struct{}{}
		go func(target string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			rec, err := e.attemptTarget(ctx, strat, target)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErrs[target] = err
				if errors.Is(err, ErrBanSignal) {
					banned = true
				}
				return
			}
			solved[target] = rec
		}(target)
	}

	wg.Wait()
	return solved, banned
}

// runSessionPhase 用会话型策略顺序处理目标：会话不可并发复用。
// 使用次数到达上限后重启会话，阶段结束时保证关闭。
func (e *Engine) runSessionPhase(ctx context.Context, strat SessionStrategy, targets []string, lastErrs map[string]error) (map[string]*types.Record, bool) {
	l := logger.WithComponent("Crawler/Engine")
	solved := make(map[string]*types.Record)

	if err := strat.OpenSession(ctx); err != nil {
		l.Error().Str("strategy", strat.Name()).Err(err).Msg("Failed to open session, skipping phase.")
		for _, t := range targets {
			lastErrs[t] = err
		}
		return solved, false
	}
	defer strat.CloseSession()

	uses := 0
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		if uses >= e.cfg.SessionMaxUses {
			l.Info().Str("strategy", strat.Name()).Int("uses", uses).Msg("Session use limit reached, restarting session.")
			strat.CloseSession()
			if err := strat.OpenSession(ctx); err != nil {
				l.Error().Str("strategy", strat.Name()).Err(err).Msg("Session restart failed, aborting phase.")
				lastErrs[target] = err
				return solved, false
			}
			uses = 0
		}

		rec, err := e.attemptTarget(ctx, strat, target)
		uses++
		if err != nil {
			lastErrs[target] = err
			if errors.Is(err, ErrBanSignal) {
				return solved, true
			}
			continue
		}
		solved[target] = rec
	}
	return solved, false
}

// attemptTarget 在单个策略内完成一个目标：关键词变体逐个检索，解析出
// 胜出候选后拉取全文。失败按配置的次数重试，重试间施加自适应延迟。
func (e *Engine) attemptTarget(ctx context.Context, strat Strategy, targetName string) (*types.Record, error) {
	targetCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.TargetTimeoutSec)*time.Second)
	defer cancel()

	l := logger.WithComponent("Crawler/Engine")
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-targetCtx.Done():
				return nil, joinErr(lastErr, targetCtx.Err())
			case <-time.After(e.analyzer.AdaptiveDelay(detect.OpRetry)):
			}
		}

		rec, err := e.attemptOnce(targetCtx, strat, targetName)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrBanSignal) {
			return nil, err
		}
		lastErr = err
		if errors.Is(err, ErrNoMatch) {
			// 检索正常但无命中：重试不会改变结果
			break
		}
		l.Debug().
			Str("target", targetName).
			Str("strategy", strat.Name()).
			Int("attempt", attempt).
			Err(err).
			Msg("Attempt failed.")
	}
	return nil, lastErr
}

func (e *Engine) attemptOnce(ctx context.Context, strat Strategy, targetName string) (*types.Record, error) {
	var lastErr error = ErrNoMatch

	for _, keyword := range searchVariants(targetName) {
		candidates, err := strat.Search(ctx, keyword)
		if err != nil {
			if errors.Is(err, ErrBanSignal) {
				return nil, err
			}
			if errors.Is(err, ErrNoMatch) {
				continue
			}
			return nil, err
		}

		// 永远用原始目标名解析，关键词变体只影响检索召回
		winner := e.resolver.Resolve(targetName, candidates)
		if winner == nil {
			continue
		}

		rec, err := strat.FetchDetail(ctx, winner)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, lastErr
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinErr(primary, secondary error) error {
	if primary == nil {
		return secondary
	}
	return primary
}
