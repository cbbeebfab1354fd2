package identity

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"lawcrawler/internal/identity/model"
	"lawcrawler/internal/shared/logger"
	"lawcrawler/internal/shared/types"
)

// HealthChecker 对一批身份执行健康检查并返回逐个身份的判定。
// 实现不得回写身份状态，回写由池在锁下完成。
type HealthChecker interface {
	Check(ctx context.Context, identities []*model.NetworkIdentity) []model.ProbeResult
}

// Storage 接口定义了身份数据持久化的行为。
type Storage interface {
	Load() (map[string]*model.NetworkIdentity, error)
	Save(identities map[string]*model.NetworkIdentity) error
}

// Pool 是身份池模块的总控制器。所有选择、上报和刷新操作都在内部互斥锁
// 保护下进行，供批量采集的并发调用方共享。
type Pool struct {
	cfg     types.PoolConf
	checker HealthChecker
	storage Storage

	mu         sync.Mutex
	identities map[string]*model.NetworkIdentity
	paidCursor int
	freeCursor int
	lastSweep  time.Time
	sweeping   bool

	rng *rand.Rand
}

// NewPool 创建并初始化身份池。storage 可以为 nil（不持久化）。
func NewPool(cfg types.PoolConf, checker HealthChecker, storage Storage) *Pool {
	return &Pool{
		cfg:        cfg,
		checker:    checker,
		storage:    storage,
		identities: make(map[string]*model.NetworkIdentity),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// LoadPersisted 从存储加载身份到内存。
func (p *Pool) LoadPersisted() error {
	if p.storage == nil {
		return nil
	}
	loaded, err := p.storage.Load()
	if err != nil {
		return err
	}
	p.mu.Lock()
	for id, ident := range loaded {
		p.identities[id] = ident
	}
	p.mu.Unlock()
	return nil
}

// Persist 将内存中的身份保存到存储。
func (p *Pool) Persist() error {
	if p.storage == nil {
		return nil
	}
	p.mu.Lock()
	snapshot := make(map[string]*model.NetworkIdentity, len(p.identities))
	for id, ident := range p.identities {
		copied := *ident
		snapshot[id] = &copied
	}
	p.mu.Unlock()
	return p.storage.Save(snapshot)
}

// AddTrusted 添加已配置的身份（identities.json 中的付费代理等），
// 立即可被选择。
func (p *Pool) AddTrusted(identities []*model.NetworkIdentity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ident := range identities {
		ident.Alive = true
		p.identities[ident.ID] = ident
	}
}

// AddUntrusted 添加来自发现源的身份。它们以死亡状态入池，
// 只有健康检查通过后才会被选择。
func (p *Pool) AddUntrusted(identities []*model.NetworkIdentity) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, ident := range identities {
		if _, exists := p.identities[ident.ID]; exists {
			continue
		}
		ident.Alive = false
		p.identities[ident.ID] = ident
		added++
	}
	return added
}

// Acquire 按层级优先策略选择一个身份。返回 nil 表示池中无可用身份，
// 调用方必须降级为直连而不是让整个系统失败。
//
// 选择顺序: preferPaid 时先付费后免费；否则先免费，付费作为最后的兜底。
func (p *Pool) Acquire(preferPaid bool) *model.NetworkIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var paid, free []*model.NetworkIdentity
	for _, ident := range p.identities {
		if !ident.Alive || ident.InCooldown(now) {
			continue
		}
		if ident.Tier == model.TierPaid {
			paid = append(paid, ident)
		} else {
			free = append(free, ident)
		}
	}

	if preferPaid {
		if ident := p.selectFrom(paid, &p.paidCursor); ident != nil {
			return ident
		}
		return p.selectFrom(free, &p.freeCursor)
	}

	if ident := p.selectFrom(free, &p.freeCursor); ident != nil {
		return ident
	}
	// 最后的兜底：即使未要求付费，也好过无身份可用。
	return p.selectFrom(paid, &p.paidCursor)
}

// selectFrom 必须在锁保护下调用。
func (p *Pool) selectFrom(candidates []*model.NetworkIdentity, cursor *int) *model.NetworkIdentity {
	if len(candidates) == 0 {
		return nil
	}

	if !p.cfg.RotationEnabled {
		return candidates[p.rng.Intn(len(candidates))]
	}

	// 轮换策略：按成功率降序、延迟升序排序后推进游标。
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].SuccessRate(), candidates[j].SuccessRate()
		if ri != rj {
			return ri > rj
		}
		return candidates[i].Latency < candidates[j].Latency
	})
	*cursor = (*cursor + 1) % len(candidates)
	ident := candidates[*cursor]
	ident.LastUsedAt = time.Now()
	return ident
}

// ReportSuccess 上报一次成功使用。
func (p *Pool) ReportSuccess(ident *model.NetworkIdentity, latency time.Duration) {
	if ident == nil || ident.Kind == model.KindDirect {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ident.MarkSuccess(latency)
}

// ReportFailure 上报一次失败使用。越过层级阈值后身份死亡并进入冷却期。
func (p *Pool) ReportFailure(ident *model.NetworkIdentity) {
	if ident == nil || ident.Kind == model.KindDirect {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := p.cfg.FreeDeathThreshold
	if ident.Tier == model.TierPaid {
		threshold = p.cfg.PaidDeathThreshold
	}
	wasAlive := ident.Alive
	ident.MarkFailure(threshold, time.Duration(p.cfg.CooldownSec)*time.Second)
	if wasAlive && !ident.Alive {
		l := logger.WithComponent("IdentityPool")
		l.Info().
			Str("identity", ident.ID).
			Int("failures", ident.FailureCount).
			Msg("Identity marked dead, entering cooldown.")
	}
}

// Quarantine 立即将身份投入冷却期（WAF/封禁信号的处理路径），
// 不等待失败计数越过阈值。
func (p *Pool) Quarantine(ident *model.NetworkIdentity) {
	if ident == nil || ident.Kind == model.KindDirect {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ident.CooldownUntil = time.Now().Add(time.Duration(p.cfg.CooldownSec) * time.Second)
	l := logger.WithComponent("IdentityPool")
	l.Warn().
		Str("identity", ident.ID).
		Msg("Identity quarantined after ban signal.")
}

// RefreshIfStale 在距上次全量健康检查超过配置间隔、或存活身份数低于
// 下限时，触发一次有界并发的健康检查。重入调用在检查进行期间直接返回。
func (p *Pool) RefreshIfStale(ctx context.Context) {
	if p.checker == nil {
		return
	}
	p.mu.Lock()
	stale := time.Since(p.lastSweep) > time.Duration(p.cfg.SweepIntervalMin)*time.Minute
	starved := p.aliveCountLocked() < p.cfg.AliveFloor
	if p.sweeping || (!stale && !starved) {
		p.mu.Unlock()
		return
	}
	p.sweeping = true
	all := make([]*model.NetworkIdentity, 0, len(p.identities))
	for _, ident := range p.identities {
		all = append(all, ident)
	}
	p.mu.Unlock()

	results := p.checker.Check(ctx, all)

	p.mu.Lock()
	p.applyProbeResultsLocked(results)
	p.lastSweep = time.Now()
	p.sweeping = false
	alive := p.aliveCountLocked()
	p.mu.Unlock()

	l := logger.WithComponent("IdentityPool")
	l.Info().
		Int("checked", len(all)).
		Int("alive", alive).
		Msg("Health sweep finished.")
}

// RefreshInBackground 供采集路径在每次取身份前消费：需要扫描时在后台
// 启动，绝不阻塞调用方。重入由 RefreshIfStale 的 sweeping 标志挡住。
func (p *Pool) RefreshInBackground(ctx context.Context) {
	if p.checker == nil {
		return
	}
	p.mu.Lock()
	stale := time.Since(p.lastSweep) > time.Duration(p.cfg.SweepIntervalMin)*time.Minute
	// 饥饿复检也不必每个请求都来一轮
	starved := p.aliveCountLocked() < p.cfg.AliveFloor &&
		time.Since(p.lastSweep) > time.Minute
	needed := !p.sweeping && (stale || starved)
	p.mu.Unlock()

	if !needed {
		return
	}
	// 请求级 ctx 的取消不该把扫描中途打断成一片假失败
	go p.RefreshIfStale(context.WithoutCancel(ctx))
}

// applyProbeResultsLocked 必须在锁保护下调用。通过检查的身份复活并
// 清空冷却期；未通过的死亡待下轮复检。
func (p *Pool) applyProbeResultsLocked(results []model.ProbeResult) {
	now := time.Now()
	for _, r := range results {
		ident, ok := p.identities[r.ID]
		if !ok {
			continue
		}
		ident.LastCheckedAt = now
		if r.OK {
			ident.FailureCount = 0
			ident.SuccessCount++
			ident.Latency = r.Latency
			ident.Alive = true
			ident.CooldownUntil = time.Time{}
		} else {
			ident.FailureCount++
			ident.Alive = false
			ident.Latency = 0
		}
	}
}

// AliveCount 返回当前存活且不在冷却期的身份数。
func (p *Pool) AliveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aliveCountLocked()
}

func (p *Pool) aliveCountLocked() int {
	now := time.Now()
	count := 0
	for _, ident := range p.identities {
		if ident.Alive && !ident.InCooldown(now) {
			count++
		}
	}
	return count
}

// Snapshot returns a copy of all identities, dead ones included, sorted by
// last check time. Used for diagnostics output.
func (p *Pool) Snapshot() []*model.NetworkIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := make([]*model.NetworkIdentity, 0, len(p.identities))
	for _, ident := range p.identities {
		copied := *ident
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastCheckedAt.After(all[j].LastCheckedAt)
	})
	return all
}

// FromProfiles 将配置文件中的身份描述转换为池身份。
func FromProfiles(profiles []*types.IdentityProfile) []*model.NetworkIdentity {
	identities := make([]*model.NetworkIdentity, 0, len(profiles))
	for _, prof := range profiles {
		tier := model.TierFree
		if prof.Tier == "paid" {
			tier = model.TierPaid
		}
		id := prof.ID
		if id == "" {
			id = poolID(prof.Address, prof.Port, prof.Protocol)
		}
		identities = append(identities, &model.NetworkIdentity{
			ID:       id,
			Kind:     model.KindProxied,
			Tier:     tier,
			Address:  prof.Address,
			Port:     prof.Port,
			Protocol: prof.Protocol,
			Username: prof.Username,
			Password: prof.Password,
			Source:   "config",
		})
	}
	return identities
}
