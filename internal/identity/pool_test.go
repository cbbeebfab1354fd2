package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"lawcrawler/internal/identity/model"
	"lawcrawler/internal/shared/types"
)

func testPoolConf() types.PoolConf {
	return types.PoolConf{
		RotationEnabled:    true,
		PreferPaid:         true,
		FreeDeathThreshold: 5,
		PaidDeathThreshold: 10,
		CooldownSec:        300,
		SweepIntervalMin:   30,
		AliveFloor:         3,
		CheckConcurrency:   5,
		CheckTimeoutSec:    10,
	}
}

func newTestIdentity(id string, tier model.Tier) *model.NetworkIdentity {
	return &model.NetworkIdentity{
		ID:       id,
		Kind:     model.KindProxied,
		Tier:     tier,
		Address:  "10.0.0.1",
		Port:     1080,
		Protocol: "socks5",
		Source:   "config",
		Alive:    true,
	}
}

// mockChecker 记录调用次数并判定所有身份存活。
type mockChecker struct {
	mu    sync.Mutex
	calls int
}

func (m *mockChecker) Check(_ context.Context, identities []*model.NetworkIdentity) []model.ProbeResult {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	results := make([]model.ProbeResult, 0, len(identities))
	for _, ident := range identities {
		results = append(results, model.ProbeResult{ID: ident.ID, OK: true, Latency: 40 * time.Millisecond})
	}
	return results
}

func (m *mockChecker) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockStorage 是内存中的 Storage 实现。
type mockStorage struct {
	saved map[string]*model.NetworkIdentity
}

func (m *mockStorage) Load() (map[string]*model.NetworkIdentity, error) {
	if m.saved == nil {
		return map[string]*model.NetworkIdentity{}, nil
	}
	return m.saved, nil
}

func (m *mockStorage) Save(identities map[string]*model.NetworkIdentity) error {
	m.saved = identities
	return nil
}

func TestAcquireEmptyPool(t *testing.T) {
	p := NewPool(testPoolConf(), &mockChecker{}, nil)
	if got := p.Acquire(true); got != nil {
		t.Fatalf("empty pool returned %v, want nil", got)
	}
}

func TestAcquireTierPreference(t *testing.T) {
	p := NewPool(testPoolConf(), &mockChecker{}, nil)
	p.AddTrusted([]*model.NetworkIdentity{
		newTestIdentity("paid-1", model.TierPaid),
		newTestIdentity("free-1", model.TierFree),
	})

	if got := p.Acquire(true); got == nil || got.Tier != model.TierPaid {
		t.Errorf("Acquire(preferPaid) = %v, want the paid identity", got)
	}
	if got := p.Acquire(false); got == nil || got.Tier != model.TierFree {
		t.Errorf("Acquire(!preferPaid) = %v, want the free identity", got)
	}
}

// 层级只是优先级，不是硬隔离：请求的层级为空时落到另一层。
func TestAcquireTierFallback(t *testing.T) {
	p := NewPool(testPoolConf(), &mockChecker{}, nil)
	p.AddTrusted([]*model.NetworkIdentity{newTestIdentity("paid-1", model.TierPaid)})

	if got := p.Acquire(false); got == nil || got.ID != "paid-1" {
		t.Errorf("Acquire(!preferPaid) with empty free tier = %v, want paid-1", got)
	}
}

// 付费身份的淘汰阈值比免费身份宽容：相同的失败次数下免费先死。
func TestDeathThresholdAsymmetry(t *testing.T) {
	p := NewPool(testPoolConf(), &mockChecker{}, nil)
	free := newTestIdentity("free-1", model.TierFree)
	paid := newTestIdentity("paid-1", model.TierPaid)
	p.AddTrusted([]*model.NetworkIdentity{free, paid})

	for i := 0; i < 6; i++ {
		p.ReportFailure(free)
		p.ReportFailure(paid)
	}
	if free.Alive {
		t.Error("free identity alive after exceeding its death threshold")
	}
	if !paid.Alive {
		t.Error("paid identity died below its death threshold")
	}
	if !free.InCooldown(time.Now()) {
		t.Error("dead identity has no cooldown window")
	}

	for i := 0; i < 5; i++ {
		p.ReportFailure(paid)
	}
	if paid.Alive {
		t.Error("paid identity alive after exceeding its death threshold")
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	p := NewPool(testPoolConf(), &mockChecker{}, nil)
	ident := newTestIdentity("free-1", model.TierFree)
	p.AddTrusted([]*model.NetworkIdentity{ident})

	for i := 0; i < 4; i++ {
		p.ReportFailure(ident)
	}
	p.ReportSuccess(ident, 80*time.Millisecond)
	if ident.FailureCount != 0 {
		t.Errorf("failure streak = %d after success, want 0", ident.FailureCount)
	}
	if ident.Latency != 80*time.Millisecond {
		t.Errorf("latency = %v, want 80ms", ident.Latency)
	}

	// 此前的 4 次失败已被成功打断，再失败 5 次仍未越过阈值
	for i := 0; i < 5; i++ {
		p.ReportFailure(ident)
	}
	if !ident.Alive {
		t.Error("identity died even though the streak was reset")
	}
}

func TestQuarantineExcludesIdentity(t *testing.T) {
	p := NewPool(testPoolConf(), &mockChecker{}, nil)
	ident := newTestIdentity("paid-1", model.TierPaid)
	p.AddTrusted([]*model.NetworkIdentity{ident})

	p.Quarantine(ident)
	if got := p.Acquire(true); got != nil {
		t.Errorf("quarantined identity still acquirable: %v", got)
	}
	if p.AliveCount() != 0 {
		t.Errorf("alive count = %d, want 0 during cooldown", p.AliveCount())
	}
	if ident.Alive != true {
		t.Error("quarantine should cool down, not kill")
	}
}

// 轮换开启时连续获取应在候选间推进，而不是反复命中同一个身份。
func TestRotationCyclesIdentities(t *testing.T) {
	p := NewPool(testPoolConf(), &mockChecker{}, nil)
	a := newTestIdentity("free-a", model.TierFree)
	a.SuccessCount = 9
	a.FailureCount = 1
	b := newTestIdentity("free-b", model.TierFree)
	b.SuccessCount = 5
	b.FailureCount = 5
	c := newTestIdentity("free-c", model.TierFree)
	c.SuccessCount = 1
	c.FailureCount = 9
	p.AddTrusted([]*model.NetworkIdentity{a, b, c})

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		got := p.Acquire(false)
		if got == nil {
			t.Fatal("pool returned nil with three alive identities")
		}
		seen[got.ID] = true
	}
	if len(seen) != 3 {
		t.Errorf("three acquisitions hit %d distinct identities, want 3: %v", len(seen), seen)
	}
}

// 发现源身份以死亡状态入池，通过健康检查前不可被选择。
func TestUntrustedEnterDead(t *testing.T) {
	p := NewPool(testPoolConf(), &mockChecker{}, nil)
	added := p.AddUntrusted([]*model.NetworkIdentity{
		newTestIdentity("feed-1", model.TierFree),
		newTestIdentity("feed-2", model.TierFree),
	})
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}
	if got := p.Acquire(false); got != nil {
		t.Errorf("unchecked feed identity acquirable: %v", got)
	}

	// 重复入池被拒绝
	again := p.AddUntrusted([]*model.NetworkIdentity{newTestIdentity("feed-1", model.TierFree)})
	if again != 0 {
		t.Errorf("duplicate add = %d, want 0", again)
	}
}

func TestRefreshIfStaleRunsSweep(t *testing.T) {
	checker := &mockChecker{}
	p := NewPool(testPoolConf(), checker, nil)
	p.AddUntrusted([]*model.NetworkIdentity{
		newTestIdentity("feed-1", model.TierFree),
		newTestIdentity("feed-2", model.TierFree),
		newTestIdentity("feed-3", model.TierFree),
	})

	// 存活数低于下限 → 触发健康检查，检查后身份复活
	p.RefreshIfStale(context.Background())
	if checker.callCount() != 1 {
		t.Fatalf("checker calls = %d, want 1", checker.callCount())
	}
	if p.AliveCount() != 3 {
		t.Errorf("alive count after sweep = %d, want 3", p.AliveCount())
	}

	// 既不过期也不饥饿 → 不重复触发
	p.RefreshIfStale(context.Background())
	if checker.callCount() != 1 {
		t.Errorf("checker calls = %d after fresh sweep, want still 1", checker.callCount())
	}
}

// 采集路径的后台复检：饥饿的池在不阻塞调用方的前提下被扫活。
func TestRefreshInBackgroundTriggersSweep(t *testing.T) {
	checker := &mockChecker{}
	p := NewPool(testPoolConf(), checker, nil)
	p.AddUntrusted([]*model.NetworkIdentity{
		newTestIdentity("feed-1", model.TierFree),
		newTestIdentity("feed-2", model.TierFree),
	})

	p.RefreshInBackground(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for checker.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("background sweep never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
	for p.AliveCount() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("alive count = %d after background sweep, want 2", p.AliveCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRefreshWithoutCheckerIsNoop(t *testing.T) {
	p := NewPool(testPoolConf(), nil, nil)
	p.RefreshInBackground(context.Background())
	p.RefreshIfStale(context.Background())
}

// failingChecker 判定所有身份失活。
type failingChecker struct{}

func (failingChecker) Check(_ context.Context, identities []*model.NetworkIdentity) []model.ProbeResult {
	results := make([]model.ProbeResult, 0, len(identities))
	for _, ident := range identities {
		results = append(results, model.ProbeResult{ID: ident.ID})
	}
	return results
}

// 判定的回写发生在池侧：未通过检查的身份死亡、失败数累加、延迟清零。
func TestSweepAppliesProbeResults(t *testing.T) {
	p := NewPool(testPoolConf(), failingChecker{}, nil)
	ident := newTestIdentity("paid-1", model.TierPaid)
	ident.Latency = 80 * time.Millisecond
	p.AddTrusted([]*model.NetworkIdentity{ident})

	p.RefreshIfStale(context.Background())

	if ident.Alive {
		t.Error("identity alive after failed sweep")
	}
	if ident.FailureCount != 1 {
		t.Errorf("failure count = %d, want 1", ident.FailureCount)
	}
	if ident.Latency != 0 {
		t.Errorf("latency = %v after failed sweep, want 0", ident.Latency)
	}
	if ident.LastCheckedAt.IsZero() {
		t.Error("last checked timestamp not updated")
	}
}

func TestPersistRoundTrip(t *testing.T) {
	store := &mockStorage{}
	p := NewPool(testPoolConf(), &mockChecker{}, store)
	ident := newTestIdentity("paid-1", model.TierPaid)
	ident.SuccessCount = 7
	p.AddTrusted([]*model.NetworkIdentity{ident})

	if err := p.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	p2 := NewPool(testPoolConf(), &mockChecker{}, store)
	if err := p2.LoadPersisted(); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	restored := p2.Snapshot()
	if len(restored) != 1 {
		t.Fatalf("restored %d identities, want 1", len(restored))
	}
	if restored[0].ID != "paid-1" || restored[0].SuccessCount != 7 {
		t.Errorf("restored identity = %+v, want paid-1 with 7 successes", restored[0])
	}
}

// 直连身份与 nil 上报必须是安全的空操作。
func TestReportIgnoresDirectAndNil(t *testing.T) {
	p := NewPool(testPoolConf(), &mockChecker{}, nil)
	direct := model.Direct()

	p.ReportSuccess(nil, 0)
	p.ReportFailure(nil)
	p.Quarantine(nil)
	for i := 0; i < 20; i++ {
		p.ReportFailure(direct)
	}
	if !direct.Alive {
		t.Error("direct identity must never die")
	}
}

func TestFromProfiles(t *testing.T) {
	profiles := []*types.IdentityProfile{
		{Address: "1.2.3.4", Port: 8080, Protocol: "http", Tier: "paid", Username: "u", Password: "p"},
		{ID: "custom", Address: "5.6.7.8", Port: 1080, Protocol: "socks5"},
	}
	identities := FromProfiles(profiles)
	if len(identities) != 2 {
		t.Fatalf("got %d identities, want 2", len(identities))
	}
	if identities[0].ID != "1.2.3.4:8080-H" {
		t.Errorf("derived ID = %q, want 1.2.3.4:8080-H", identities[0].ID)
	}
	if identities[0].Tier != model.TierPaid {
		t.Errorf("tier = %s, want paid", identities[0].Tier)
	}
	if identities[1].ID != "custom" {
		t.Errorf("explicit ID = %q, want custom", identities[1].ID)
	}
	if identities[1].Tier != model.TierFree {
		t.Errorf("default tier = %s, want free", identities[1].Tier)
	}
}
