package risk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeProvider returns canned results and counts calls
type fakeProvider struct {
	results  map[string]*ProviderResult
	err      error
	batchErr error
	hang     bool          // CheckIP waits for the context to expire
	gate     chan struct{} // CheckIP waits for the gate to close when set

	calls      atomic.Int32
	batchCalls atomic.Int32
}

func (p *fakeProvider) CheckIP(ctx context.Context, ip string) (*ProviderResult, error) {
	p.calls.Add(1)
	if p.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.gate != nil {
		<-p.gate
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	if res, ok := p.results[ip]; ok {
		cp := *res
		return &cp, nil
	}
	return &ProviderResult{Risk: TierLow, Country: "United States", CountryCode: "US"}, nil
}

func (p *fakeProvider) CheckIPs(ctx context.Context, ips []string) (map[string]*ProviderResult, error) {
	p.batchCalls.Add(1)
	if p.batchErr != nil {
		return nil, p.batchErr
	}
	out := make(map[string]*ProviderResult, len(ips))
	for _, ip := range ips {
		if res, ok := p.results[ip]; ok {
			cp := *res
			out[ip] = &cp
		}
	}
	return out, nil
}

var errStoreDown = errors.New("store unavailable")

// fakeStore is an in-memory HistoryStore for analyzer and engine tests
type fakeStore struct {
	devices   map[string]*DeviceRecord
	behavior  []BehaviorEvent
	locations []LocationRecord
	accesses  []AccessRecord

	readErr     error
	writeErr    error
	panicAccess bool

	locationReads atomic.Int32

	mu     sync.Mutex
	stored []*RiskAssessment
}

func (s *fakeStore) FindDeviceByFingerprint(_ context.Context, id string) (*DeviceRecord, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.devices[id], nil
}

func (s *fakeStore) GetBehaviorHistory(_ context.Context, _ string, limit int) ([]BehaviorEvent, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return head(s.behavior, limit), nil
}

func (s *fakeStore) GetLocationHistory(_ context.Context, _ string, limit int) ([]LocationRecord, error) {
	s.locationReads.Add(1)
	if s.readErr != nil {
		return nil, s.readErr
	}
	return head(s.locations, limit), nil
}

func (s *fakeStore) GetAccessHistory(_ context.Context, _ string, limit int) ([]AccessRecord, error) {
	if s.panicAccess {
		panic("access history corrupted")
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	return head(s.accesses, limit), nil
}

func (s *fakeStore) StoreRiskAssessment(_ context.Context, a *RiskAssessment) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, a)
	return nil
}

func head[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func ptr[T any](v T) *T {
	return &v
}
