package provisioning

import (
	"context"
	"sync"
	"time"
)

// MemoryCodes is a CodeStore for players running without redis.
type MemoryCodes struct {
	mu    sync.Mutex
	codes map[string]memoryCode
	now   func() time.Time
}

type memoryCode struct {
	deviceCode string
	expiresAt  time.Time
}

func NewMemoryCodes() *MemoryCodes {
	return &MemoryCodes{codes: map[string]memoryCode{}, now: time.Now}
}

func (m *MemoryCodes) Put(_ context.Context, code, deviceCode string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if c, ok := m.codes[code]; ok && now.Before(c.expiresAt) {
		return false, nil
	}
	m.codes[code] = memoryCode{deviceCode: deviceCode, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryCodes) Take(_ context.Context, code string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	delete(m.codes, code)
	if !ok || !m.now().Before(c.expiresAt) {
		return "", false, nil
	}
	return c.deviceCode, true, nil
}
