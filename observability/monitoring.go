package observability

import "sync"

// DeliverySnapshot is a point-in-time view of the engine's counters.
type DeliverySnapshot struct {
	Delivered    uint64
	Buffered     uint64
	Replayed     uint64
	Errors       uint64
	StaleEvicted uint64
}

// MonitoringManager aggregates delivery counters for the heartbeat
// worker. Counters only ever grow; readers get a copy.
type MonitoringManager struct {
	mu       sync.Mutex
	snapshot DeliverySnapshot
}

func NewMonitoringManager() *MonitoringManager {
	return &MonitoringManager{}
}

func (m *MonitoringManager) MessageDelivered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Delivered++
}

func (m *MonitoringManager) MessageBuffered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Buffered++
}

func (m *MonitoringManager) MessageReplayed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Replayed++
}

func (m *MonitoringManager) ErrorReported() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Errors++
}

func (m *MonitoringManager) SessionEvicted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.StaleEvicted++
}

// GetLatest returns the current counter values.
func (m *MonitoringManager) GetLatest() DeliverySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}
