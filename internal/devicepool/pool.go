package devicepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/comfygrid/comfygrid/graphapi"
)

// DeviceIDLength is the exact length of a valid device identifier.
const DeviceIDLength = 32

var ErrBadDeviceID = errors.New("device id must be exactly 32 characters")

// Pool is the in-memory registry of live agents.  Matching never holds a
// pool-wide lock across assignment: FindCapable returns a snapshot of
// candidates, and the caller races its claim through the durable store.
type Pool struct {
	offlineAfter time.Duration

	mu     sync.RWMutex
	agents map[string]*ComfyAgent
}

// NewPool creates a pool whose janitor soft-disables agents not seen for
// offlineAfter.
func NewPool(offlineAfter time.Duration) *Pool {
	return &Pool{
		offlineAfter: offlineAfter,
		agents:       make(map[string]*ComfyAgent),
	}
}

// Register adds an agent or refreshes an existing one.  Re-registration of a
// known device replaces its inventory and settings in place, preserving its
// workload markers.
func (p *Pool) Register(deviceID, userID string, inv Inventory, settings Settings) (*ComfyAgent, error) {
	if len(deviceID) != DeviceIDLength {
		return nil, fmt.Errorf("%w: got %d", ErrBadDeviceID, len(deviceID))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.agents[deviceID]; ok {
		existing.setInventory(inv)
		existing.setSettings(settings)
		return existing, nil
	}

	agent := newAgent(deviceID, userID, inv, settings)
	p.agents[deviceID] = agent
	return agent, nil
}

// Get returns the agent for a device id, or nil.
func (p *Pool) Get(deviceID string) *ComfyAgent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.agents[deviceID]
}

// UpdateInventory replaces an agent's reported inventory.
func (p *Pool) UpdateInventory(deviceID string, inv Inventory) error {
	agent := p.Get(deviceID)
	if agent == nil {
		return fmt.Errorf("unknown device %s", deviceID)
	}
	agent.setInventory(inv)
	return nil
}

// UpdateSettings replaces an agent's owner settings.
func (p *Pool) UpdateSettings(deviceID string, s Settings) error {
	agent := p.Get(deviceID)
	if agent == nil {
		return fmt.Errorf("unknown device %s", deviceID)
	}
	agent.setSettings(s)
	return nil
}

// SetEnabled flips a device's eligibility for work, for owner toggles.
func (p *Pool) SetEnabled(deviceID string, enabled bool) error {
	agent := p.Get(deviceID)
	if agent == nil {
		return fmt.Errorf("unknown device %s", deviceID)
	}
	agent.enabled.Store(enabled)
	agent.updates.Add(1)
	return nil
}

// Touch marks an agent seen, re-enabling it if the janitor had disabled it.
func (p *Pool) Touch(deviceID string) {
	if agent := p.Get(deviceID); agent != nil {
		agent.touch()
	}
}

// FindCapable returns the enabled agents whose visible inventory covers the
// required nodes and assets, least loaded first.  The returned slice is a
// snapshot; claimants must expect candidates to change under them.
func (p *Pool) FindCapable(requiredNodes []string, requiredAssets []graphapi.AssetRef, excludeModels []string) []*ComfyAgent {
	p.mu.RLock()
	candidates := make([]*ComfyAgent, 0, len(p.agents))
	for _, agent := range p.agents {
		candidates = append(candidates, agent)
	}
	p.mu.RUnlock()

	retv := make([]*ComfyAgent, 0, len(candidates))
	for _, agent := range candidates {
		if !agent.Enabled() {
			continue
		}
		if agent.canRun(requiredNodes, requiredAssets, excludeModels) {
			retv = append(retv, agent)
		}
	}

	sort.SliceStable(retv, func(i, j int) bool {
		li, lj := retv[i].Load(), retv[j].Load()
		if li != lj {
			return li < lj
		}
		return retv[i].DeviceID < retv[j].DeviceID
	})
	return retv
}

// MarkQueued records that a job was pushed to the device's queue.
func (p *Pool) MarkQueued(deviceID, id string) {
	if agent := p.Get(deviceID); agent != nil {
		agent.markQueued(id)
	}
}

// MarkRunning moves a job from queued to running on the device.
func (p *Pool) MarkRunning(deviceID, id string) {
	if agent := p.Get(deviceID); agent != nil {
		agent.markRunning(id)
	}
}

// MarkDone clears a job from the device's workload.
func (p *Pool) MarkDone(deviceID, id string) {
	if agent := p.Get(deviceID); agent != nil {
		agent.markDone(id)
	}
}

// AgentStatus is a point-in-time view of one agent, for operators.
type AgentStatus struct {
	DeviceID string    `json:"deviceId"`
	UserID   string    `json:"userId"`
	Enabled  bool      `json:"enabled"`
	Load     int       `json:"load"`
	LastSeen time.Time `json:"lastSeen"`
}

// Snapshot returns the status of every agent, ordered by device id.
func (p *Pool) Snapshot() []AgentStatus {
	p.mu.RLock()
	agents := make([]*ComfyAgent, 0, len(p.agents))
	for _, a := range p.agents {
		agents = append(agents, a)
	}
	p.mu.RUnlock()

	retv := make([]AgentStatus, 0, len(agents))
	for _, a := range agents {
		retv = append(retv, AgentStatus{
			DeviceID: a.DeviceID,
			UserID:   a.UserID,
			Enabled:  a.Enabled(),
			Load:     a.Load(),
			LastSeen: a.LastSeen(),
		})
	}
	sort.Slice(retv, func(i, j int) bool { return retv[i].DeviceID < retv[j].DeviceID })
	return retv
}

// RunJanitor soft-disables agents that have not been seen within the offline
// threshold, until ctx is cancelled.  A disabled agent comes back on its next
// heartbeat; its state is never discarded.
func (p *Pool) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOffline()
		}
	}
}

func (p *Pool) sweepOffline() {
	cutoff := time.Now().Add(-p.offlineAfter)

	p.mu.RLock()
	agents := make([]*ComfyAgent, 0, len(p.agents))
	for _, a := range p.agents {
		agents = append(agents, a)
	}
	p.mu.RUnlock()

	for _, a := range agents {
		if a.Enabled() && a.LastSeen().Before(cutoff) {
			a.enabled.Store(false)
			a.updates.Add(1)
			slog.Info("agent offline, disabling", "device", a.DeviceID, "last_seen", a.LastSeen())
		}
	}
}
