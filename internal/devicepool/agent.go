// Package devicepool tracks the live agents of the device fleet: what each
// one has installed, what it is working on, and whether it is still online.
package devicepool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/comfygrid/comfygrid/graphapi"
)

// GpuInfo describes one GPU on a device.
type GpuInfo struct {
	Name      string `json:"name"`
	VRAMTotal int64  `json:"vramTotal"`
}

// Inventory is what a device reports it can run: models per runtime folder,
// installed node types, and installed node packages.
type Inventory struct {
	Gpus     []GpuInfo           `json:"gpus,omitempty"`
	Models   map[string][]string `json:"models,omitempty"`
	Nodes    []string            `json:"nodes,omitempty"`
	Packages []string            `json:"packages,omitempty"`
}

// Settings are the owner's per-device overrides.  A batch size of zero for a
// model hides it from capability matching without uninstalling it.
type Settings struct {
	BatchSizes map[string]int `json:"batchSizes,omitempty"`
	MaxJobs    int            `json:"maxJobs,omitempty"`
}

// ComfyAgent is one registered device.  Mutable state is guarded internally;
// the matcher reads a consistent view without holding any pool-wide lock, and
// the Updates counter lets a claimant detect that the agent changed between
// matching and assignment.
type ComfyAgent struct {
	DeviceID string
	UserID   string

	mu       sync.RWMutex
	inv      Inventory
	settings Settings
	queued   map[string]struct{}
	running  map[string]struct{}

	updates  atomic.Int64
	lastSeen atomic.Int64 // unix nanos
	enabled  atomic.Bool
}

func newAgent(deviceID, userID string, inv Inventory, settings Settings) *ComfyAgent {
	a := &ComfyAgent{
		DeviceID: deviceID,
		UserID:   userID,
		inv:      inv,
		settings: settings,
		queued:   make(map[string]struct{}),
		running:  make(map[string]struct{}),
	}
	a.enabled.Store(true)
	a.lastSeen.Store(time.Now().UnixNano())
	return a
}

// Updates returns the agent's change counter.  Any inventory, settings or
// workload change bumps it.
func (a *ComfyAgent) Updates() int64 {
	return a.updates.Load()
}

// LastSeen returns the time of the agent's last heartbeat or registration.
func (a *ComfyAgent) LastSeen() time.Time {
	return time.Unix(0, a.lastSeen.Load())
}

// Enabled reports whether the agent is eligible for work.
func (a *ComfyAgent) Enabled() bool {
	return a.enabled.Load()
}

func (a *ComfyAgent) touch() {
	a.lastSeen.Store(time.Now().UnixNano())
	a.enabled.Store(true)
}

// Load is the number of jobs currently queued on or running on the agent.
func (a *ComfyAgent) Load() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.queued) + len(a.running)
}

// VisibleModels returns the models available for matching: the reported
// inventory minus any model whose batch-size override is zero.
func (a *ComfyAgent) VisibleModels() map[string][]string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	retv := make(map[string][]string, len(a.inv.Models))
	for folder, files := range a.inv.Models {
		for _, f := range files {
			if size, ok := a.settings.BatchSizes[f]; ok && size == 0 {
				continue
			}
			retv[folder] = append(retv[folder], f)
		}
	}
	return retv
}

// setInventory replaces the agent's inventory and bumps the change counter.
func (a *ComfyAgent) setInventory(inv Inventory) {
	a.mu.Lock()
	a.inv = inv
	a.mu.Unlock()
	a.updates.Add(1)
	a.touch()
}

func (a *ComfyAgent) setSettings(s Settings) {
	a.mu.Lock()
	a.settings = s
	a.mu.Unlock()
	a.updates.Add(1)
}

// canRun reports whether the agent's visible inventory is a superset of the
// workflow's requirements.
func (a *ComfyAgent) canRun(requiredNodes []string, requiredAssets []graphapi.AssetRef, excludeModels []string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.settings.MaxJobs > 0 && len(a.queued)+len(a.running) >= a.settings.MaxJobs {
		return false
	}

	installed := make(map[string]bool, len(a.inv.Nodes))
	for _, n := range a.inv.Nodes {
		installed[n] = true
	}
	for _, n := range requiredNodes {
		if !installed[n] {
			return false
		}
	}

	excluded := make(map[string]bool, len(excludeModels))
	for _, m := range excludeModels {
		excluded[m] = true
	}

	for _, ref := range requiredAssets {
		if excluded[ref.Name] {
			return false
		}
		if size, ok := a.settings.BatchSizes[ref.Name]; ok && size == 0 {
			return false
		}
		if !containsString(a.inv.Models[ref.Folder], ref.Name) {
			return false
		}
	}
	return true
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func (a *ComfyAgent) markQueued(id string) {
	a.mu.Lock()
	a.queued[id] = struct{}{}
	a.mu.Unlock()
	a.updates.Add(1)
}

func (a *ComfyAgent) markRunning(id string) {
	a.mu.Lock()
	delete(a.queued, id)
	a.running[id] = struct{}{}
	a.mu.Unlock()
	a.updates.Add(1)
}

func (a *ComfyAgent) markDone(id string) {
	a.mu.Lock()
	delete(a.queued, id)
	delete(a.running, id)
	a.mu.Unlock()
	a.updates.Add(1)
}
