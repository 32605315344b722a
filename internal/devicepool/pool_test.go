package devicepool

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comfygrid/comfygrid/graphapi"
)

func deviceID(seed string) string {
	return (seed + strings.Repeat("0", DeviceIDLength))[:DeviceIDLength]
}

func sdInventory() Inventory {
	return Inventory{
		Gpus: []GpuInfo{{Name: "RTX 4090", VRAMTotal: 24 << 30}},
		Models: map[string][]string{
			"checkpoints": {"sd15.safetensors", "sdxl.safetensors"},
			"loras":       {"detail.safetensors"},
		},
		Nodes:    []string{"KSampler", "CLIPTextEncode", "VHS_VideoCombine"},
		Packages: []string{"comfyui-videohelpersuite"},
	}
}

func TestRegisterValidatesDeviceID(t *testing.T) {
	pool := NewPool(time.Minute)

	_, err := pool.Register("short", "u1", Inventory{}, Settings{})
	require.ErrorIs(t, err, ErrBadDeviceID)

	agent, err := pool.Register(deviceID("a"), "u1", sdInventory(), Settings{})
	require.NoError(t, err)
	assert.True(t, agent.Enabled())
}

func TestReRegisterPreservesWorkload(t *testing.T) {
	pool := NewPool(time.Minute)
	id := deviceID("a")

	agent, err := pool.Register(id, "u1", sdInventory(), Settings{})
	require.NoError(t, err)
	pool.MarkQueued(id, "job-1")
	before := agent.Updates()

	again, err := pool.Register(id, "u1", sdInventory(), Settings{})
	require.NoError(t, err)

	assert.Same(t, agent, again)
	assert.Equal(t, 1, again.Load())
	assert.Greater(t, again.Updates(), before, "re-registration must bump the change counter")
}

func TestFindCapableSupersetMatch(t *testing.T) {
	pool := NewPool(time.Minute)
	full, err := pool.Register(deviceID("a"), "u1", sdInventory(), Settings{})
	require.NoError(t, err)

	bare := sdInventory()
	bare.Nodes = []string{"KSampler", "CLIPTextEncode"}
	_, err = pool.Register(deviceID("b"), "u1", bare, Settings{})
	require.NoError(t, err)

	assets := []graphapi.AssetRef{{Folder: "checkpoints", Name: "sd15.safetensors"}}

	// both carry the base nodes
	got := pool.FindCapable([]string{"KSampler"}, assets, nil)
	assert.Len(t, got, 2)

	// only the full agent carries the video node
	got = pool.FindCapable([]string{"VHS_VideoCombine"}, assets, nil)
	require.Len(t, got, 1)
	assert.Equal(t, full.DeviceID, got[0].DeviceID)

	// nobody has this model
	got = pool.FindCapable(nil, []graphapi.AssetRef{{Folder: "checkpoints", Name: "flux.safetensors"}}, nil)
	assert.Empty(t, got)
}

func TestFindCapableOrdersByLoad(t *testing.T) {
	pool := NewPool(time.Minute)
	busy, err := pool.Register(deviceID("a"), "u1", sdInventory(), Settings{})
	require.NoError(t, err)
	idle, err := pool.Register(deviceID("b"), "u1", sdInventory(), Settings{})
	require.NoError(t, err)

	pool.MarkQueued(busy.DeviceID, "job-1")
	pool.MarkQueued(busy.DeviceID, "job-2")

	got := pool.FindCapable([]string{"KSampler"}, nil, nil)
	require.Len(t, got, 2)
	assert.Equal(t, idle.DeviceID, got[0].DeviceID)
	assert.Equal(t, busy.DeviceID, got[1].DeviceID)
}

func TestBatchSizeZeroHidesModel(t *testing.T) {
	pool := NewPool(time.Minute)
	settings := Settings{BatchSizes: map[string]int{"sdxl.safetensors": 0}}
	agent, err := pool.Register(deviceID("a"), "u1", sdInventory(), settings)
	require.NoError(t, err)

	visible := agent.VisibleModels()
	assert.Equal(t, []string{"sd15.safetensors"}, visible["checkpoints"])
	assert.Equal(t, []string{"detail.safetensors"}, visible["loras"])

	got := pool.FindCapable(nil, []graphapi.AssetRef{{Folder: "checkpoints", Name: "sdxl.safetensors"}}, nil)
	assert.Empty(t, got, "hidden model must not match")

	got = pool.FindCapable(nil, []graphapi.AssetRef{{Folder: "checkpoints", Name: "sd15.safetensors"}}, nil)
	assert.Len(t, got, 1)
}

func TestExcludedModels(t *testing.T) {
	pool := NewPool(time.Minute)
	_, err := pool.Register(deviceID("a"), "u1", sdInventory(), Settings{})
	require.NoError(t, err)

	got := pool.FindCapable(nil,
		[]graphapi.AssetRef{{Folder: "checkpoints", Name: "sd15.safetensors"}},
		[]string{"sd15.safetensors"})
	assert.Empty(t, got)
}

func TestMaxJobsCapsMatching(t *testing.T) {
	pool := NewPool(time.Minute)
	agent, err := pool.Register(deviceID("a"), "u1", sdInventory(), Settings{MaxJobs: 1})
	require.NoError(t, err)

	pool.MarkQueued(agent.DeviceID, "job-1")
	got := pool.FindCapable([]string{"KSampler"}, nil, nil)
	assert.Empty(t, got)

	pool.MarkDone(agent.DeviceID, "job-1")
	got = pool.FindCapable([]string{"KSampler"}, nil, nil)
	assert.Len(t, got, 1)
}

func TestWorkloadTransitions(t *testing.T) {
	pool := NewPool(time.Minute)
	agent, err := pool.Register(deviceID("a"), "u1", sdInventory(), Settings{})
	require.NoError(t, err)

	pool.MarkQueued(agent.DeviceID, "job-1")
	assert.Equal(t, 1, agent.Load())

	pool.MarkRunning(agent.DeviceID, "job-1")
	assert.Equal(t, 1, agent.Load(), "queued to running must not double count")

	pool.MarkDone(agent.DeviceID, "job-1")
	assert.Equal(t, 0, agent.Load())
}

func TestJanitorDisablesOfflineAgents(t *testing.T) {
	pool := NewPool(10 * time.Millisecond)
	agent, err := pool.Register(deviceID("a"), "u1", sdInventory(), Settings{})
	require.NoError(t, err)

	agent.lastSeen.Store(time.Now().Add(-time.Second).UnixNano())
	pool.sweepOffline()
	assert.False(t, agent.Enabled())

	assert.Empty(t, pool.FindCapable([]string{"KSampler"}, nil, nil))

	// a heartbeat brings it back
	pool.Touch(agent.DeviceID)
	assert.True(t, agent.Enabled())
	assert.Len(t, pool.FindCapable([]string{"KSampler"}, nil, nil), 1)
}

func TestSnapshot(t *testing.T) {
	pool := NewPool(time.Minute)
	_, err := pool.Register(deviceID("b"), "u2", sdInventory(), Settings{})
	require.NoError(t, err)
	_, err = pool.Register(deviceID("a"), "u1", sdInventory(), Settings{})
	require.NoError(t, err)

	snap := pool.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, deviceID("a"), snap[0].DeviceID)
	assert.Equal(t, deviceID("b"), snap[1].DeviceID)
}
