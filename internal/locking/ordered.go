// Package locking provides the engine's layer-ordered mutex. Every coarse
// lock is assigned a layer; goroutines must acquire layers in strictly
// increasing order. Violations indicate a latent deadlock and panic when
// checking is enabled.
package locking

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Layer positions a mutex in the global acquisition order, low to high.
type Layer int

const (
	LayerRegistry Layer = iota
	LayerConfig
	LayerCacheShards
	LayerDistribution
	LayerLifecycle
	LayerCreationQueue
	LayerExitPipeline
	LayerHostBridge
)

func (l Layer) String() string {
	names := [...]string{
		"registry", "config", "cache_shards", "distribution",
		"lifecycle", "creation_queue", "exit_pipeline", "host_bridge",
	}
	if int(l) >= 0 && int(l) < len(names) {
		return names[l]
	}
	return fmt.Sprintf("layer(%d)", int(l))
}

var (
	checking atomic.Bool
	checkMu  sync.Mutex
	held     map[int64][]Layer
)

// EnableChecks turns on per-goroutine acquisition-order tracking. Intended
// for debug builds and tests; with checks off, Lock and Unlock pay a single
// atomic load and never touch the shared tracking state.
func EnableChecks() {
	checkMu.Lock()
	if held == nil {
		held = make(map[int64][]Layer)
	}
	checking.Store(true)
	checkMu.Unlock()
}

// DisableChecks turns tracking off and discards held-layer state.
func DisableChecks() {
	checkMu.Lock()
	checking.Store(false)
	held = nil
	checkMu.Unlock()
}

// Mutex is a sync.Mutex tagged with its layer.
type Mutex struct {
	layer Layer
	mu    sync.Mutex
}

// NewMutex constructs a mutex at the given layer.
func NewMutex(layer Layer) *Mutex {
	return &Mutex{layer: layer}
}

// Layer reports the mutex's position in the global order.
func (m *Mutex) Layer() Layer {
	if m == nil {
		return -1
	}
	return m.layer
}

// Lock acquires the mutex, first verifying the caller holds no lock at an
// equal or higher layer.
func (m *Mutex) Lock() {
	if m == nil {
		return
	}
	beforeLock(m.layer)
	m.mu.Lock()
}

// Unlock releases the mutex and pops it from the caller's held set.
func (m *Mutex) Unlock() {
	if m == nil {
		return
	}
	m.mu.Unlock()
	afterUnlock(m.layer)
}

func beforeLock(layer Layer) {
	if !checking.Load() {
		return
	}
	checkMu.Lock()
	if held == nil {
		checkMu.Unlock()
		return
	}
	gid := goroutineID()
	stack := held[gid]
	for _, heldLayer := range stack {
		if heldLayer >= layer {
			checkMu.Unlock()
			panic(fmt.Sprintf(
				"locking: order violation: acquiring %s while holding %s",
				layer, heldLayer,
			))
		}
	}
	held[gid] = append(stack, layer)
	checkMu.Unlock()
}

func afterUnlock(layer Layer) {
	if !checking.Load() {
		return
	}
	checkMu.Lock()
	if held == nil {
		checkMu.Unlock()
		return
	}
	gid := goroutineID()
	stack := held[gid]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == layer {
			stack = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	if len(stack) == 0 {
		delete(held, gid)
	} else {
		held[gid] = stack
	}
	checkMu.Unlock()
}

// goroutineID parses the current goroutine's id from its stack header. Only
// reached when checking is enabled.
func goroutineID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if idx := bytes.IndexByte(buf, ' '); idx > 0 {
		buf = buf[:idx]
	}
	id, err := strconv.ParseInt(string(buf), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
