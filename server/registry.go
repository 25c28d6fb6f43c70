package server

import (
	"fmt"
	"sync"
)

// Broadcaster 把序列化好的快照发给一个房间的所有连接
type Broadcaster interface {
	BroadcastRoom(roomID int64, payload []byte)
}

// Registry 持有全部活跃 World，只守护 roomId→World 这张表；
// World 内部状态由各自的 goroutine 串行化，房间之间互不争锁。
type Registry struct {
	mu     sync.RWMutex
	worlds map[int64]*World

	cfg         *Config
	engine      *Engine
	bus         *EventBus
	finalizer   *Finalizer
	broadcaster Broadcaster
}

func NewRegistry(cfg *Config, engine *Engine, bus *EventBus, fin *Finalizer) *Registry {
	return &Registry{
		worlds:    make(map[int64]*World),
		cfg:       cfg,
		engine:    engine,
		bus:       bus,
		finalizer: fin,
	}
}

// SetBroadcaster 必须在第一次 Create 之前完成装配
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.broadcaster = b
}

// Create 为房间建一个 World 并启动它的循环；同一房号已有对局则拒绝
func (r *Registry) Create(roomID int64, opts RoomOptions) (*World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.worlds[roomID]; exists {
		return nil, fmt.Errorf("room %d already has an active world", roomID)
	}
	w := newWorld(roomID, opts, r.cfg)
	r.worlds[roomID] = w
	go r.runWorld(w)
	Log.Infof("world created: room=%d map=%s win=%s maxPlayers=%d",
		roomID, w.MapName, w.WinMode.Raw, w.MaxPlayers)
	return w, nil
}

func (r *Registry) Get(roomID int64) (*World, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.worlds[roomID]
	return w, ok
}

// Remove 无条件摘掉房号当前占用的 World
func (r *Registry) Remove(roomID int64) {
	r.mu.Lock()
	w, ok := r.worlds[roomID]
	if ok {
		delete(r.worlds, roomID)
	}
	r.mu.Unlock()
	if ok {
		r.stopWorld(w)
	}
}

// removeInstance 延迟回收走这里：校验指针身份，
// 房号被新对局复用时绝不误删新 World
func (r *Registry) removeInstance(w *World) {
	r.mu.Lock()
	cur, ok := r.worlds[w.RoomID]
	if !ok || cur != w {
		r.mu.Unlock()
		return
	}
	delete(r.worlds, w.RoomID)
	r.mu.Unlock()
	r.stopWorld(w)
}

func (r *Registry) stopWorld(w *World) {
	if t := w.teardown.Load(); t != nil {
		t.Stop()
	}
	close(w.quit)
	Log.Infof("world removed: room=%d frame=%d", w.RoomID, w.Frame())
}

// ForEachActive 在表的快照上遍历，回调期间不占注册表锁
func (r *Registry) ForEachActive(fn func(*World)) {
	r.mu.RLock()
	snapshot := make([]*World, 0, len(r.worlds))
	for _, w := range r.worlds {
		snapshot = append(snapshot, w)
	}
	r.mu.RUnlock()
	for _, w := range snapshot {
		fn(w)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.worlds)
}

// Close 停掉所有房间，进程退出前调用
func (r *Registry) Close() {
	r.mu.Lock()
	worlds := r.worlds
	r.worlds = make(map[int64]*World)
	r.mu.Unlock()
	for _, w := range worlds {
		r.stopWorld(w)
	}
}
