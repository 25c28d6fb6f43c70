package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureBroadcaster 把广播出去的快照都攒下来，供测试断言
type captureBroadcaster struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *captureBroadcaster) BroadcastRoom(_ int64, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
}

func (c *captureBroadcaster) last(t *testing.T) GameStateMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.payloads)
	var msg GameStateMessage
	require.NoError(t, json.Unmarshal(c.payloads[len(c.payloads)-1], &msg))
	return msg
}

type panicBroadcaster struct{}

func (panicBroadcaster) BroadcastRoom(int64, []byte) { panic("boom") }

// newTestRegistry 不经过 Create，测试直接在当前 goroutine 上驱动
// applyCommand / tickWorld，不起房间循环
func newTestRegistry(cfg *Config) (*Registry, *captureBroadcaster, *MemoryResultStore) {
	bus := NewEventBus()
	store := NewMemoryResultStore()
	fin := NewFinalizer(store, nil)
	reg := NewRegistry(cfg, NewEngine(bus), bus, fin)
	cast := &captureBroadcaster{}
	reg.SetBroadcaster(cast)
	return reg, cast, store
}

func TestJoinStartsCountdown(t *testing.T) {
	cfg := DefaultConfig()
	reg, _, _ := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)

	at := time.Now()
	reg.applyCommand(w, command{kind: cmdJoin, username: "alice", at: at})

	require.Contains(t, w.Players, "alice")
	assert.Equal(t, PhaseCountdown, w.CurrentPhase())
	assert.Equal(t, at.Add(3*time.Second), w.StartAt)

	// 第二个人加入不会重置倒计时
	reg.applyCommand(w, command{kind: cmdJoin, username: "bob", at: at.Add(time.Second)})
	assert.Equal(t, at.Add(3*time.Second), w.StartAt)
	assert.Equal(t, 2, w.PlayerCount())

	// 重复加入幂等
	reg.applyCommand(w, command{kind: cmdJoin, username: "alice", at: at.Add(2 * time.Second)})
	assert.Equal(t, 2, w.PlayerCount())
}

func TestJoinRejectedWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	reg, _, _ := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 1}, cfg)

	reg.applyCommand(w, command{kind: cmdJoin, username: "alice", at: time.Now()})
	reg.applyCommand(w, command{kind: cmdJoin, username: "bob", at: time.Now()})

	assert.Equal(t, 1, w.PlayerCount())
	assert.NotContains(t, w.Players, "bob")
}

func TestCountdownTransitionsToInProgress(t *testing.T) {
	cfg := DefaultConfig()
	reg, cast, _ := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)

	now := time.Now()
	reg.applyCommand(w, command{kind: cmdJoin, username: "alice", at: now})
	require.Equal(t, PhaseCountdown, w.CurrentPhase())

	// 没到点：仍在倒计时，但照样广播剩余毫秒数
	reg.tickWorld(w, now.Add(time.Second))
	assert.Equal(t, PhaseCountdown, w.CurrentPhase())
	msg := cast.last(t)
	assert.Equal(t, "COUNTDOWN", msg.Phase)
	assert.Greater(t, msg.CountdownMs, int64(0))

	// 到点即开局
	reg.tickWorld(w, w.StartAt)
	assert.Equal(t, PhaseInProgress, w.CurrentPhase())
}

// TestInputAppliedOnNextTick 两帧之间到达的输入，从下一帧开始生效
func TestInputAppliedOnNextTick(t *testing.T) {
	cfg := DefaultConfig()
	reg, _, _ := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)
	p := w.addPlayer("alice")
	inProgress(t, w)

	x0 := p.X
	reg.applyCommand(w, command{kind: cmdInput, username: "alice", input: PlayerInput{MoveRight: true}, at: time.Now()})
	assert.Equal(t, x0, p.X, "命令本身不动位置，只改速度")

	reg.tickWorld(w, time.Now())
	dt := float64(cfg.TickIntervalMs) / 1000.0
	assert.InDelta(t, x0+PlayerSpeed*dt, p.X, 1e-9)
	assert.Equal(t, int64(1), w.Frame())
}

func TestInputGates(t *testing.T) {
	cfg := DefaultConfig()
	reg, _, _ := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)
	p := w.addPlayer("alice")

	// 开局前的输入直接忽略
	reg.applyCommand(w, command{kind: cmdInput, username: "alice", input: PlayerInput{MoveUp: true}, at: time.Now()})
	assert.Zero(t, p.VY)
	assert.Equal(t, int64(1), atomic.LoadInt64(&w.metrics.InputsIgnored))

	inProgress(t, w)

	// 没加入的用户名忽略
	reg.applyCommand(w, command{kind: cmdInput, username: "ghost", input: PlayerInput{MoveUp: true}, at: time.Now()})
	assert.Equal(t, int64(2), atomic.LoadInt64(&w.metrics.InputsIgnored))

	// 阵亡之后忽略
	p.Alive = false
	reg.applyCommand(w, command{kind: cmdInput, username: "alice", input: PlayerInput{MoveUp: true}, at: time.Now()})
	assert.Zero(t, p.VY)
	assert.Equal(t, int64(3), atomic.LoadInt64(&w.metrics.InputsIgnored))
}

func TestInputRateLimitPerTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInputsPerTick = 3
	reg, _, _ := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)
	w.addPlayer("alice")
	inProgress(t, w)

	for i := 0; i < 5; i++ {
		reg.applyCommand(w, command{kind: cmdInput, username: "alice", input: PlayerInput{MoveUp: true}, at: time.Now()})
	}
	assert.Equal(t, int64(3), atomic.LoadInt64(&w.metrics.InputsAccepted))
	assert.Equal(t, int64(2), atomic.LoadInt64(&w.metrics.RateLimited))

	// 下一帧配额重置
	reg.tickWorld(w, time.Now())
	reg.applyCommand(w, command{kind: cmdInput, username: "alice", input: PlayerInput{MoveUp: true}, at: time.Now()})
	assert.Equal(t, int64(4), atomic.LoadInt64(&w.metrics.InputsAccepted))
}

func TestFireGateInCommandPath(t *testing.T) {
	cfg := DefaultConfig()
	reg, _, _ := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)
	w.addPlayer("alice")
	inProgress(t, w)

	at := time.Now()
	reg.applyCommand(w, command{kind: cmdInput, username: "alice", input: PlayerInput{Fire: true}, at: at})
	require.Len(t, w.Bullets, 1)

	// 冷却内的连击不出弹
	reg.applyCommand(w, command{kind: cmdInput, username: "alice", input: PlayerInput{Fire: true}, at: at.Add(100 * time.Millisecond)})
	assert.Len(t, w.Bullets, 1)

	reg.applyCommand(w, command{kind: cmdInput, username: "alice", input: PlayerInput{Fire: true}, at: at.Add(150 * time.Millisecond)})
	assert.Len(t, w.Bullets, 2)
}

func TestLeaveKeepsPlayerButStopsMovement(t *testing.T) {
	cfg := DefaultConfig()
	reg, _, _ := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)
	p := w.addPlayer("alice")
	p.VX, p.VY = PlayerSpeed, -PlayerSpeed

	reg.applyCommand(w, command{kind: cmdLeave, username: "alice", at: time.Now()})

	assert.Contains(t, w.Players, "alice", "断线不移除实体，重连还能接着打")
	assert.Zero(t, p.VX)
	assert.Zero(t, p.VY)
}

func TestScoreWinFinishesSameFrame(t *testing.T) {
	cfg := DefaultConfig()
	reg, cast, store := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{MapName: "nebula", WinMode: "SCORE_50", MaxPlayers: 4}, cfg)
	alice := w.addPlayer("alice")
	w.addPlayer("bob")
	inProgress(t, w)

	alice.Score = 50
	reg.tickWorld(w, time.Now())

	assert.Equal(t, PhaseFinished, w.CurrentPhase())
	// 终局快照和判定发生在同一帧
	msg := cast.last(t)
	assert.Equal(t, "FINISHED", msg.Phase)
	assert.Equal(t, int64(1), w.Frame())

	require.Eventually(t, func() bool { return len(store.Results()) == 1 }, time.Second, 5*time.Millisecond)
	res := store.Results()[0]
	assert.Equal(t, "alice", res.Winner)
	assert.Equal(t, "SCORE_50", res.WinMode)
	assert.Equal(t, 2, res.PlayerCount)

	// FINISHED 之后帧号冻结
	reg.tickWorld(w, time.Now())
	assert.Equal(t, int64(1), w.Frame())

	if timer := w.teardown.Load(); timer != nil {
		timer.Stop()
	}
}

func TestFinishWorldIsOneShot(t *testing.T) {
	cfg := DefaultConfig()
	reg, _, store := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)
	w.addPlayer("alice")
	inProgress(t, w)

	now := time.Now()
	reg.finishWorld(w, now)
	reg.finishWorld(w, now.Add(time.Second))

	require.Eventually(t, func() bool { return len(store.Results()) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, store.Results(), 1, "重复收官只结算一次")
	if timer := w.teardown.Load(); timer != nil {
		timer.Stop()
	}
}

func TestTeardownRemovesFinishedWorld(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TeardownGraceMs = 20
	reg, _, _ := newTestRegistry(cfg)
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)
	w.addPlayer("alice")
	inProgress(t, w)

	reg.mu.Lock()
	reg.worlds[w.RoomID] = w
	reg.mu.Unlock()

	reg.finishWorld(w, time.Now())
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)

	select {
	case <-w.quit:
	default:
		t.Fatal("回收后 quit 应已关闭")
	}
}

// TestTeardownSparesReusedRoomID 房号被新对局复用时，旧 World 的回收不能误删新的
func TestTeardownSparesReusedRoomID(t *testing.T) {
	cfg := DefaultConfig()
	reg, _, _ := newTestRegistry(cfg)
	old := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)
	next := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)

	reg.mu.Lock()
	reg.worlds[1] = next
	reg.mu.Unlock()

	reg.removeInstance(old)

	got, ok := reg.Get(1)
	require.True(t, ok)
	assert.Same(t, next, got)
}

func TestSafeTickIsolatesPanics(t *testing.T) {
	cfg := DefaultConfig()
	reg, _, _ := newTestRegistry(cfg)
	reg.SetBroadcaster(panicBroadcaster{})
	w := newWorld(1, RoomOptions{WinMode: "SCORE_50", MaxPlayers: 4}, cfg)
	w.addPlayer("alice")
	inProgress(t, w)

	require.NotPanics(t, func() { reg.safeTick(w, time.Now()) })
	require.NotEmpty(t, w.Obstacles, "广播炸掉之前模拟已推进")

	// 炸过一帧之后房间还能继续消化下一帧
	require.NotPanics(t, func() { reg.safeTick(w, time.Now()) })
}
