package server

import (
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Phase 对局阶段，只能向前推进：
//
//	WAITING → COUNTDOWN → IN_PROGRESS → FINISHED
type Phase int32

const (
	PhaseWaiting Phase = iota
	PhaseCountdown
	PhaseInProgress
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "WAITING"
	case PhaseCountdown:
		return "COUNTDOWN"
	case PhaseInProgress:
		return "IN_PROGRESS"
	case PhaseFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// WinKind 结束条件类型，建房时确定，对局中不变
type WinKind int

const (
	WinScore        WinKind = iota // 任意玩家达到目标分
	WinTime                        // 开局起计时到点
	WinLastStanding                // 存活人数 ≤ 1
)

// WinMode 解析后的结束条件
type WinMode struct {
	Kind        WinKind
	TargetScore int
	TimeLimit   time.Duration
	Raw         string
}

// ParseWinMode 解析 "SCORE_50" / "TIME_1M" 这类模式串，
// 识别不了的一律退化为最后存活模式
func ParseWinMode(raw string) WinMode {
	if strings.HasPrefix(raw, "SCORE_") {
		if n, err := strconv.Atoi(strings.TrimPrefix(raw, "SCORE_")); err == nil && n > 0 {
			return WinMode{Kind: WinScore, TargetScore: n, Raw: raw}
		}
	}
	if strings.HasPrefix(raw, "TIME_") {
		s := strings.TrimPrefix(raw, "TIME_")
		if strings.HasSuffix(s, "M") {
			if n, err := strconv.Atoi(strings.TrimSuffix(s, "M")); err == nil && n > 0 {
				return WinMode{Kind: WinTime, TimeLimit: time.Duration(n) * time.Minute, Raw: raw}
			}
		}
	}
	return WinMode{Kind: WinLastStanding, Raw: raw}
}

// Satisfied 结束条件判定，纯读不改状态。只在 IN_PROGRESS 阶段调用。
func (m WinMode) Satisfied(w *World, now time.Time) bool {
	switch m.Kind {
	case WinScore:
		for _, p := range w.Players {
			if p.Score >= m.TargetScore {
				return true
			}
		}
		return false
	case WinTime:
		return now.Sub(w.StartAt) >= m.TimeLimit
	default:
		return w.aliveCount() <= 1
	}
}

// RoomOptions 建房参数，由大厅/匹配服务给出
type RoomOptions struct {
	MapName    string
	WinMode    string
	MaxPlayers int
}

// World 一局比赛的全部权威状态。
// 所有字段只在该房间的单一 goroutine（见 tick.go）上读写；
// 少数 atomic 字段是给 admin / metrics 这类旁路读者用的。
type World struct {
	RoomID     int64
	MapName    string
	MaxPlayers int
	WinMode    WinMode

	// StartAt 是倒计时的终点，同时也是对局计时的起点
	StartAt   time.Time
	CreatedAt time.Time

	Players   map[string]*Player
	Bullets   map[int64]*Bullet
	Obstacles map[int64]*Obstacle

	phase       atomic.Int32
	frame       atomic.Int64
	playerCount atomic.Int32

	// 实体 id 用房间内单调计数器，毫秒时间戳同帧会撞
	nextBulletID   int64
	nextObstacleID int64
	lastSpawnAt    time.Time
	rng            *rand.Rand

	// 热更参数：admin 线程写、tick 线程读
	spawnIntervalMs  atomic.Int64
	fireCooldownMs   atomic.Int64
	maxInputsPerTick atomic.Int64

	inputsThisTick map[string]int

	inbox     chan command
	quit      chan struct{}
	teardown  atomic.Pointer[time.Timer]
	finalized bool

	metrics *RoomMetrics
}

func newWorld(roomID int64, opts RoomOptions, cfg *Config) *World {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = 4
	}
	w := &World{
		RoomID:         roomID,
		MapName:        opts.MapName,
		MaxPlayers:     opts.MaxPlayers,
		WinMode:        ParseWinMode(opts.WinMode),
		CreatedAt:      time.Now(),
		Players:        make(map[string]*Player),
		Bullets:        make(map[int64]*Bullet),
		Obstacles:      make(map[int64]*Obstacle),
		rng:            rand.New(rand.NewSource(roomID ^ time.Now().UnixNano())),
		inputsThisTick: make(map[string]int),
		inbox:          make(chan command, 256),
		quit:           make(chan struct{}),
		metrics:        &RoomMetrics{},
	}
	w.spawnIntervalMs.Store(int64(cfg.SpawnIntervalMs))
	w.fireCooldownMs.Store(int64(cfg.FireCooldownMs))
	w.maxInputsPerTick.Store(int64(cfg.MaxInputsPerTick))
	return w
}

func (w *World) CurrentPhase() Phase { return Phase(w.phase.Load()) }
func (w *World) Frame() int64        { return w.frame.Load() }
func (w *World) PlayerCount() int    { return int(w.playerCount.Load()) }

// setPhase 阶段只进不退，回退请求直接忽略并报警
func (w *World) setPhase(p Phase) bool {
	cur := w.CurrentPhase()
	if p <= cur {
		if p < cur {
			Log.Warnf("phase regression ignored: room=%d %s -> %s", w.RoomID, cur, p)
		}
		return false
	}
	w.phase.Store(int32(p))
	return true
}

// addPlayer 把新玩家摆在底边，按加入顺序横向分布
func (w *World) addPlayer(username string) *Player {
	idx := len(w.Players)
	p := &Player{
		Username: username,
		X:        ArenaWidth * float64(idx+1) / float64(w.MaxPlayers+1),
		Y:        ArenaHeight - 80,
		HP:       PlayerMaxHP,
		Alive:    true,
	}
	w.Players[username] = p
	w.playerCount.Store(int32(len(w.Players)))
	return p
}

func (w *World) aliveCount() int {
	n := 0
	for _, p := range w.Players {
		if p.Alive {
			n++
		}
	}
	return n
}

// 房间命令：网关只往 inbox 投递，真正落到状态上的永远是房间自己的 goroutine
type commandKind int

const (
	cmdJoin commandKind = iota
	cmdInput
	cmdLeave
)

type command struct {
	kind     commandKind
	username string
	input    PlayerInput
	at       time.Time
}

// post 非阻塞投递；输入拥塞时宁可丢也不能让网络读协程卡住
func (w *World) post(cmd command) bool {
	select {
	case <-w.quit:
		return false
	case w.inbox <- cmd:
		return true
	default:
		w.metrics.IncChanFullDiscarded()
		return false
	}
}

// postWait 用于 join/leave 这类不容丢失的命令（通道有容量，不会死锁）
func (w *World) postWait(cmd command) bool {
	select {
	case <-w.quit:
		return false
	case w.inbox <- cmd:
		return true
	}
}
