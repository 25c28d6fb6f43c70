package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// PlayerResult 单个玩家的最终战绩
type PlayerResult struct {
	Username  string `json:"username"`
	Score     int    `json:"score"`
	HP        int    `json:"hp"`
	Alive     bool   `json:"alive"`
	ElapsedMs int64  `json:"elapsedMillis"`
}

// MatchResult 一局比赛的不可变结算记录
type MatchResult struct {
	RoomID      int64          `json:"roomId"`
	MapName     string         `json:"mapName"`
	WinMode     string         `json:"winMode"`
	Winner      string         `json:"winner"`
	MaxPlayers  int            `json:"maxPlayers"`
	PlayerCount int            `json:"playerCount"`
	Frames      int64          `json:"totalFrames"`
	StartedAt   time.Time      `json:"startedAt"`
	EndedAt     time.Time      `json:"endedAt"`
	Players     []PlayerResult `json:"players"`
}

// buildResult 在房间 goroutine 上汇总终局状态。
// 赢家取最高分，同分按用户名字典序取最小，保证结果可复现。
func buildResult(w *World, now time.Time) *MatchResult {
	elapsed := now.Sub(w.StartAt).Milliseconds()
	res := &MatchResult{
		RoomID:      w.RoomID,
		MapName:     w.MapName,
		WinMode:     w.WinMode.Raw,
		MaxPlayers:  w.MaxPlayers,
		PlayerCount: len(w.Players),
		Frames:      w.Frame(),
		StartedAt:   w.StartAt,
		EndedAt:     now,
		Players:     make([]PlayerResult, 0, len(w.Players)),
	}
	for _, p := range w.Players {
		res.Players = append(res.Players, PlayerResult{
			Username: p.Username, Score: p.Score, HP: p.HP, Alive: p.Alive, ElapsedMs: elapsed,
		})
	}
	sort.Slice(res.Players, func(i, j int) bool { return res.Players[i].Username < res.Players[j].Username })
	best := -1
	for _, pr := range res.Players {
		if pr.Score > best {
			best = pr.Score
			res.Winner = pr.Username
		}
	}
	return res
}

// ResultStore 追加式战绩存储（持久化协作方的接口）
type ResultStore interface {
	Append(ctx context.Context, res *MatchResult) error
}

// Matchmaker 赛后通知匹配/大厅服务把房间重置回可加入状态
type Matchmaker interface {
	ResetRoom(roomID int64)
}

// MatchmakerFunc 函数适配器
type MatchmakerFunc func(roomID int64)

func (f MatchmakerFunc) ResetRoom(roomID int64) { f(roomID) }

// Finalizer 赛后结算。落库和重置都在独立协程做，不占用房间循环；
// 同一局重复触发也只写一次。
type Finalizer struct {
	store      ResultStore
	matchmaker Matchmaker
	timeout    time.Duration

	mu   sync.Mutex
	done map[string]struct{}
}

func NewFinalizer(store ResultStore, matchmaker Matchmaker) *Finalizer {
	return &Finalizer{
		store:      store,
		matchmaker: matchmaker,
		timeout:    5 * time.Second,
		done:       make(map[string]struct{}),
	}
}

func (f *Finalizer) Finalize(res *MatchResult) {
	key := fmt.Sprintf("%d@%d", res.RoomID, res.StartedAt.UnixMilli())
	f.mu.Lock()
	if _, dup := f.done[key]; dup {
		f.mu.Unlock()
		Log.Warnf("duplicate finalize ignored: room=%d", res.RoomID)
		return
	}
	f.done[key] = struct{}{}
	f.mu.Unlock()

	go f.run(res)
}

// run 落库失败只记日志不重试：内存里这局已经结束，房间照样重置
func (f *Finalizer) run(res *MatchResult) {
	if f.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		if err := f.store.Append(ctx, res); err != nil {
			Log.Errorf("match result write failed: room=%d err=%v", res.RoomID, err)
		} else {
			Log.Infof("match result saved: room=%d winner=%s", res.RoomID, res.Winner)
		}
	}
	if f.matchmaker != nil {
		f.matchmaker.ResetRoom(res.RoomID)
	}
}

// MemoryResultStore 进程内存储，默认实现，也给测试用
type MemoryResultStore struct {
	mu      sync.Mutex
	results []*MatchResult
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{}
}

func (s *MemoryResultStore) Append(_ context.Context, res *MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *MemoryResultStore) Results() []*MatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MatchResult, len(s.results))
	copy(out, s.results)
	return out
}
