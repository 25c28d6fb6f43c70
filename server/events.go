package server

import (
	"sync"
	"time"
)

// 领域事件是一个封闭集合：按 Kind 打标签，通过显式注册的监听器分发。
// 观测逻辑（日志、统计）挂在订阅侧，不掺进模拟热路径。

type EventKind int

const (
	EventPlayerJoined EventKind = iota
	EventCollision
	EventScoreUpdated
	EventGameEnded
)

type CollisionKind int

const (
	CollisionBulletPlayer CollisionKind = iota
	CollisionBulletObstacle
	CollisionObstaclePlayer
)

func (k CollisionKind) String() string {
	switch k {
	case CollisionBulletPlayer:
		return "bullet_player"
	case CollisionBulletObstacle:
		return "bullet_obstacle"
	case CollisionObstaclePlayer:
		return "obstacle_player"
	default:
		return "unknown"
	}
}

// Event 单一事件结构，按 Kind 解释有效字段
type Event struct {
	Kind   EventKind
	RoomID int64
	At     time.Time

	Username   string // PlayerJoined / ScoreUpdated
	Collision  CollisionKind
	Attacker   string
	Target     string
	ScoreDelta int
	ScoreTotal int
	Winner     string // GameEnded
}

type EventHandler func(Event)

// EventBus 同步分发；单个监听器的 panic 不能影响发布方和其他监听器
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventKind][]EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventKind][]EventHandler)}
}

func (b *EventBus) Subscribe(kind EventKind, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	hs := b.handlers[ev.Kind]
	b.mu.RUnlock()
	for _, h := range hs {
		b.dispatch(h, ev)
	}
}

func (b *EventBus) dispatch(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			Log.Errorf("event handler panic: kind=%d room=%d err=%v", ev.Kind, ev.RoomID, r)
		}
	}()
	h(ev)
}
