package server

import (
	"sort"
	"time"
)

// WebSocket 文本帧的消息类型
const (
	MsgJoinGame    = "JOIN_GAME"
	MsgPlayerInput = "PLAYER_INPUT"
	MsgLeaveGame   = "LEAVE_GAME"

	MsgConnected = "CONNECTED"
	MsgJoined    = "JOINED"
	MsgError     = "ERROR"
	MsgNotInRoom = "NOT_IN_ROOM"
	MsgGameState = "GAME_STATE"
)

// ClientMessage 入站消息的统一外形，按 type 取用字段
type ClientMessage struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
	RoomID   int64  `json:"roomId,omitempty"`

	MoveUp    bool `json:"moveUp,omitempty"`
	MoveDown  bool `json:"moveDown,omitempty"`
	MoveLeft  bool `json:"moveLeft,omitempty"`
	MoveRight bool `json:"moveRight,omitempty"`
	Fire      bool `json:"fire,omitempty"`
}

type ConnectedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type JoinedMessage struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"roomId"`
	Username string `json:"username"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PlayerSnapshot struct {
	Username string  `json:"username"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	HP       int     `json:"hp"`
	Score    int     `json:"score"`
	Alive    bool    `json:"alive"`
}

type BulletSnapshot struct {
	ID    int64   `json:"id"`
	Owner string  `json:"owner"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type ObstacleSnapshot struct {
	ID     int64   `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Big    bool    `json:"big"`
}

// GameStateMessage 每 Tick 一次的权威快照
type GameStateMessage struct {
	Type        string             `json:"type"`
	RoomID      int64              `json:"roomId"`
	Frame       int64              `json:"frame"`
	Phase       string             `json:"phase"`
	CountdownMs int64              `json:"countdownMs,omitempty"`
	ElapsedMs   int64              `json:"elapsedMs,omitempty"`
	Players     []PlayerSnapshot   `json:"players"`
	Bullets     []BulletSnapshot   `json:"bullets"`
	Obstacles   []ObstacleSnapshot `json:"obstacles"`
}

// buildGameState 由房间 goroutine 调用；输出排好序，客户端逐帧 diff 更省事
func buildGameState(w *World, now time.Time) GameStateMessage {
	msg := GameStateMessage{
		Type:      MsgGameState,
		RoomID:    w.RoomID,
		Frame:     w.Frame(),
		Phase:     w.CurrentPhase().String(),
		Players:   make([]PlayerSnapshot, 0, len(w.Players)),
		Bullets:   make([]BulletSnapshot, 0, len(w.Bullets)),
		Obstacles: make([]ObstacleSnapshot, 0, len(w.Obstacles)),
	}
	switch w.CurrentPhase() {
	case PhaseCountdown:
		if remaining := w.StartAt.Sub(now); remaining > 0 {
			msg.CountdownMs = remaining.Milliseconds()
		}
	case PhaseInProgress:
		msg.ElapsedMs = now.Sub(w.StartAt).Milliseconds()
	}

	for _, p := range w.Players {
		msg.Players = append(msg.Players, PlayerSnapshot{
			Username: p.Username, X: p.X, Y: p.Y, HP: p.HP, Score: p.Score, Alive: p.Alive,
		})
	}
	sort.Slice(msg.Players, func(i, j int) bool { return msg.Players[i].Username < msg.Players[j].Username })

	for _, b := range w.Bullets {
		msg.Bullets = append(msg.Bullets, BulletSnapshot{ID: b.ID, Owner: b.Owner, X: b.X, Y: b.Y})
	}
	sort.Slice(msg.Bullets, func(i, j int) bool { return msg.Bullets[i].ID < msg.Bullets[j].ID })

	for _, o := range w.Obstacles {
		msg.Obstacles = append(msg.Obstacles, ObstacleSnapshot{ID: o.ID, X: o.X, Y: o.Y, Radius: o.Radius, Big: o.Big})
	}
	sort.Slice(msg.Obstacles, func(i, j int) bool { return msg.Obstacles[i].ID < msg.Obstacles[j].ID })

	return msg
}
