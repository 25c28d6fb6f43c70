package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientConn 单个 WebSocket 连接的发送端包装：
// 写操作全部走缓冲队列和独立写协程，广播永远不会被慢客户端拖住
type ClientConn struct {
	sessionID string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClientConn(ws *websocket.Conn, sessionID string) *ClientConn {
	return &ClientConn{
		sessionID: sessionID,
		ws:        ws,
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
	}
}

// Enqueue 非阻塞入队；队列满或连接已关则丢弃并返回 false
func (c *ClientConn) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，从队列写出到 WS
func (c *ClientConn) writePump() {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				Log.Debugf("write failed: session=%s err=%v", c.sessionID, err)
				return
			}
		}
	}
}

type binding struct {
	roomID   int64
	username string
}

// Gateway 传输网关：持有会话表、(房间,用户) 绑定和房间→会话的扇出索引。
// 对 World 只做两件事：投递命令、广播快照。
type Gateway struct {
	registry *Registry
	auth     TokenVerifier
	members  RoomMembership
	upgrader websocket.Upgrader

	mu           sync.RWMutex
	sessions     map[string]*ClientConn
	bindings     map[string]binding
	roomSessions map[int64]map[string]struct{}
}

func NewGateway(reg *Registry, auth TokenVerifier, members RoomMembership) *Gateway {
	return &Gateway{
		registry: reg,
		auth:     auth,
		members:  members,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 演示环境：允许所有来源（生产环境需严格限制）
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions:     make(map[string]*ClientConn),
		bindings:     make(map[string]binding),
		roomSessions: make(map[int64]map[string]struct{}),
	}
}

// HandleWS WebSocket 接入点；握手成功先回 CONNECTED 带会话号
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}
	c := newClientConn(ws, uuid.NewString())

	g.mu.Lock()
	g.sessions[c.sessionID] = c
	g.mu.Unlock()
	Log.Infof("ws connected: session=%s remote=%s", c.sessionID, r.RemoteAddr)

	go c.writePump()
	g.send(c, ConnectedMessage{Type: MsgConnected, SessionID: c.sessionID})
	go g.readPump(c)
}

func (g *Gateway) send(c *ClientConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if !c.Enqueue(b) {
		Log.Debugf("send queue full: session=%s", c.sessionID)
	}
}

// readPump 读取客户端消息并分派；畸形 JSON 直接忽略，不当成错误
func (g *Gateway) readPump(c *ClientConn) {
	defer g.cleanup(c)
	c.ws.SetReadLimit(1 << 16)
	_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case MsgJoinGame:
			if !g.handleJoin(c, msg) {
				return // 验证失败，断开连接
			}
		case MsgPlayerInput:
			g.handleInput(c, msg)
		case MsgLeaveGame:
			g.unbind(c)
		default:
			Log.Debugf("unknown message type: session=%s type=%q", c.sessionID, msg.Type)
		}
	}
}

// handleJoin 凭据和房间成员资格都过了才绑定会话；返回 false 表示要断开
func (g *Gateway) handleJoin(c *ClientConn, msg ClientMessage) bool {
	user, ok := g.auth.UserByToken(msg.Token)
	if !ok || user != msg.Username {
		Log.Warnf("join rejected, bad token: session=%s user=%s", c.sessionID, msg.Username)
		g.send(c, ErrorMessage{Type: MsgError, Message: "invalid token"})
		return false
	}
	if !g.members.IsMember(msg.RoomID, msg.Username) {
		Log.Warnf("join rejected, not in room: session=%s user=%s room=%d", c.sessionID, msg.Username, msg.RoomID)
		g.send(c, ErrorMessage{Type: MsgNotInRoom, Message: "not in room"})
		return false
	}
	world, ok := g.registry.Get(msg.RoomID)
	if !ok {
		// 对局还没建起来；连接留着，客户端可以稍后重试
		g.send(c, ErrorMessage{Type: MsgError, Message: "game not started"})
		return true
	}

	g.mu.Lock()
	g.bindings[c.sessionID] = binding{roomID: msg.RoomID, username: msg.Username}
	set := g.roomSessions[msg.RoomID]
	if set == nil {
		set = make(map[string]struct{})
		g.roomSessions[msg.RoomID] = set
	}
	set[c.sessionID] = struct{}{}
	g.mu.Unlock()

	world.postWait(command{kind: cmdJoin, username: msg.Username, at: time.Now()})
	g.send(c, JoinedMessage{Type: MsgJoined, RoomID: msg.RoomID, Username: msg.Username})
	Log.Infof("player joined: room=%d user=%s session=%s", msg.RoomID, msg.Username, c.sessionID)
	return true
}

func (g *Gateway) handleInput(c *ClientConn, msg ClientMessage) {
	g.mu.RLock()
	b, ok := g.bindings[c.sessionID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	world, ok := g.registry.Get(b.roomID)
	if !ok {
		return
	}
	world.post(command{
		kind:     cmdInput,
		username: b.username,
		at:       time.Now(),
		input: PlayerInput{
			MoveUp:    msg.MoveUp,
			MoveDown:  msg.MoveDown,
			MoveLeft:  msg.MoveLeft,
			MoveRight: msg.MoveRight,
			Fire:      msg.Fire,
		},
	})
}

// unbind 解除会话绑定并摘出扇出索引；玩家实体留在 World 里
func (g *Gateway) unbind(c *ClientConn) {
	g.mu.Lock()
	b, ok := g.bindings[c.sessionID]
	if ok {
		delete(g.bindings, c.sessionID)
		if set := g.roomSessions[b.roomID]; set != nil {
			delete(set, c.sessionID)
			if len(set) == 0 {
				delete(g.roomSessions, b.roomID)
			}
		}
	}
	g.mu.Unlock()
	if ok {
		if world, exists := g.registry.Get(b.roomID); exists {
			world.postWait(command{kind: cmdLeave, username: b.username, at: time.Now()})
		}
		Log.Infof("player left: room=%d user=%s session=%s", b.roomID, b.username, c.sessionID)
	}
}

func (g *Gateway) cleanup(c *ClientConn) {
	g.unbind(c)
	g.mu.Lock()
	delete(g.sessions, c.sessionID)
	g.mu.Unlock()
	c.Close()
	Log.Infof("ws disconnected: session=%s", c.sessionID)
}

// BroadcastRoom 把快照发给房间内每个在线会话。
// 单个连接发不出去只记日志，绝不影响同房间其他人。
func (g *Gateway) BroadcastRoom(roomID int64, payload []byte) {
	g.mu.RLock()
	conns := make([]*ClientConn, 0, len(g.roomSessions[roomID]))
	for sid := range g.roomSessions[roomID] {
		if c, ok := g.sessions[sid]; ok {
			conns = append(conns, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range conns {
		if !c.Enqueue(payload) {
			Log.Debugf("snapshot dropped: session=%s", c.sessionID)
		}
	}
}

// SessionCount 当前存活的 WS 会话数
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}
