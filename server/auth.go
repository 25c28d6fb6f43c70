package server

import "sync"

// 登录、发 token、大厅座位分配都是外部系统的事，
// 这里只定义本服务消费的两个查询口，外加内存替身方便单机跑通。

// TokenVerifier token → 身份
type TokenVerifier interface {
	UserByToken(token string) (username string, ok bool)
}

// RoomMembership 用户是否被匹配进了某个房间
type RoomMembership interface {
	IsMember(roomID int64, username string) bool
}

// StaticAuth 外部登录系统的内存替身；token 由启动配置灌入
type StaticAuth struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewStaticAuth() *StaticAuth {
	return &StaticAuth{tokens: make(map[string]string)}
}

func (a *StaticAuth) Grant(token, username string) {
	if token == "" || username == "" {
		return
	}
	a.mu.Lock()
	a.tokens[token] = username
	a.mu.Unlock()
}

func (a *StaticAuth) UserByToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	username, ok := a.tokens[token]
	return username, ok
}

// StaticLobby 大厅/匹配服务的内存替身：记成员名单，承接赛后重置信号。
// 重置只是把房间标回可加入，名单保留——这桌人还坐在这。
type StaticLobby struct {
	mu    sync.RWMutex
	rooms map[int64]map[string]struct{}
}

func NewStaticLobby() *StaticLobby {
	return &StaticLobby{rooms: make(map[int64]map[string]struct{})}
}

func (l *StaticLobby) AllowRoom(roomID int64, usernames ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.rooms[roomID]
	if set == nil {
		set = make(map[string]struct{})
		l.rooms[roomID] = set
	}
	for _, u := range usernames {
		if u != "" {
			set[u] = struct{}{}
		}
	}
}

func (l *StaticLobby) IsMember(roomID int64, username string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.rooms[roomID][username]
	return ok
}

func (l *StaticLobby) ResetRoom(roomID int64) {
	Log.Infof("room reset to waiting: room=%d", roomID)
}
