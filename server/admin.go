package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// AdminAPI 管理与监控接口。
// /admin/rooms 也是匹配服务开局的入口：大厅确定一桌人之后调这里建 World。
type AdminAPI struct {
	Registry *Registry
	Lobby    *StaticLobby
}

func (a *AdminAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/rooms", a.handleRooms)
	mux.HandleFunc("/admin/config", a.handleConfig)
	mux.HandleFunc("/metrics", a.handleMetrics)
}

// handleRooms
// GET  /admin/rooms            列出活跃对局
// POST /admin/rooms            以 JSON 载荷开一局
func (a *AdminAPI) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		type roomInfo struct {
			RoomID  int64  `json:"roomId"`
			MapName string `json:"mapName"`
			WinMode string `json:"winMode"`
			Phase   string `json:"phase"`
			Frame   int64  `json:"frame"`
			Players int    `json:"players"`
		}
		list := make([]roomInfo, 0)
		a.Registry.ForEachActive(func(world *World) {
			list = append(list, roomInfo{
				RoomID:  world.RoomID,
				MapName: world.MapName,
				WinMode: world.WinMode.Raw,
				Phase:   world.CurrentPhase().String(),
				Frame:   world.Frame(),
				Players: world.PlayerCount(),
			})
		})
		writeJSON(w, list)

	case http.MethodPost:
		var body struct {
			RoomID     int64    `json:"roomId"`
			MapName    string   `json:"mapName"`
			WinMode    string   `json:"winMode"`
			MaxPlayers int      `json:"maxPlayers"`
			Members    []string `json:"members"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RoomID <= 0 {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if a.Lobby != nil {
			a.Lobby.AllowRoom(body.RoomID, body.Members...)
		}
		_, err := a.Registry.Create(body.RoomID, RoomOptions{
			MapName:    body.MapName,
			WinMode:    body.WinMode,
			MaxPlayers: body.MaxPlayers,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "roomId": body.RoomID})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleConfig 房间级参数热更新
// GET  /admin/config?room=1   返回当前参数
// POST /admin/config?room=1   以 JSON 载荷更新部分字段
func (a *AdminAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	world, ok := a.roomFromQuery(w, r)
	if !ok {
		return
	}

	type cfg struct {
		SpawnIntervalMs  *int64 `json:"spawnIntervalMs,omitempty"`
		FireCooldownMs   *int64 `json:"fireCooldownMs,omitempty"`
		MaxInputsPerTick *int64 `json:"maxInputsPerTick,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		spawn := world.spawnIntervalMs.Load()
		cd := world.fireCooldownMs.Load()
		limit := world.maxInputsPerTick.Load()
		writeJSON(w, cfg{SpawnIntervalMs: &spawn, FireCooldownMs: &cd, MaxInputsPerTick: &limit})

	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.SpawnIntervalMs != nil {
			world.spawnIntervalMs.Store(*body.SpawnIntervalMs)
		}
		if body.FireCooldownMs != nil {
			world.fireCooldownMs.Store(*body.FireCooldownMs)
		}
		if body.MaxInputsPerTick != nil {
			world.maxInputsPerTick.Store(*body.MaxInputsPerTick)
		}
		writeJSON(w, map[string]any{"ok": true})
		Log.Infof("config updated: room=%d spawn=%dms cooldown=%dms maxInputs=%d",
			world.RoomID, world.spawnIntervalMs.Load(), world.fireCooldownMs.Load(), world.maxInputsPerTick.Load())

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMetrics 输出指定房间的运行指标
// GET /metrics?room=1
func (a *AdminAPI) handleMetrics(w http.ResponseWriter, r *http.Request) {
	world, ok := a.roomFromQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{
		"room":    world.RoomID,
		"phase":   world.CurrentPhase().String(),
		"frame":   world.Frame(),
		"metrics": world.metrics.Snapshot(),
	})
}

func (a *AdminAPI) roomFromQuery(w http.ResponseWriter, r *http.Request) (*World, bool) {
	roomID, err := strconv.ParseInt(r.URL.Query().Get("room"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid room query", http.StatusBadRequest)
		return nil, false
	}
	world, ok := a.Registry.Get(roomID)
	if !ok {
		http.Error(w, "no active world for room", http.StatusNotFound)
		return nil, false
	}
	return world, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
