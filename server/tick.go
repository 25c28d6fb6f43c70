package server

import (
	"encoding/json"
	"time"
)

// runWorld 房间的单一写者：命令和定时 Tick 都在这一个 goroutine 上消化，
// World 的可变状态因此不需要锁
func (r *Registry) runWorld(w *World) {
	interval := time.Duration(r.cfg.TickIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.quit:
			return
		case cmd := <-w.inbox:
			r.safeApply(w, cmd)
		case <-ticker.C:
			r.safeTick(w, time.Now())
		}
	}
}

// safeTick 单个房间某一帧炸了，不能波及别的房间，也不能打断它自己的后续帧
func (r *Registry) safeTick(w *World, now time.Time) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			Log.Errorf("tick panic: room=%d frame=%d err=%v", w.RoomID, w.Frame(), rec)
		}
	}()
	r.tickWorld(w, now)
	w.metrics.AddTick(time.Since(start).Nanoseconds())
}

func (r *Registry) safeApply(w *World, cmd command) {
	defer func() {
		if rec := recover(); rec != nil {
			Log.Errorf("command panic: room=%d user=%s err=%v", w.RoomID, cmd.username, rec)
		}
	}()
	r.applyCommand(w, cmd)
}

// tickWorld 推进一帧。IN_PROGRESS 的顺序固定：
// 生成障碍 → 位置积分 → 碰撞 → 判定结束 → 广播 → 帧号+1，
// 终结比赛的那次击杀和最终快照因此出现在同一帧里。
func (r *Registry) tickWorld(w *World, now time.Time) {
	for k := range w.inputsThisTick {
		delete(w.inputsThisTick, k)
	}

	switch w.CurrentPhase() {
	case PhaseWaiting:
		// 没人加入之前什么都不做

	case PhaseCountdown:
		if !now.Before(w.StartAt) {
			w.setPhase(PhaseInProgress)
			Log.Infof("game started: room=%d players=%d", w.RoomID, len(w.Players))
		}
		// 倒计时阶段照样广播，客户端靠它显示剩余时间
		r.broadcast(w, now)

	case PhaseInProgress:
		dt := float64(r.cfg.TickIntervalMs) / 1000.0
		r.engine.SpawnObstacles(w, now)
		r.engine.UpdatePositions(w, dt)
		r.engine.DetectCollisions(w)
		if w.WinMode.Satisfied(w, now) {
			r.finishWorld(w, now)
		}
		r.broadcast(w, now)
		w.frame.Add(1)

	case PhaseFinished:
		// 等延迟回收，不再推进
	}
}

// finishWorld 收官：置 FINISHED、结算、安排延迟回收。只会生效一次。
func (r *Registry) finishWorld(w *World, now time.Time) {
	if w.finalized {
		return
	}
	w.finalized = true
	w.setPhase(PhaseFinished)

	res := buildResult(w, now)
	if r.bus != nil {
		r.bus.Publish(Event{Kind: EventGameEnded, RoomID: w.RoomID, At: now, Winner: res.Winner})
	}
	Log.Infof("game finished: room=%d winner=%s frames=%d players=%d",
		w.RoomID, res.Winner, res.Frames, res.PlayerCount)
	if r.finalizer != nil {
		r.finalizer.Finalize(res)
	}

	// 回收定时器捕获的是这一个 World 实例，房号复用不会删错
	grace := time.Duration(r.cfg.TeardownGraceMs) * time.Millisecond
	w.teardown.Store(time.AfterFunc(grace, func() { r.removeInstance(w) }))
}

func (r *Registry) applyCommand(w *World, cmd command) {
	switch cmd.kind {
	case cmdJoin:
		if _, exists := w.Players[cmd.username]; !exists {
			if len(w.Players) >= w.MaxPlayers {
				Log.Warnf("join ignored, world full: room=%d user=%s", w.RoomID, cmd.username)
				return
			}
			w.addPlayer(cmd.username)
		}
		// 第一个人进来才起倒计时
		if w.CurrentPhase() == PhaseWaiting {
			w.StartAt = cmd.at.Add(time.Duration(r.cfg.CountdownMs) * time.Millisecond)
			w.setPhase(PhaseCountdown)
		}
		if r.bus != nil {
			r.bus.Publish(Event{Kind: EventPlayerJoined, RoomID: w.RoomID, At: cmd.at, Username: cmd.username})
		}

	case cmdInput:
		if w.CurrentPhase() != PhaseInProgress {
			w.metrics.IncInputsIgnored()
			return
		}
		p, ok := w.Players[cmd.username]
		if !ok || !p.Alive {
			w.metrics.IncInputsIgnored()
			return
		}
		if limit := int(w.maxInputsPerTick.Load()); limit > 0 {
			w.inputsThisTick[cmd.username]++
			if w.inputsThisTick[cmd.username] > limit {
				w.metrics.IncRateLimited()
				return
			}
		}
		r.engine.ApplyPlayerInput(p, cmd.input)
		if cmd.input.Fire && r.engine.CanFire(w, p, cmd.at) {
			r.engine.SpawnBullet(w, p, cmd.at)
		}
		w.metrics.IncInputsAccepted()

	case cmdLeave:
		// 实体留在对局里（断线重连还能接着打），只把速度清零
		if p, ok := w.Players[cmd.username]; ok {
			p.VX, p.VY = 0, 0
		}
	}
}

func (r *Registry) broadcast(w *World, now time.Time) {
	msg := buildGameState(w, now)
	payload, err := json.Marshal(msg)
	if err != nil {
		Log.Errorf("snapshot marshal failed: room=%d err=%v", w.RoomID, err)
		return
	}
	if r.broadcaster != nil {
		r.broadcaster.BroadcastRoom(w.RoomID, payload)
	}
}
