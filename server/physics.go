package server

import (
	"math"
	"time"
)

// Engine 物理与碰撞引擎。方法都作用在单个 World 上，
// 由该房间的 goroutine 串行调用，内部不加锁。
type Engine struct {
	bus *EventBus
}

func NewEngine(bus *EventBus) *Engine {
	return &Engine{bus: bus}
}

func (e *Engine) publish(ev Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// UpdatePositions 按固定步长推进所有实体。
// 玩家裁剪在场地内；子弹出界、障碍物滚过底边即移除。
func (e *Engine) UpdatePositions(w *World, dt float64) {
	for _, p := range w.Players {
		if !p.Alive {
			continue
		}
		p.X += p.VX * dt
		p.Y += p.VY * dt
		p.X = clamp(p.X, PlayerRadius, ArenaWidth-PlayerRadius)
		p.Y = clamp(p.Y, PlayerRadius, ArenaHeight-PlayerRadius)
	}
	for id, b := range w.Bullets {
		b.X += b.VX * dt
		b.Y += b.VY * dt
		if b.Y < -BulletRadius || b.Y > ArenaHeight+BulletRadius ||
			b.X < -BulletRadius || b.X > ArenaWidth+BulletRadius {
			delete(w.Bullets, id)
		}
	}
	for id, o := range w.Obstacles {
		o.Y += o.VY * dt
		if o.Y-o.Radius > ArenaHeight+ObstacleMargin {
			delete(w.Obstacles, id)
		}
	}
}

// DetectCollisions 半径和判交。命中只改状态并发事件，日志交给订阅方。
func (e *Engine) DetectCollisions(w *World) {
	now := time.Now()

	for bid, b := range w.Bullets {
		hit := false
		// 子弹 vs 玩家：不打自己
		for _, p := range w.Players {
			if !p.Alive || p.Username == b.Owner {
				continue
			}
			if circleOverlap(b.X, b.Y, BulletRadius, p.X, p.Y, PlayerRadius) {
				e.hitPlayer(w, b, p, now)
				hit = true
				break
			}
		}
		if !hit {
			// 子弹 vs 障碍物
			for oid, o := range w.Obstacles {
				if circleOverlap(b.X, b.Y, BulletRadius, o.X, o.Y, o.Radius) {
					e.hitObstacle(w, b, o, now)
					if o.HP <= 0 {
						delete(w.Obstacles, oid)
					}
					hit = true
					break
				}
			}
		}
		if hit {
			delete(w.Bullets, bid)
		}
	}

	// 障碍物 vs 玩家：撞上即碎，给机体接触伤害
	for oid, o := range w.Obstacles {
		for _, p := range w.Players {
			if !p.Alive {
				continue
			}
			if circleOverlap(o.X, o.Y, o.Radius, p.X, p.Y, PlayerRadius) {
				damage := ContactDamageSmall
				if o.Big {
					damage = ContactDamageBig
				}
				p.HP -= damage
				if p.HP <= 0 {
					p.HP = 0
					p.Alive = false
				}
				delete(w.Obstacles, oid)
				e.publish(Event{
					Kind: EventCollision, RoomID: w.RoomID, At: now,
					Collision: CollisionObstaclePlayer, Target: p.Username,
				})
				break
			}
		}
	}
}

func (e *Engine) hitPlayer(w *World, b *Bullet, p *Player, now time.Time) {
	p.HP -= b.Damage
	killed := false
	if p.HP <= 0 {
		p.HP = 0
		p.Alive = false
		killed = true
	}
	e.publish(Event{
		Kind: EventCollision, RoomID: w.RoomID, At: now,
		Collision: CollisionBulletPlayer, Attacker: b.Owner, Target: p.Username,
	})
	if killed {
		e.creditScore(w, b.Owner, ScoreKill, now)
	}
}

func (e *Engine) hitObstacle(w *World, b *Bullet, o *Obstacle, now time.Time) {
	o.HP--
	e.publish(Event{
		Kind: EventCollision, RoomID: w.RoomID, At: now,
		Collision: CollisionBulletObstacle, Attacker: b.Owner,
	})
	if o.HP <= 0 {
		gain := ScoreObstacleSmall
		if o.Big {
			gain = ScoreObstacleBig
		}
		e.creditScore(w, b.Owner, gain, now)
	}
}

func (e *Engine) creditScore(w *World, username string, delta int, now time.Time) {
	p, ok := w.Players[username]
	if !ok {
		return
	}
	p.Score += delta
	e.publish(Event{
		Kind: EventScoreUpdated, RoomID: w.RoomID, At: now,
		Username: username, ScoreDelta: delta, ScoreTotal: p.Score,
	})
}

// ApplyPlayerInput 把按键意图换算成速度向量。
// 对角方向做单位化，斜着走不会比直走快。
func (e *Engine) ApplyPlayerInput(p *Player, in PlayerInput) {
	var ax, ay float64
	if in.MoveUp {
		ay--
	}
	if in.MoveDown {
		ay++
	}
	if in.MoveLeft {
		ax--
	}
	if in.MoveRight {
		ax++
	}
	mag := math.Hypot(ax, ay)
	if mag == 0 {
		p.VX, p.VY = 0, 0
		return
	}
	p.VX = ax / mag * PlayerSpeed
	p.VY = ay / mag * PlayerSpeed
}

// CanFire 服务端射速门：无论客户端声称什么，间隔不够一律不发弹
func (e *Engine) CanFire(w *World, p *Player, now time.Time) bool {
	cooldown := time.Duration(w.fireCooldownMs.Load()) * time.Millisecond
	return now.Sub(p.LastFire) >= cooldown
}

// SpawnBullet 在机头位置生成一发向上的子弹
func (e *Engine) SpawnBullet(w *World, p *Player, now time.Time) *Bullet {
	w.nextBulletID++
	b := &Bullet{
		ID:      w.nextBulletID,
		Owner:   p.Username,
		X:       p.X,
		Y:       p.Y - PlayerRadius,
		VY:      -BulletSpeed,
		Damage:  BulletDamage,
		Spawned: now,
	}
	w.Bullets[b.ID] = b
	p.LastFire = now
	w.metrics.IncBulletsFired()
	return b
}

// SpawnObstacles 按间隔从顶部随机位置生成障碍物
func (e *Engine) SpawnObstacles(w *World, now time.Time) {
	interval := time.Duration(w.spawnIntervalMs.Load()) * time.Millisecond
	if interval <= 0 || now.Sub(w.lastSpawnAt) < interval {
		return
	}
	w.lastSpawnAt = now
	w.nextObstacleID++
	o := &Obstacle{
		ID: w.nextObstacleID,
		X:  ObstacleSpawnPadding + w.rng.Float64()*(ArenaWidth-2*ObstacleSpawnPadding),
	}
	if w.rng.Float64() < ObstacleBigProb {
		o.Big = true
		o.Radius = ObstacleBigRadius
		o.HP = ObstacleBigHP
		o.VY = ObstacleBigMinSpeed + w.rng.Float64()*(ObstacleBigMaxSpeed-ObstacleBigMinSpeed)
	} else {
		o.Radius = ObstacleSmallRadius
		o.HP = ObstacleSmallHP
		o.VY = ObstacleSmallMinSpeed + w.rng.Float64()*(ObstacleSmallMaxSpeed-ObstacleSmallMinSpeed)
	}
	o.Y = -o.Radius
	w.Obstacles[o.ID] = o
	w.metrics.IncObstaclesSpawned()
}

func circleOverlap(x1, y1, r1, x2, y2, r2 float64) bool {
	return math.Hypot(x1-x2, y1-y2) < r1+r2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
