package server

import "time"

// 游戏区域与实体参数。服务端是唯一权威，客户端只负责渲染。
const (
	ArenaWidth  = 480.0
	ArenaHeight = 640.0

	PlayerSpeed  = 200.0 // px/s
	PlayerRadius = 16.0
	PlayerMaxHP  = 100

	BulletSpeed  = 400.0 // px/s，竖直向上
	BulletRadius = 4.0
	BulletDamage = 10

	// 坠落障碍物分大小两档，大的更慢但更硬
	ObstacleSmallRadius   = 16.0
	ObstacleSmallHP       = 1
	ObstacleSmallMinSpeed = 100.0
	ObstacleSmallMaxSpeed = 160.0
	ObstacleBigRadius     = 26.0
	ObstacleBigHP         = 2
	ObstacleBigMinSpeed   = 80.0
	ObstacleBigMaxSpeed   = 120.0
	ObstacleBigProb       = 0.3
	ObstacleSpawnPadding  = 30.0 // 出生点离左右边界的最小距离
	ObstacleMargin        = 40.0 // 越过底边这么多之后才移除

	// 记分
	ScoreKill          = 25
	ScoreObstacleBig   = 10
	ScoreObstacleSmall = 5

	// 障碍物撞击机体的接触伤害
	ContactDamageSmall = 10
	ContactDamageBig   = 25
)

// Player 房间内的玩家实体（服务端权威状态），username 是稳定主键
type Player struct {
	Username string
	X, Y     float64
	VX, VY   float64
	HP       int
	Score    int
	Alive    bool
	LastFire time.Time
}

// Bullet 子弹；命中或出界即销毁，id 在 World 生命周期内唯一
type Bullet struct {
	ID      int64
	Owner   string
	X, Y    float64
	VX, VY  float64
	Damage  int
	Spawned time.Time
}

// Obstacle 从顶部坠落的障碍物
type Obstacle struct {
	ID     int64
	X, Y   float64
	VY     float64
	Radius float64
	HP     int
	Big    bool
}

// PlayerInput 客户端唯一能发送的东西：按键意图，不含任何位置信息
type PlayerInput struct {
	MoveUp    bool
	MoveDown  bool
	MoveLeft  bool
	MoveRight bool
	Fire      bool
}
