package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDispatchByKind(t *testing.T) {
	bus := NewEventBus()

	var joined, scored []Event
	bus.Subscribe(EventPlayerJoined, func(ev Event) { joined = append(joined, ev) })
	bus.Subscribe(EventScoreUpdated, func(ev Event) { scored = append(scored, ev) })

	bus.Publish(Event{Kind: EventPlayerJoined, RoomID: 1, Username: "alice", At: time.Now()})
	bus.Publish(Event{Kind: EventScoreUpdated, RoomID: 1, Username: "alice", ScoreDelta: 5, ScoreTotal: 5})
	bus.Publish(Event{Kind: EventGameEnded, RoomID: 1, Winner: "alice"})

	assert.Len(t, joined, 1)
	assert.Equal(t, "alice", joined[0].Username)
	assert.Len(t, scored, 1)
	assert.Equal(t, 5, scored[0].ScoreDelta)
}

func TestEventBusMultipleHandlers(t *testing.T) {
	bus := NewEventBus()
	var a, b int
	bus.Subscribe(EventCollision, func(Event) { a++ })
	bus.Subscribe(EventCollision, func(Event) { b++ })

	bus.Publish(Event{Kind: EventCollision, Collision: CollisionBulletPlayer})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

// TestEventBusHandlerPanicIsolated 单个监听器炸了，发布方和其余监听器不受影响
func TestEventBusHandlerPanicIsolated(t *testing.T) {
	bus := NewEventBus()
	var after int
	bus.Subscribe(EventGameEnded, func(Event) { panic("handler boom") })
	bus.Subscribe(EventGameEnded, func(Event) { after++ })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Kind: EventGameEnded, RoomID: 7, Winner: "bob"})
	})
	assert.Equal(t, 1, after)
}

func TestEventBusNoHandlers(t *testing.T) {
	bus := NewEventBus()
	assert.NotPanics(t, func() { bus.Publish(Event{Kind: EventCollision}) })
}

func TestCollisionKindString(t *testing.T) {
	assert.Equal(t, "bullet_player", CollisionBulletPlayer.String())
	assert.Equal(t, "bullet_obstacle", CollisionBulletObstacle.String())
	assert.Equal(t, "obstacle_player", CollisionObstaclePlayer.String())
	assert.Equal(t, "unknown", CollisionKind(99).String())
}
