package handler

import (
	"github.com/moonduel/server/internal/world"
)

// BroadcastToPlayers queues data for every joined human player.
func BroadcastToPlayers(ws *world.State, data []byte) int {
	n := 0
	ws.AllPlayers(func(p *world.PlayerInfo) {
		if p.Session == nil || p.Session.IsClosed() {
			return
		}
		p.Session.Send(data)
		n++
	})
	return n
}
