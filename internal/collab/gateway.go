package collab

import (
	"encoding/json"
	"sync"

	"collab-sync/internal/logger"

	mapset "github.com/deckarep/golang-set/v2"
)

// Peer is a live connection that can receive protocol messages.
type Peer interface {
	ClientID() string
	// Send queues a message for delivery. It must not block.
	Send(message []byte) error
}

// Gateway is the routing index used for fan-out: document id → live peers.
// It mirrors the instances' user maps so that delivery never touches instance
// state or locks.
type Gateway struct {
	mu    sync.RWMutex
	rooms map[string]mapset.Set[Peer]
}

// NewGateway creates a gateway with no rooms.
func NewGateway() *Gateway {
	return &Gateway{rooms: make(map[string]mapset.Set[Peer])}
}

// Register adds a peer to a document room.
func (g *Gateway) Register(documentID string, peer Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[documentID]
	if !ok {
		room = mapset.NewSet[Peer]()
		g.rooms[documentID] = room
	}
	room.Add(peer)
}

// Unregister removes a peer and returns how many peers remain in the room.
func (g *Gateway) Unregister(documentID string, peer Peer) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[documentID]
	if !ok {
		return 0
	}
	room.Remove(peer)
	remaining := room.Cardinality()
	if remaining == 0 {
		delete(g.rooms, documentID)
	}
	return remaining
}

// Peers returns a copy of the peers registered for a document.
func (g *Gateway) Peers(documentID string) []Peer {
	g.mu.RLock()
	room, ok := g.rooms[documentID]
	g.mu.RUnlock()

	if !ok {
		return nil
	}
	return room.ToSlice()
}

// AllPeers returns every registered peer across all documents.
func (g *Gateway) AllPeers() []Peer {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var all []Peer
	for _, room := range g.rooms {
		all = append(all, room.ToSlice()...)
	}
	return all
}

// Count is the total number of registered peers.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, room := range g.rooms {
		n += room.Cardinality()
	}
	return n
}

// BroadcastToAll sends to every peer of the document and returns the number
// of successful sends.
func (g *Gateway) BroadcastToAll(documentID string, message []byte) int {
	return g.deliver(documentID, message, func(Peer) bool { return true })
}

// BroadcastToOthers sends to every peer of the document except exclude.
func (g *Gateway) BroadcastToOthers(documentID string, exclude Peer, message []byte) int {
	return g.deliver(documentID, message, func(p Peer) bool { return p != exclude })
}

// BroadcastToOne sends only to the peer with clientID. A missing peer is not
// an error: it may have disconnected after the triggering action.
func (g *Gateway) BroadcastToOne(documentID, clientID string, message []byte) bool {
	delivered := g.deliver(documentID, message, func(p Peer) bool { return p.ClientID() == clientID })
	if delivered == 0 {
		logger.L().Info("targeted delivery skipped, client not connected",
			"document_id", documentID,
			"client_id", clientID,
		)
		return false
	}
	return true
}

// PushSteps delivers steps authored by an automation actor to one client.
// Every step is attributed to AgentClientID.
func (g *Gateway) PushSteps(documentID, clientID string, version int, steps []json.RawMessage, changeID string) bool {
	clientIDs := make([]string, len(steps))
	for i := range clientIDs {
		clientIDs[i] = AgentClientID
	}

	msg := encode(StepsMessage{
		Type:      MsgSteps,
		Version:   version,
		Steps:     steps,
		ClientIDs: clientIDs,
		ChangeID:  changeID,
	})
	if msg == nil {
		return false
	}
	return g.BroadcastToOne(documentID, clientID, msg)
}

func (g *Gateway) deliver(documentID string, message []byte, include func(Peer) bool) int {
	sent := 0
	for _, peer := range g.Peers(documentID) {
		if !include(peer) {
			continue
		}
		if err := peer.Send(message); err != nil {
			logger.L().Warn("failed to deliver message",
				"document_id", documentID,
				"client_id", peer.ClientID(),
				"error", err,
			)
			continue
		}
		sent++
	}
	return sent
}
