// peer/peer.go
package peer

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/esquisse/broadcast"
	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/network"
)

type subKey struct {
	topic     models.Topic
	sessionID string
}

// Peer is one connected client and the subscriptions it holds.
type Peer struct {
	ID         string
	Profile    models.PlayerProfile
	Conn       network.Connection
	CreatedAt  time.Time
	lastActive time.Time
	subs       map[subKey]*broadcast.Subscription
	mutex      sync.Mutex
	wg         sync.WaitGroup
}

func NewPeer(id string, profile models.PlayerProfile, conn network.Connection) *Peer {
	now := time.Now()
	return &Peer{
		ID:         id,
		Profile:    profile,
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
		subs:       make(map[subKey]*broadcast.Subscription),
	}
}

func (p *Peer) PlayerID() string {
	return p.Profile.ID
}

func (p *Peer) Touch() {
	p.mutex.Lock()
	p.lastActive = time.Now()
	p.mutex.Unlock()
}

func (p *Peer) LastActive() time.Time {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.lastActive
}

// Send JSON encodes v and writes it as one packet.
func (p *Peer) Send(msgID uint16, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Conn.Send(msgID, data)
}

// Subscribe starts forwarding topic events of sessionID to the connection. It
// reports false when the subscription already exists.
func (p *Peer) Subscribe(bus *broadcast.Bus, topic models.Topic, sessionID string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	key := subKey{topic, sessionID}
	if _, exists := p.subs[key]; exists {
		return false
	}
	sub := bus.Subscribe(topic, sessionID, nil)
	p.subs[key] = sub

	p.wg.Add(1)
	go p.forward(sub)
	return true
}

// forward 将订阅的事件推送给客户端，订阅关闭后退出
func (p *Peer) forward(sub *broadcast.Subscription) {
	defer p.wg.Done()
	msgID := network.EventMsgType(sub.Topic())
	for event := range sub.C {
		err := p.Send(msgID, event)
		switch {
		case errors.Is(err, network.ErrPayloadTooLarge):
			logger.Log.Warnf("Dropped %s of session %s for peer %s: %v", event.Topic, event.SessionID, p.ID, err)
		case err != nil:
			logger.Log.Debugf("Failed to push %s to peer %s: %v", event.Topic, p.ID, err)
		}
	}

	// 总线关闭了订阅（会话过期）时移除记录，允许重新订阅
	key := subKey{sub.Topic(), sub.SessionID()}
	p.mutex.Lock()
	if p.subs[key] == sub {
		delete(p.subs, key)
	}
	p.mutex.Unlock()
}

func (p *Peer) Unsubscribe(topic models.Topic, sessionID string) bool {
	p.mutex.Lock()
	key := subKey{topic, sessionID}
	sub, exists := p.subs[key]
	delete(p.subs, key)
	p.mutex.Unlock()

	if exists {
		sub.Close()
	}
	return exists
}

func (p *Peer) Subscriptions() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.subs)
}

// Close ends every subscription, waits for the forwarders and closes the
// connection.
func (p *Peer) Close() error {
	p.mutex.Lock()
	subs := p.subs
	p.subs = make(map[subKey]*broadcast.Subscription)
	p.mutex.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	p.wg.Wait()
	return p.Conn.Close()
}

// Peer管理器
type Manager struct {
	peers map[string]*Peer
	mutex sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		peers: make(map[string]*Peer),
	}
}

func (m *Manager) Add(p *Peer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.peers[p.ID] = p
}

func (m *Manager) Remove(peerID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.peers, peerID)
}

func (m *Manager) Get(peerID string) (*Peer, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	p, exists := m.peers[peerID]
	return p, exists
}

func (m *Manager) GetByPlayerID(playerID string) []*Peer {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Peer
	for _, p := range m.peers {
		if p.PlayerID() == playerID {
			result = append(result, p)
		}
	}
	return result
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.peers)
}

// CloseAll 关闭所有连接
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	peers := m.peers
	m.peers = make(map[string]*Peer)
	m.mutex.Unlock()

	for _, p := range peers {
		p.Close()
	}
}
