// room/room.go
package room

import (
	"sync"
	"time"
)

// Info 房间信息快照
type Info struct {
	ID         string
	CreatedAt  time.Time
	LastActive time.Time
}

// Room 是一个会话在本进程内的运行时状态
type Room struct {
	Info
	mutex sync.Mutex // 串行化对同一会话的读改写
	refs  int
}

// Manager 管理所有房间
type Manager struct {
	rooms map[string]*Room
	mutex sync.Mutex
	now   func() time.Time
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

// Lock blocks until the caller owns the session and returns the release func.
func (m *Manager) Lock(sessionID string) func() {
	m.mutex.Lock()
	room := m.getOrCreateLocked(sessionID)
	room.refs++
	m.mutex.Unlock()

	room.mutex.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mutex.Lock()
			room.LastActive = m.now()
			room.refs--
			m.mutex.Unlock()
			room.mutex.Unlock()
		})
	}
}

func (m *Manager) getOrCreateLocked(sessionID string) *Room {
	room, exists := m.rooms[sessionID]
	if !exists {
		now := m.now()
		room = &Room{Info: Info{ID: sessionID, CreatedAt: now, LastActive: now}}
		m.rooms[sessionID] = room
	}
	return room
}

// Touch 标记会话活跃
func (m *Manager) Touch(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.getOrCreateLocked(sessionID).LastActive = m.now()
}

// RemoveRoom 从管理器中移除一个房间. Rooms still held by a writer stay until
// the next removal.
func (m *Manager) RemoveRoom(sessionID string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, exists := m.rooms[sessionID]
	if !exists || room.refs > 0 {
		return false
	}
	delete(m.rooms, sessionID)
	return true
}

// GetRoom 返回房间信息的副本
func (m *Manager) GetRoom(sessionID string) (Info, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, exists := m.rooms[sessionID]
	if !exists {
		return Info{}, false
	}
	return room.Info, true
}

// Count 返回当前房间数量
func (m *Manager) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.rooms)
}

// IdleSince lists rooms with no activity after cutoff.
func (m *Manager) IdleSince(cutoff time.Time) []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var ids []string
	for id, room := range m.rooms {
		if room.refs == 0 && room.LastActive.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
