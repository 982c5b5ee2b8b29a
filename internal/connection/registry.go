package connection

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"sudooom.im.chat/internal/model"
)

// PresenceHook 每次 Admit / Evict 之后在注册表锁内同步调用
// snapshot 为变更后的在线快照，live 为仍然存活的全部连接
// 实现不能回调 Registry 的任何方法
type PresenceHook func(snapshot model.PresenceSnapshot, live []*Connection)

// Registry 连接注册表：谁在线、在哪些连接上
// Admit / Evict / Snapshot / ConnectionsFor 以及探活状态迁移全部由同一把锁串行化
type Registry struct {
	connections map[int64]*Connection
	userConns   map[int64]map[int64]*Connection // userID -> connID -> Connection
	hook        PresenceHook
	logger      *slog.Logger
	mu          sync.Mutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		connections: make(map[int64]*Connection),
		userConns:   make(map[int64]map[int64]*Connection),
		logger:      logger,
	}
}

// SetPresenceHook 设置在线状态变更回调
func (r *Registry) SetPresenceHook(hook PresenceHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

// Admit 登记连接，identity 为 nil 时连接被跟踪但不参与在线列表和单聊投递
// 已关闭的连接不会被登记
func (r *Registry) Admit(conn *Connection, identity *model.Identity) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.Closed() {
		r.logger.Debug("Skip admitting closed connection", "conn_id", conn.ID())
		return conn
	}
	if _, ok := r.connections[conn.ID()]; ok {
		return conn
	}
	if identity != nil && identity.UserID <= 0 {
		identity = nil
	}

	if identity != nil {
		id := *identity
		conn.identity.Store(&id)
	}
	conn.state.Store(int32(StateAlive))
	r.connections[conn.ID()] = conn

	if identity != nil {
		if _, ok := r.userConns[identity.UserID]; !ok {
			r.userConns[identity.UserID] = make(map[int64]*Connection)
		}
		r.userConns[identity.UserID][conn.ID()] = conn
	}

	r.logger.Debug("Connection admitted",
		"conn_id", conn.ID(),
		"userId", conn.UserID(),
		"total", len(r.connections))

	r.notifyLocked()
	return conn
}

// Evict 移除并关闭连接，重复移除是空操作，返回是否真正移除
func (r *Registry) Evict(conn *Connection) bool {
	r.mu.Lock()
	removed := r.evictLocked(conn)
	r.mu.Unlock()

	if removed {
		conn.Close()
	}
	return removed
}

func (r *Registry) evictLocked(conn *Connection) bool {
	if r.connections[conn.ID()] != conn {
		return false
	}

	delete(r.connections, conn.ID())

	// 从用户连接映射中移除
	if userID := conn.UserID(); userID > 0 {
		if userConns, ok := r.userConns[userID]; ok {
			delete(userConns, conn.ID())
			if len(userConns) == 0 {
				delete(r.userConns, userID)
			}
		}
	}

	if conn.deathTimer != nil {
		conn.deathTimer.Stop()
		conn.deathTimer = nil
	}
	conn.pendingDeathDeadline = time.Time{}
	conn.state.Store(int32(StateDead))

	r.logger.Debug("Connection evicted",
		"conn_id", conn.ID(),
		"userId", conn.UserID(),
		"total", len(r.connections))

	r.notifyLocked()
	return true
}

// ConnectionsFor 返回用户的全部存活连接，离线时返回空切片
func (r *Registry) ConnectionsFor(userID int64) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	userConns, ok := r.userConns[userID]
	if !ok {
		return []*Connection{}
	}

	conns := make([]*Connection, 0, len(userConns))
	for _, conn := range userConns {
		conns = append(conns, conn)
	}
	sortByID(conns)
	return conns
}

// Snapshot 当前在线用户快照（按用户去重，按 userId 排序）
func (r *Registry) Snapshot() model.PresenceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() model.PresenceSnapshot {
	snapshot := make(model.PresenceSnapshot, 0, len(r.userConns))
	for userID, conns := range r.userConns {
		// 多设备时取连接 ID 最小的那个连接上的用户名
		entry := model.PresenceEntry{UserID: userID}
		var first *Connection
		for _, conn := range conns {
			if conn.Identity() == nil {
				continue
			}
			if first == nil || conn.ID() < first.ID() {
				first = conn
			}
		}
		if first != nil {
			entry.Username = first.Identity().Username
		}
		snapshot = append(snapshot, entry)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].UserID < snapshot[j].UserID
	})
	return snapshot
}

// Get 按连接 ID 查找
func (r *Registry) Get(connID int64) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections[connID]
}

// Count 存活连接数（含未认证连接）
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// All 返回全部存活连接
func (r *Registry) All() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allLocked()
}

func (r *Registry) allLocked() []*Connection {
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	sortByID(conns)
	return conns
}

// EvictAll 移除全部连接（停机时使用）
func (r *Registry) EvictAll() int {
	count := 0
	for _, conn := range r.All() {
		if r.Evict(conn) {
			count++
		}
	}
	return count
}

func (r *Registry) notifyLocked() {
	if r.hook == nil {
		return
	}
	r.hook(r.snapshotLocked(), r.allLocked())
}

// ============== 探活状态迁移 ==============

// beginProbe ALIVE -> PROBE_SENT，并挂上死亡定时器
func (r *Registry) beginProbe(conn *Connection, deadline time.Duration, onExpire func(seq uint64)) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connections[conn.ID()] != conn || conn.State() != StateAlive {
		return 0, false
	}

	now := time.Now()
	conn.probeSeq++
	seq := conn.probeSeq
	conn.lastPingSentAt = now
	conn.pendingDeathDeadline = now.Add(deadline)
	conn.state.Store(int32(StateProbeSent))
	conn.deathTimer = time.AfterFunc(deadline, func() {
		onExpire(seq)
	})
	return seq, true
}

// ack PROBE_SENT -> ALIVE；连接已移除或未在等待 pong 时为空操作
func (r *Registry) ack(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connections[conn.ID()] != conn || conn.State() != StateProbeSent {
		return false
	}

	if conn.deathTimer != nil {
		conn.deathTimer.Stop()
		conn.deathTimer = nil
	}
	conn.pendingDeathDeadline = time.Time{}
	conn.state.Store(int32(StateAlive))
	return true
}

// expire PROBE_SENT -> DEAD；seq 不匹配说明是过期的定时器
func (r *Registry) expire(conn *Connection, seq uint64) bool {
	r.mu.Lock()
	if r.connections[conn.ID()] != conn || conn.State() != StateProbeSent || conn.probeSeq != seq {
		r.mu.Unlock()
		return false
	}
	if conn.deathTimer != nil {
		conn.deathTimer.Stop()
		conn.deathTimer = nil
	}
	removed := r.evictLocked(conn)
	r.mu.Unlock()

	if removed {
		conn.Close()
	}
	return removed
}

// ProbeInfo 探活状态快照（用于调试和测试）
type ProbeInfo struct {
	State                State
	LastPingSentAt       time.Time
	PendingDeathDeadline time.Time
}

// ProbeInfo 读取连接的探活状态
func (r *Registry) ProbeInfo(conn *Connection) ProbeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ProbeInfo{
		State:                conn.State(),
		LastPingSentAt:       conn.lastPingSentAt,
		PendingDeathDeadline: conn.pendingDeathDeadline,
	}
}

func sortByID(conns []*Connection) {
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ID() < conns[j].ID()
	})
}
