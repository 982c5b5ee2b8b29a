package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testInterval = 30 * time.Millisecond
	testDeadline = 15 * time.Millisecond
)

func TestMonitor_Defaults(t *testing.T) {
	m := NewMonitor(NewRegistry(nil), 0, 0, nil)
	assert.Equal(t, DefaultProbeInterval, m.Interval())
	assert.Equal(t, DefaultProbeDeadline, m.Deadline())
}

func TestMonitor_MissedAckEvictsOnce(t *testing.T) {
	r, rec := newTestRegistry(t)
	m := NewMonitor(r, testInterval, testDeadline, nil)

	silent, tr := newTestConn(t)
	other, _ := newTestConn(t)
	r.Admit(silent, identity(1, "alice"))
	r.Admit(other, identity(2, "bob"))
	require.Equal(t, 2, rec.count())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Watch(ctx, silent)
		close(done)
	}()

	require.Eventually(t, func() bool { return silent.Closed() }, time.Second, 5*time.Millisecond)
	<-done

	assert.GreaterOrEqual(t, tr.Pings(), 1)
	assert.Equal(t, int64(1), m.Evictions())
	assert.Equal(t, StateDead, silent.State())
	assert.Empty(t, r.ConnectionsFor(1))

	// 恰好一次在线列表广播，发给剩余连接
	assert.Equal(t, 3, rec.count())
	last := rec.last()
	assert.Equal(t, []int64{2}, last.snapshot.UserIDs())
	assert.Equal(t, []*Connection{other}, last.live)
}

func TestMonitor_AckKeepsAlive(t *testing.T) {
	r, rec := newTestRegistry(t)
	m := NewMonitor(r, testInterval, 200*time.Millisecond, nil)

	conn, tr := newTestConn(t)
	tr.setOnPing(func() { m.Ack(conn) })
	r.Admit(conn, identity(1, "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx, conn)

	require.Eventually(t, func() bool { return tr.Pings() >= 3 }, 2*time.Second, 5*time.Millisecond)

	assert.False(t, conn.Closed())
	assert.Equal(t, StateAlive, r.ProbeInfo(conn).State)
	assert.Equal(t, int64(0), m.Evictions())
	assert.Equal(t, 1, rec.count())
	assert.True(t, r.Snapshot().Contains(1))
}

func TestMonitor_PingFailureEvicts(t *testing.T) {
	r, _ := newTestRegistry(t)
	m := NewMonitor(r, testInterval, time.Hour, nil)

	conn, tr := newTestConn(t)
	tr.setPingErr(errors.New("broken pipe"))
	r.Admit(conn, identity(1, "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx, conn)

	require.Eventually(t, func() bool { return conn.Closed() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), m.Evictions())
	assert.False(t, r.Snapshot().Contains(1))
}

func TestMonitor_LateAckIsNoop(t *testing.T) {
	r, rec := newTestRegistry(t)
	m := NewMonitor(r, testInterval, testDeadline, nil)

	conn, _ := newTestConn(t)
	r.Admit(conn, identity(1, "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx, conn)

	require.Eventually(t, func() bool { return conn.Closed() }, time.Second, 5*time.Millisecond)
	calls := rec.count()

	m.Ack(conn)

	assert.Equal(t, StateDead, conn.State())
	assert.Equal(t, calls, rec.count())
	assert.Equal(t, 0, r.Count())
}

func TestMonitor_WatchStopsOnContextCancel(t *testing.T) {
	r, _ := newTestRegistry(t)
	m := NewMonitor(r, time.Hour, time.Second, nil)

	conn, _ := newTestConn(t)
	r.Admit(conn, identity(1, "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Watch(ctx, conn)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after context cancel")
	}
	assert.False(t, conn.Closed())
}

func TestRegistry_ProbeTransitions(t *testing.T) {
	r, rec := newTestRegistry(t)

	conn, _ := newTestConn(t)
	r.Admit(conn, identity(1, "alice"))

	seq, ok := r.beginProbe(conn, time.Hour, func(uint64) {})
	require.True(t, ok)

	info := r.ProbeInfo(conn)
	assert.Equal(t, StateProbeSent, info.State)
	assert.False(t, info.LastPingSentAt.IsZero())
	assert.True(t, info.PendingDeathDeadline.After(info.LastPingSentAt))

	// 等待 pong 期间不会重复发 probe
	_, ok = r.beginProbe(conn, time.Hour, func(uint64) {})
	assert.False(t, ok)

	assert.True(t, r.ack(conn))
	assert.False(t, r.ack(conn))
	assert.True(t, r.ProbeInfo(conn).PendingDeathDeadline.IsZero())

	// 旧 seq 的定时器不能移除连接
	assert.False(t, r.expire(conn, seq))

	seq2, ok := r.beginProbe(conn, time.Hour, func(uint64) {})
	require.True(t, ok)
	assert.Greater(t, seq2, seq)
	assert.False(t, r.expire(conn, seq))
	assert.True(t, r.expire(conn, seq2))
	assert.False(t, r.expire(conn, seq2))

	assert.True(t, conn.Closed())
	assert.Equal(t, 2, rec.count())
}

// TestRegistry_ExpireStopsDeathTimer 超时移除时停止挂起的定时器
func TestRegistry_ExpireStopsDeathTimer(t *testing.T) {
	r, _ := newTestRegistry(t)

	conn, _ := newTestConn(t)
	r.Admit(conn, identity(1, "alice"))

	fired := make(chan struct{}, 1)
	seq, ok := r.beginProbe(conn, time.Hour, func(uint64) { fired <- struct{}{} })
	require.True(t, ok)

	r.mu.Lock()
	timer := conn.deathTimer
	r.mu.Unlock()
	require.NotNil(t, timer)

	// ping 发送失败时 Monitor 会在定时器到期前直接调用 expire
	require.True(t, r.expire(conn, seq))

	assert.False(t, timer.Stop(), "death timer should already be stopped")
	assert.Len(t, fired, 0)
}

// TestRegistry_AckExpireRace pong 与超时并发时只能有一个生效
func TestRegistry_AckExpireRace(t *testing.T) {
	for i := 0; i < 100; i++ {
		r, rec := newTestRegistry(t)
		conn, _ := newTestConn(t)
		r.Admit(conn, identity(1, "alice"))

		seq, ok := r.beginProbe(conn, time.Hour, func(uint64) {})
		require.True(t, ok)

		var wg sync.WaitGroup
		var acked, expired bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			acked = r.ack(conn)
		}()
		go func() {
			defer wg.Done()
			expired = r.expire(conn, seq)
		}()
		wg.Wait()

		require.NotEqual(t, acked, expired)
		if expired {
			assert.Equal(t, 2, rec.count())
			assert.Equal(t, StateDead, conn.State())
		} else {
			assert.Equal(t, 1, rec.count())
			assert.Equal(t, StateAlive, conn.State())
		}
	}
}
