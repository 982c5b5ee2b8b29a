package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperr "sudooom.im.chat/pkg/errors"
)

func TestConnection_SendWritesToTransport(t *testing.T) {
	tr := newFakeTransport()
	conn := New(tr, 8, nil)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte("one")))
	require.NoError(t, conn.Send([]byte("two")))

	require.Eventually(t, func() bool { return len(tr.Written()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, tr.Written())
}

func TestConnection_SendAfterClose(t *testing.T) {
	tr := newFakeTransport()
	conn := New(tr, 8, nil)

	conn.Close()
	conn.Close()

	assert.True(t, conn.Closed())
	assert.Equal(t, 1, tr.CloseCount())

	err := conn.Send([]byte("late"))
	assert.True(t, errors.Is(err, apperr.ErrConnectionClosed))

	err = conn.Ping()
	assert.True(t, errors.Is(err, apperr.ErrConnectionClosed))
}

func TestConnection_SendBufferFull(t *testing.T) {
	tr := newFakeTransport()
	tr.block = make(chan struct{})
	conn := New(tr, 1, nil)
	defer func() {
		close(tr.block)
		conn.Close()
	}()

	var err error
	for i := 0; i < 5 && err == nil; i++ {
		err = conn.Send([]byte("x"))
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrDeliveryFailure))
}

func TestConnection_WriteErrorDoesNotClose(t *testing.T) {
	tr := newFakeTransport()
	tr.writeErr = errors.New("broken pipe")
	conn := New(tr, 8, nil)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte("x")))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, conn.Closed())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "alive", StateAlive.String())
	assert.Equal(t, "probe_sent", StateProbeSent.String())
	assert.Equal(t, "dead", StateDead.String())
	assert.Equal(t, "unknown", State(42).String())
}
