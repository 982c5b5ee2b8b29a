package connection

import (
	"errors"
	"sync"
)

// fakeTransport 内存传输，记录写入和 ping
type fakeTransport struct {
	mu       sync.Mutex
	written  [][]byte
	pings    int
	closed   int
	pingErr  error
	writeErr error
	onPing   func()
	block    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	f.pings++
	err := f.pingErr
	onPing := f.onPing
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if onPing != nil {
		onPing()
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	if f.closed > 1 {
		return errors.New("already closed")
	}
	return nil
}

func (f *fakeTransport) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func (f *fakeTransport) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeTransport) setOnPing(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPing = fn
}
