package fanout

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxInboundMessage = 512

type observer struct {
	info ObserverInfo
	conn *websocket.Conn
	send chan []byte
	once sync.Once

	// pending holds live frames while the snapshot is being read
	mu      sync.Mutex
	pending bool
	backlog [][]byte
}

func newObserver(id string, conn *websocket.Conn, buffer int) *observer {
	o := &observer{
		info: ObserverInfo{ID: id, ConnectedAt: time.Now().UTC()},
		conn: conn,
		send: make(chan []byte, buffer),
	}
	if conn != nil {
		o.info.RemoteAddr = conn.RemoteAddr().String()
	}
	return o
}

// offer queues frame without blocking. false means the buffer is full.
// Callers hold the hub lock, so send is still open.
func (o *observer) offer(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending {
		if len(o.backlog) >= cap(o.send) {
			return false
		}
		o.backlog = append(o.backlog, frame)
		return true
	}
	select {
	case o.send <- frame:
		return true
	default:
		return false
	}
}

// release queues the snapshot, then whatever was broadcast while it was
// read, and switches to direct delivery. Same locking rule as offer.
func (o *observer) release(snapshot [][]byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = false
	frames := append(snapshot, o.backlog...)
	o.backlog = nil
	for _, f := range frames {
		select {
		case o.send <- f:
		default:
			return false
		}
	}
	return true
}

func (o *observer) close() {
	o.once.Do(func() {
		if o.conn != nil {
			_ = o.conn.Close()
		}
	})
}

// writePump drains send until it is closed or a write fails.
func (o *observer) writePump(writeTimeout, pingInterval time.Duration, done func()) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		done()
	}()
	for {
		select {
		case frame, ok := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = o.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := o.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the channel is push-only. It returns when
// the peer goes away.
func (o *observer) readPump(done func()) {
	defer done()
	o.conn.SetReadLimit(maxInboundMessage)
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			return
		}
	}
}
