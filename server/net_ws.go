package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
	sendQueue      = 64
)

// ClientConn wraps a websocket with a buffered outbound queue drained by
// its own write goroutine.
type ClientConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewClientConn wraps ws; the caller runs its pumps.
func NewClientConn(id string, ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, sendQueue),
		done: make(chan struct{}),
	}
}

func (c *ClientConn) ID() string { return c.id }

// Send never blocks; a full queue drops the frame so one slow client
// cannot stall a broadcast.
func (c *ClientConn) Send(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close flushes queued frames and closes the socket.
func (c *ClientConn) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if err := c.write(websocket.BinaryMessage, msg); err != nil {
						return
					}
				default:
					_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *ClientConn) write(kind int, payload []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(kind, payload)
}

// readPump feeds frames to the dispatcher in arrival order and disconnects
// the client when the socket ends.
func (c *ClientConn) readPump(d *Dispatcher, client *Client) {
	defer d.Disconnect(client)
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.log.Debug("read", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		d.Handle(client, payload)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleWS upgrades the request and runs the connection until it closes.
func (d *Dispatcher) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn("upgrade", zap.Error(err))
		return
	}
	conn := NewClientConn(uuid.NewString(), ws)
	client := d.Connect(conn)

	go conn.writePump()
	go conn.readPump(d, client)
}
