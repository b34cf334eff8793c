package host

import (
	"encoding/binary"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smazurov/camnode/internal/frame"
)

// HeaderSize is the length of the binary header in front of every websocket
// frame message: width and height as uint16, frame index as uint32 and
// timestamp as uint64, all little endian. Width and height saturate at
// 0xFFFF and the index at 0xFFFFFFFF; the pixel payload length is always
// exact, so a client seeing a saturated field must not derive the row
// stride from it.
const HeaderSize = 16

const (
	clientQueue  = 4
	writeTimeout = 5 * time.Second
	pongTimeout  = 60 * time.Second
	pingPeriod   = pongTimeout * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// EncodeFrame renders buf as a websocket message.
func EncodeFrame(buf *frame.Buffer) []byte {
	pixels := buf.Pixels()
	msg := make([]byte, HeaderSize+len(pixels))
	binary.LittleEndian.PutUint16(msg[0:], saturate16(buf.Width))
	binary.LittleEndian.PutUint16(msg[2:], saturate16(buf.Height))
	binary.LittleEndian.PutUint32(msg[4:], uint32(min(buf.FrameIndex, math.MaxUint32)))
	binary.LittleEndian.PutUint64(msg[8:], buf.Timestamp)
	copy(msg[HeaderSize:], pixels)
	return msg
}

func saturate16(v int) uint16 {
	return uint16(max(0, min(v, math.MaxUint16)))
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans frames out to websocket clients. A client that falls behind
// loses frames instead of stalling the capture loop.
type Hub struct {
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	skipped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Skipped returns how many per-client frames were skipped for slow readers.
func (h *Hub) Skipped() uint64 {
	return h.skipped.Load()
}

// Broadcast encodes buf once and queues it for every client. It does
// nothing when nobody is connected.
func (h *Hub) Broadcast(buf *frame.Buffer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}

	msg := EncodeFrame(buf)
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.skipped.Add(1)
		}
	}
}

// ServeWS upgrades the request and streams frames until the client goes
// away or the hub is closed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
		return conn.Close()
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Frame client connected", "remote_addr", r.RemoteAddr, "clients", n)

	go h.readPump(c)
	h.writePump(c)

	h.remove(c)
	h.logger.Info("Frame client disconnected", "remote_addr", r.RemoteAddr)
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
