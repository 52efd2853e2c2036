package media

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"resona/core/player"
	"resona/logger"
	"resona/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Transport is the slice of controller operations a remote may invoke.
// *player.Controller satisfies it.
type Transport interface {
	Play()
	Pause()
	Next()
	Previous()
	SetIndex(i int)
	Seek(seconds float64)
	SetVolume(v float64)
	SetBandGain(band int, gainDB float64) error
	SetRepeatMode(m model.RepeatMode)
	ToggleShuffle()
	Snapshot() player.NowPlaying
}

// Command is one inbound remote-control message.
type Command struct {
	Type    string           `json:"type"`
	Seconds float64          `json:"seconds,omitempty"`
	Volume  float64          `json:"volume,omitempty"`
	Index   int              `json:"index,omitempty"`
	Band    int              `json:"band,omitempty"`
	GainDB  float64          `json:"gainDb,omitempty"`
	Mode    model.RepeatMode `json:"mode,omitempty"`
}

// Hub fans now-playing state out to connected remotes and funnels their
// commands into the transport. It implements player.Notifier.
type Hub struct {
	transport Transport

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
}

// NewHub builds the hub; call Run in a goroutine.
func NewHub(transport Transport) *Hub {
	return &Hub{
		transport:  transport,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
	}
}

// Run owns the client set.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			logger.Info("remote connected", logger.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				logger.Info("remote disconnected", logger.Int("clients", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it rather than stall the rest.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Close shuts the hub down.
func (h *Hub) Close() {
	close(h.done)
}

// Publish pushes a now-playing snapshot to every remote.
func (h *Hub) Publish(np player.NowPlaying) {
	msg, err := json.Marshal(struct {
		Type string            `json:"type"`
		Data player.NowPlaying `json:"data"`
	}{Type: "now_playing", Data: np})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		// Broadcast backlog full; this snapshot is superseded soon anyway.
	}
}

// serve attaches a websocket connection as a new client.
func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{hub: h, conn: conn, send: make(chan []byte, 16)}
	h.register <- c
	go c.writePump()
	go c.readPump()

	// Greet the new remote with the current state.
	if state, err := json.Marshal(struct {
		Type string            `json:"type"`
		Data player.NowPlaying `json:"data"`
	}{Type: "now_playing", Data: h.transport.Snapshot()}); err == nil {
		select {
		case c.send <- state:
		default:
		}
	}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("remote read error", logger.ErrorField(err))
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			logger.Warn("malformed remote command", logger.ErrorField(err))
			continue
		}
		c.hub.dispatch(cmd)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one remote command into the transport.
func (h *Hub) dispatch(cmd Command) {
	switch cmd.Type {
	case "play":
		h.transport.Play()
	case "pause":
		h.transport.Pause()
	case "next":
		h.transport.Next()
	case "previous":
		h.transport.Previous()
	case "set_index":
		h.transport.SetIndex(cmd.Index)
	case "seek":
		h.transport.Seek(cmd.Seconds)
	case "volume":
		h.transport.SetVolume(cmd.Volume)
	case "band_gain":
		if err := h.transport.SetBandGain(cmd.Band, cmd.GainDB); err != nil {
			logger.Warn("remote band-gain rejected", logger.ErrorField(err))
		}
	case "repeat":
		h.transport.SetRepeatMode(cmd.Mode)
	case "shuffle":
		h.transport.ToggleShuffle()
	default:
		logger.Warn("unknown remote command", logger.String("type", cmd.Type))
	}
}
