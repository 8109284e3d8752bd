package realtime

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum control-frame size allowed from peer.
	maxMessageSize = 1024
)

// Authorizer decides whether the connected user may subscribe to a topic.
// The server wires it to a membership check for conversation topics.
type Authorizer func(topic string) bool

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub        *Hub
	userID     uuid.UUID
	conn       *websocket.Conn
	send       chan []byte
	topics     map[string]bool
	authorized Authorizer
}

// NewClient registers a connection with the hub, pre-subscribed to the
// user's own topic.
func NewClient(hub *Hub, userID uuid.UUID, conn *websocket.Conn, authorized Authorizer) *Client {
	c := &Client{
		hub:        hub,
		userID:     userID,
		conn:       conn,
		send:       make(chan []byte, 64),
		topics:     make(map[string]bool),
		authorized: authorized,
	}
	hub.register <- c
	hub.subscribe <- &subscription{client: c, topic: UserTopic(userID)}
	return c
}

// ReadPump consumes subscribe/unsubscribe frames from the peer:
//
//	{"action":"subscribe","topic":"conversation:<id>"}
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	var p fastjson.Parser
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugf("Read error for user (%s): %v", c.userID, err)
			}
			break
		}

		v, err := p.ParseBytes(frame)
		if err != nil {
			continue
		}

		action := string(v.GetStringBytes("action"))
		topic := string(v.GetStringBytes("topic"))
		if topic == "" {
			continue
		}

		switch action {
		case "subscribe":
			if c.authorized != nil && !c.authorized(topic) {
				c.hub.logger.Debugf("User (%s) denied subscription to %q", c.userID, topic)
				continue
			}
			c.hub.subscribe <- &subscription{client: c, topic: topic}
		case "unsubscribe":
			c.hub.unsubscribe <- &subscription{client: c, topic: topic}
		}
	}
}

// WritePump pumps events from the hub to the websocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.logger.Debugf("Write error for user (%s): %v", c.userID, err)
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
