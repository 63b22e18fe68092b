package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rubiojr/pulse/pkg/chat"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/realtime"
)

// Inbound client event names.
const (
	clientIdentify    = "identify"
	clientTyping      = realtime.EventTyping
	clientStopTyping  = realtime.EventStopTyping
	clientSendMessage = "send-message"
)

// replyBuffer bounds the events addressed to a single connection (acks and
// errors) that may wait for the write pump.
const replyBuffer = 16

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type identifyData struct {
	Token string `json:"token"`
}

type sendMessageData struct {
	Receiver core.UserID      `json:"receiver"`
	Content  string           `json:"content"`
	Type     core.MessageType `json:"type,omitempty"`
	PostID   *string          `json:"postId,omitempty"`
}

// wsConn is one websocket connection. Only the read pump binds and reads
// user; the write pump learns about the binding through bound.
type wsConn struct {
	srv     *Server
	conn    *websocket.Conn
	id      string
	user    core.UserID
	bound   chan (<-chan realtime.Event)
	replies chan realtime.Event
	done    chan struct{}
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.opts.CORSOrigin == "" || origin == s.opts.CORSOrigin
		},
	}
}

// HandleWebSocket upgrades the request. A caller whose credentials resolve
// is bound to its room right away; anyone else gets an unbound connection
// that must send identify before doing anything else.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	c := &wsConn{
		srv:     s,
		conn:    conn,
		id:      uuid.NewString(),
		bound:   make(chan (<-chan realtime.Event), 1),
		replies: make(chan realtime.Event, replyBuffer),
		done:    make(chan struct{}),
	}
	s.logger.Debugf("connection %s opened from %s", c.id, r.RemoteAddr)

	if user, err := s.auth.FromRequest(r); err == nil {
		if err := s.chat.ResolveUser(r.Context(), user); err == nil {
			c.bind(user)
		} else {
			s.logger.Debugf("connection %s: handshake identity %s rejected: %v", c.id, user, err)
		}
	}

	go c.writePump()
	c.readPump()
}

func (c *wsConn) bind(user core.UserID) {
	first := c.user == ""
	ch := c.srv.registry.Register(c.id, user)
	c.user = user
	if first {
		c.bound <- ch
	}
	c.reply(realtime.Connected{User: user, ConnectionID: c.id})
}

// reply queues ev for this connection only. It never blocks the read pump.
func (c *wsConn) reply(ev realtime.Event) {
	select {
	case c.replies <- ev:
	default:
		c.srv.logger.Debugf("connection %s: dropped %s reply", c.id, ev.Name())
	}
}

func (c *wsConn) replyError(code string, err error) {
	c.reply(realtime.ErrorEvent{Error: code, Message: core.ClientMessage(err)})
}

func (c *wsConn) readPump() {
	defer func() {
		c.srv.registry.Unregister(c.id)
		close(c.done)
		_ = c.conn.Close()
		c.srv.logger.Debugf("connection %s closed", c.id)
	}()

	pongWait := c.srv.opts.PongWait
	c.conn.SetReadLimit(c.srv.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.logger.Debugf("connection %s read error: %v", c.id, err)
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			c.reply(realtime.ErrorEvent{Error: "invalid_json", Message: "event must be a JSON object"})
			continue
		}
		c.dispatch(in)
	}
}

func (c *wsConn) dispatch(in inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), c.srv.opts.WriteWait)
	defer cancel()

	if in.Event == clientIdentify {
		c.identify(ctx, in.Data)
		return
	}
	if c.user == "" {
		c.reply(realtime.ErrorEvent{Error: "unauthorized", Message: "identify before sending " + in.Event})
		return
	}

	switch in.Event {
	case clientTyping, clientStopTyping:
		var partner core.UserID
		if err := json.Unmarshal(in.Data, &partner); err != nil {
			c.reply(realtime.ErrorEvent{Error: "invalid_argument", Message: in.Event + " expects a user id"})
			return
		}
		relay := c.srv.chat.Typing
		if in.Event == clientStopTyping {
			relay = c.srv.chat.StopTyping
		}
		if err := relay(ctx, c.user, partner); err != nil {
			c.replyError(core.KindOf(err).String(), err)
		}
	case clientSendMessage:
		var data sendMessageData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			c.reply(realtime.ErrorEvent{Error: "invalid_argument", Message: "malformed send-message data"})
			return
		}
		_, err := c.srv.chat.Send(ctx, chat.SendRequest{
			Sender:   c.user,
			Receiver: data.Receiver,
			Content:  data.Content,
			Type:     data.Type,
			PostID:   data.PostID,
		}, chat.SendOptions{EchoToSender: true})
		if err != nil {
			c.replyError(core.KindOf(err).String(), err)
		}
	default:
		c.reply(realtime.ErrorEvent{Error: "unsupported_event", Message: "unknown event " + in.Event})
	}
}

func (c *wsConn) identify(ctx context.Context, raw json.RawMessage) {
	var data identifyData
	if err := json.Unmarshal(raw, &data); err != nil || data.Token == "" {
		c.reply(realtime.ErrorEvent{Error: "unauthorized", Message: "identify expects a token"})
		return
	}
	user, err := c.srv.auth.Verify(data.Token)
	if err != nil {
		c.reply(realtime.ErrorEvent{Error: "unauthorized", Message: "invalid token"})
		return
	}
	if err := c.srv.chat.ResolveUser(ctx, user); err != nil {
		c.replyError("unauthorized", err)
		return
	}
	c.bind(user)
}

func (c *wsConn) writePump() {
	writeWait := c.srv.opts.WriteWait
	ticker := time.NewTicker(c.srv.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	var events <-chan realtime.Event
	closeConn := func() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
	}

	for {
		select {
		case ch := <-c.bound:
			events = ch
		case ev, ok := <-events:
			if !ok {
				closeConn()
				return
			}
			if !c.write(ev) {
				return
			}
		case ev := <-c.replies:
			if !c.write(ev) {
				return
			}
		case <-c.done:
			closeConn()
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) write(ev realtime.Event) bool {
	data, err := realtime.Encode(ev)
	if err != nil {
		c.srv.logger.Errorf("connection %s: %v", c.id, err)
		return true
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.srv.opts.WriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.srv.logger.Debugf("connection %s write failed: %v", c.id, err)
		return false
	}
	return true
}
