package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
	"github.com/katsuma/jukeboxx/internal/logger"
	"github.com/katsuma/jukeboxx/internal/playlist"
	"github.com/katsuma/jukeboxx/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4 << 10
	replyBuffer    = 16
)

// Message types on the stream.
const (
	msgSnapshot = "snapshot"
	msgError    = "error"

	cmdSubmit   = "submit"
	cmdRemove   = "remove"
	cmdRequeue  = "requeue"
	cmdAdvance  = "advance"
	cmdFinished = "finished"
	cmdTitle    = "title"
	cmdClear    = "clear"
)

type serverMessage struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type clientCommand struct {
	Type    string `json:"type"`
	URL     string `json:"url,omitempty"`
	EntryID string `json:"entryId,omitempty"`
	List    string `json:"list,omitempty"`
	Title   string `json:"title,omitempty"`
}

var errUnknownCommand = errors.New("unknown command")

// Stream upgrades to a websocket that pushes every snapshot of the queue and
// accepts playlist commands.
func Stream(d deps.Deps) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(d.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		queueID := chi.URLParam(r, "id")
		m, err := d.Registry.Get(queueID)
		if err != nil {
			writeError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied.
			d.Logger.Debug("websocket upgrade failed",
				logger.String("queue_id", queueID),
				logger.Error(err))
			return
		}

		c := &streamClient{
			conn:      conn,
			machine:   m,
			deps:      d,
			clientIP:  utils.ClientIP(r, d.TrustProxy),
			snapshots: make(chan playlist.Snapshot, 1),
			replies:   make(chan serverMessage, replyBuffer),
			done:      make(chan struct{}),
		}
		c.serve()
		d.Registry.Touch(queueID)
	}
}

// originChecker allows the configured origins. With none configured the
// upgrader's same-host check applies.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		return set[strings.ToLower(origin)]
	}
}

type streamClient struct {
	conn     *websocket.Conn
	machine  *playlist.Machine
	deps     deps.Deps
	clientIP string

	// snapshots holds only the newest undelivered snapshot.
	snapshots chan playlist.Snapshot
	replies   chan serverMessage

	closeOnce sync.Once
	done      chan struct{}
}

func (c *streamClient) serve() {
	unsub := c.machine.Subscribe(c.pushSnapshot)
	defer unsub()

	go c.writeLoop()
	c.readLoop()
}

func (c *streamClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		utils.Close(c.conn)
	})
}

// pushSnapshot replaces any snapshot the writer has not sent yet. It is the
// only sender on c.snapshots.
func (c *streamClient) pushSnapshot(s playlist.Snapshot) {
	for {
		select {
		case c.snapshots <- s:
			return
		default:
		}
		select {
		case <-c.snapshots:
		default:
		}
	}
}

func (c *streamClient) reply(msg serverMessage) {
	select {
	case c.replies <- msg:
	default:
		c.deps.Logger.Debug("dropping websocket reply, client too slow",
			logger.String("queue_id", c.machine.QueueID()))
	}
}

func (c *streamClient) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.deps.Logger.Debug("websocket read failed",
					logger.String("queue_id", c.machine.QueueID()),
					logger.Error(err))
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.reply(serverMessage{Type: msgError, Error: errBadBody.Error()})
			continue
		}
		if err := c.handle(cmd); err != nil {
			c.reply(serverMessage{Type: msgError, Error: err.Error()})
		}
		c.deps.Registry.Touch(c.machine.QueueID())
	}
}

func (c *streamClient) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		var msg serverMessage
		select {
		case s := <-c.snapshots:
			msg = serverMessage{Type: msgSnapshot, Data: s}
		case msg = <-c.replies:
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case <-c.machine.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "queue closed"))
			return
		case <-c.done:
			return
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.deps.Logger.Debug("websocket write failed",
				logger.String("queue_id", c.machine.QueueID()),
				logger.Error(err))
			return
		}
	}
}

func (c *streamClient) handle(cmd clientCommand) error {
	m := c.machine
	switch cmd.Type {
	case cmdSubmit:
		if c.deps.SubmitLimiter != nil {
			if ok, _, retry := c.deps.SubmitLimiter.Allow(c.clientIP); !ok {
				return fmt.Errorf("too many submissions, retry in %s", max(retry.Round(time.Second), time.Second))
			}
		}
		_, err := m.Submit(cmd.URL)
		return err
	case cmdRemove:
		kind, ok := domain.ParseListKind(cmd.List)
		if !ok {
			return fmt.Errorf("unknown list %q", cmd.List)
		}
		return m.Remove(cmd.EntryID, kind)
	case cmdRequeue:
		_, err := m.Requeue(cmd.EntryID)
		return err
	case cmdAdvance:
		m.Advance()
	case cmdFinished:
		m.Finished(cmd.EntryID)
	case cmdTitle:
		m.UpdateCurrentTitle(cmd.Title)
	case cmdClear:
		m.ClearQueue()
	default:
		return fmt.Errorf("%w %q", errUnknownCommand, cmd.Type)
	}
	return nil
}
