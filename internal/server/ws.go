package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/playback"
)

// Command types accepted on /ws.
const (
	CmdPlay             = "play"
	CmdPause            = "pause"
	CmdResume           = "resume"
	CmdSeek             = "seek"
	CmdStop             = "stop"
	CmdRate             = "rate"
	CmdVoiceVolume      = "voice_volume"
	CmdBackgroundVolume = "background_volume"
	CmdBackgroundStart  = "background_start"
	CmdBackgroundStop   = "background_stop"
)

// Event types sent on /ws.
const (
	EventSnapshot = "snapshot"
	EventComplete = "complete"
	EventAck      = "ack"
	EventError    = "error"
)

// sendBuffer is the per-client outbound queue length. Snapshots that do not
// fit are dropped; any other event that does not fit disconnects the client.
const sendBuffer = 32

var (
	// ErrUnknownCommand is reported for a command type the server does not know.
	ErrUnknownCommand = errors.New("server: unknown command")

	// ErrUnknownTrack is reported for a background_start naming no catalog track.
	ErrUnknownTrack = errors.New("server: unknown track")
)

// Command is one client request.
type Command struct {
	Type  string  `json:"type"`
	Value float64 `json:"value,omitempty"`
	Track string  `json:"track,omitempty"`
}

// Event is one server message. Acks carry the effective value for rate and
// volume commands, which may differ from the requested one after clamping.
type Event struct {
	Type     string             `json:"type"`
	Command  string             `json:"command,omitempty"`
	Value    *float64           `json:"value,omitempty"`
	Error    string             `json:"error,omitempty"`
	Snapshot *playback.Snapshot `json:"snapshot,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}
	once sync.Once
}

func (c *client) enqueue(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{conn: conn, send: make(chan Event, sendBuffer), done: make(chan struct{})}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() { s.writeLoop(ctx, c) })
	defer wg.Wait()
	defer c.close()

	snap := s.player.Snapshot()
	c.enqueue(Event{Type: EventSnapshot, Snapshot: &snap})
	log.Debug("websocket client connected", "remote", r.RemoteAddr)

	for {
		var cmd Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("websocket client disconnected", "remote", r.RemoteAddr)
			default:
				if ctx.Err() == nil {
					log.Info("websocket read ended", "remote", r.RemoteAddr, "err", err)
				}
			}
			return
		}
		if !c.enqueue(s.dispatch(ctx, cmd)) {
			return
		}
	}
}

// writeLoop owns all writes to c.conn.
func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			_ = c.conn.Close(websocket.StatusGoingAway, "closing")
			return
		case ev := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err := wsjson.Write(wctx, c.conn, ev)
			cancel()
			if err != nil {
				observe.Logger(ctx).Debug("websocket write failed", "err", err)
				c.close()
				_ = c.conn.CloseNow()
				return
			}
		}
	}
}

// broadcast queues ev for every client.
func (s *Server) broadcast(ev Event) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if !c.enqueue(ev) && ev.Type != EventSnapshot {
			c.close()
		}
	}
}

// dispatch runs cmd and returns the reply.
func (s *Server) dispatch(ctx context.Context, cmd Command) Event {
	var (
		err   error
		value *float64
	)
	effective := func(v float64) { value = &v }

	switch cmd.Type {
	case CmdPlay:
		err = s.Play(ctx)
	case CmdPause:
		s.player.Pause()
	case CmdResume:
		err = s.player.Resume(ctx)
	case CmdSeek:
		err = s.player.Seek(cmd.Value)
	case CmdStop:
		s.player.Stop()
	case CmdRate:
		effective(s.player.UpdatePlaybackRate(cmd.Value))
	case CmdVoiceVolume:
		effective(s.player.UpdateVoiceVolume(cmd.Value))
	case CmdBackgroundVolume:
		effective(s.player.UpdateBackgroundVolume(cmd.Value))
	case CmdBackgroundStart:
		track, ok := s.catalog.Load().Lookup(cmd.Track)
		switch {
		case !ok:
			err = fmt.Errorf("%w: %q", ErrUnknownTrack, cmd.Track)
		case track.IsNone():
			s.bg.Stop()
		default:
			err = s.bg.Start(ctx, track)
		}
	case CmdBackgroundStop:
		s.bg.Stop()
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}

	if err != nil {
		observe.Logger(ctx).Info("command failed", "command", cmd.Type, "err", err)
		return Event{Type: EventError, Command: cmd.Type, Error: err.Error()}
	}
	return Event{Type: EventAck, Command: cmd.Type, Value: value}
}
