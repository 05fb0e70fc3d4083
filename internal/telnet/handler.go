// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package telnet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/roomrelay/roomrelay/internal/core"
	"github.com/roomrelay/roomrelay/internal/observability"
)

// outboxSize bounds how many rendered deliveries may wait for the socket.
const outboxSize = 64

const timeLayout = "15:04:05"

var errOutboxFull = errors.New("telnet outbox full")

// lineConn is the core.Conn of one telnet client. Payloads are rendered to
// text and queued; the connection handler writes them out.
type lineConn struct {
	outbox chan []string
	done   chan struct{}
	once   sync.Once
}

func newLineConn() *lineConn {
	return &lineConn{
		outbox: make(chan []string, outboxSize),
		done:   make(chan struct{}),
	}
}

// Deliver queues p without blocking.
func (c *lineConn) Deliver(p core.Payload) error {
	select {
	case <-c.done:
		return core.ErrConnectionClosed
	default:
	}

	select {
	case c.outbox <- render(p):
		return nil
	case <-c.done:
		return core.ErrConnectionClosed
	default:
		return errOutboxFull
	}
}

func (c *lineConn) close() {
	c.once.Do(func() { close(c.done) })
}

// render turns a payload into the lines shown to a telnet user.
func render(p core.Payload) []string {
	switch p.Kind {
	case core.PayloadHistory:
		if len(p.History) == 0 {
			return []string{fmt.Sprintf("No earlier messages in #%s.", p.Room)}
		}
		lines := make([]string, 0, len(p.History)+2)
		lines = append(lines, fmt.Sprintf("--- last %d messages in #%s ---", len(p.History), p.Room))
		for _, m := range p.History {
			lines = append(lines, renderMessage(m))
		}
		return append(lines, "--- end of history ---")
	case core.PayloadPresence:
		return []string{renderPresence(p.Room, p.Presence)}
	case core.PayloadMessage:
		return []string{renderMessage(p.Message)}
	case core.PayloadNotice:
		return []string{"* " + p.Text}
	case core.PayloadError:
		return []string{"Error: " + p.Text}
	default:
		slog.Warn("unknown payload kind for telnet", "kind", string(p.Kind))
		return []string{fmt.Sprintf("<%s>", p.Kind)}
	}
}

func renderMessage(m core.Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.UTC().Format(timeLayout), m.Author, m.Text)
}

func renderPresence(room string, names []string) string {
	if len(names) == 0 {
		return fmt.Sprintf("Nobody is in #%s.", room)
	}
	return fmt.Sprintf("In #%s: %s", room, strings.Join(names, ", "))
}

// ConnectionHandler handles a single telnet connection.
type ConnectionHandler struct {
	conn     net.Conn
	reader   *bufio.Reader
	ctrl     Controller
	out      *lineConn
	connID   ulid.ULID
	quitting bool
}

// NewConnectionHandler creates a new handler.
func NewConnectionHandler(conn net.Conn, ctrl Controller) *ConnectionHandler {
	return &ConnectionHandler{
		conn:   conn,
		reader: bufio.NewReader(conn),
		ctrl:   ctrl,
		out:    newLineConn(),
		connID: core.NewConnID(),
	}
}

// Handle processes the connection until it closes, the client quits, or ctx
// is cancelled.
func (h *ConnectionHandler) Handle(ctx context.Context) {
	h.ctrl.Connect(h.connID, h.out)
	defer func() {
		h.ctrl.Disconnect(h.connID)
		h.out.close()
		if err := h.conn.Close(); err != nil {
			slog.Debug("error closing connection", "error", err)
		}
	}()

	h.send("Welcome to RoomRelay!")
	h.send("Use: join <room> <name>")

	lineCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		for {
			line, err := h.reader.ReadString('\n')
			if err != nil {
				errCh <- err
				return
			}
			select {
			case lineCh <- strings.TrimSpace(line):
			case <-h.out.done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-errCh:
			if !errors.Is(err, io.EOF) {
				slog.Debug("connection read error",
					"conn_id", h.connID.String(),
					"error", err,
				)
			}
			return

		case line := <-lineCh:
			h.processLine(ctx, line)
			if h.quitting {
				return
			}

		case lines := <-h.out.outbox:
			for _, l := range lines {
				h.send(l)
			}
		}
	}
}

func (h *ConnectionHandler) processLine(ctx context.Context, line string) {
	cmd, arg := core.ParseCommand(line)

	var err error
	switch cmd {
	case "":
		return
	case "join":
		err = h.handleJoin(ctx, arg)
	case "say":
		err = h.handleSay(ctx, arg)
	case "leave":
		err = h.handleLeave()
	case "who":
		h.handleWho()
	case "rooms":
		h.handleRooms()
	case "quit":
		h.handleQuit()
	default:
		h.send("Unknown command: " + cmd)
		observability.RecordInboundEvent(transportName, "unknown", core.OutcomeRejected)
		return
	}
	observability.RecordInboundEvent(transportName, cmd, core.OutcomeOf(err))
}

func (h *ConnectionHandler) handleJoin(ctx context.Context, arg string) error {
	room, name := core.ParseJoinArgs(arg)
	if room == "" || name == "" {
		h.send("Usage: join <room> <name>")
		return core.ErrValidation("missing join arguments")
	}
	if err := h.ctrl.Join(ctx, h.connID, room, name); err != nil {
		h.send("Could not join #" + room + ".")
		return err
	}
	return nil
}

func (h *ConnectionHandler) handleSay(ctx context.Context, text string) error {
	if !h.joined() {
		h.send("You must join a room first.")
		return core.ErrValidation("not joined")
	}
	if text == "" {
		h.send("Say what?")
		return core.ErrValidation("empty text")
	}

	err := h.ctrl.Send(ctx, h.connID, "", text, "")
	// Persistence and rate limit failures arrive as error payloads.
	if core.IsValidation(err) {
		h.send("Your message was not accepted.")
	}
	return err
}

func (h *ConnectionHandler) handleLeave() error {
	if err := h.ctrl.Leave(h.connID); err != nil {
		h.send("You are not in a room.")
		return err
	}
	h.send("You left the room.")
	return nil
}

func (h *ConnectionHandler) handleWho() {
	info, ok := h.ctrl.Session(h.connID)
	if !ok || info.State != core.StateJoined {
		h.send("You are not in a room.")
		return
	}
	h.send(renderPresence(info.Room, h.ctrl.Presence(info.Room)))
}

func (h *ConnectionHandler) handleRooms() {
	rooms := h.ctrl.Rooms()
	if len(rooms) == 0 {
		h.send("No active rooms.")
		return
	}
	h.send("Rooms: " + strings.Join(rooms, ", "))
}

func (h *ConnectionHandler) handleQuit() {
	h.send("Goodbye!")
	h.quitting = true
}

func (h *ConnectionHandler) joined() bool {
	info, ok := h.ctrl.Session(h.connID)
	return ok && info.State == core.StateJoined
}

func (h *ConnectionHandler) send(msg string) {
	if _, err := fmt.Fprintln(h.conn, msg); err != nil {
		slog.Debug("failed to send message to client",
			"conn_id", h.connID.String(),
			"error", err,
		)
	}
}
