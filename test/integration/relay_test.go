// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

//go:build integration

package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/roomrelay/roomrelay/internal/core"
	"github.com/roomrelay/roomrelay/internal/telnet"
	"github.com/roomrelay/roomrelay/internal/web"
)

// relay is one running instance over a given store.
type relay struct {
	ws        *web.Server
	telnet    *telnet.Server
	cancel    context.CancelFunc
	telnetRun chan error
}

func startRelay(st core.MessageStore) *relay {
	registry := core.NewRoomRegistry()
	ctrl := core.NewSessionController(registry, core.NewBroadcaster(registry), core.NewHistoryGateway(st),
		core.WithSystemNotices(true))

	r := &relay{
		ws:        web.NewServer("127.0.0.1:0", "/ws", web.NewHandler(ctrl, web.Options{})),
		telnet:    telnet.NewServer("127.0.0.1:0", ctrl),
		telnetRun: make(chan error, 1),
	}
	_, err := r.ws.Start()
	Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.telnetRun <- r.telnet.Run(ctx) }()
	Eventually(r.telnet.Addr).ShouldNot(BeEmpty())
	return r
}

func (r *relay) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	Expect(r.ws.Stop(ctx)).To(Succeed())
	r.cancel()
	Eventually(r.telnetRun, 5*time.Second).Should(Receive(BeNil()))
}

type frame struct {
	Type string          `json:"type"`
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
}

type wireMessage struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

func (r *relay) dialWS() *websocket.Conn {
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+r.ws.Addr()+"/ws", nil)
	Expect(err).NotTo(HaveOccurred())
	_ = resp.Body.Close()
	DeferCleanup(func() { _ = ws.Close() })
	return ws
}

func sendFrame(ws *websocket.Conn, v any) {
	Expect(ws.WriteJSON(v)).To(Succeed())
}

// nextFrame reads frames until one of kind arrives.
func nextFrame(ws *websocket.Conn, kind string) frame {
	deadline := time.Now().Add(5 * time.Second)
	Expect(ws.SetReadDeadline(deadline)).To(Succeed())
	for {
		var f frame
		Expect(ws.ReadJSON(&f)).To(Succeed())
		if f.Type == kind {
			return f
		}
	}
}

func historyOf(f frame) []wireMessage {
	var msgs []wireMessage
	Expect(json.Unmarshal(f.Data, &msgs)).To(Succeed())
	return msgs
}

// telnetClient is a line-oriented telnet session.
type telnetClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (r *relay) dialTelnet() *telnetClient {
	conn, err := net.Dial("tcp", r.telnet.Addr())
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = conn.Close() })
	return &telnetClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *telnetClient) send(line string) {
	_, err := c.conn.Write([]byte(line + "\n"))
	Expect(err).NotTo(HaveOccurred())
}

// waitFor reads lines until one contains want and returns it.
func (c *telnetClient) waitFor(want string) string {
	Expect(c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
	for {
		line, err := c.reader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred(), "waiting for %q", want)
		if strings.Contains(line, want) {
			return strings.TrimRight(line, "\r\n")
		}
	}
}

// chatAcrossTransports runs the shared scenario: a WebSocket client and a
// telnet client chat in one room and a late joiner is replayed the history.
func chatAcrossTransports(r *relay) {
	alice := r.dialWS()
	sendFrame(alice, map[string]string{"type": "join", "room": "lobby", "displayName": "alice"})
	nextFrame(alice, "history")

	bob := r.dialTelnet()
	bob.waitFor("Welcome to RoomRelay!")
	bob.send("join lobby bob")
	bob.waitFor("In #lobby: alice, bob")

	Eventually(func() string {
		return string(nextFrame(alice, "system-notice").Data)
	}).Should(ContainSubstring("bob joined #lobby"))

	sendFrame(alice, map[string]string{"type": "send", "room": "lobby", "text": "hello from the browser"})
	Expect(bob.waitFor("hello from the browser")).To(ContainSubstring("alice: hello from the browser"))

	bob.send("say hello from the terminal")
	var msg wireMessage
	Expect(json.Unmarshal(nextFrame(alice, "message").Data, &msg)).To(Succeed()) // alice's own echo
	Expect(json.Unmarshal(nextFrame(alice, "message").Data, &msg)).To(Succeed())
	Expect(msg).To(Equal(wireMessage{Username: "bob", Text: "hello from the terminal"}))

	bob.send("quit")
	bob.waitFor("Goodbye!")
	presence := nextFrame(alice, "presence")
	Expect(string(presence.Data)).To(Equal(`["alice"]`))
}

var _ = Describe("Relay with an embedded Badger store", func() {
	It("relays between transports and keeps history across a restart", func() {
		dir := GinkgoT().TempDir()
		st := openBadger(dir)

		r := startRelay(st)
		chatAcrossTransports(r)
		r.stop()
		Expect(st.Close()).To(Succeed())

		st = openBadger(dir)
		DeferCleanup(func() { _ = st.Close() })
		r = startRelay(st)
		DeferCleanup(r.stop)

		carol := r.dialWS()
		sendFrame(carol, map[string]string{"type": "join", "room": "lobby", "displayName": "carol"})
		Expect(historyOf(nextFrame(carol, "history"))).To(Equal([]wireMessage{
			{Username: "alice", Text: "hello from the browser"},
			{Username: "bob", Text: "hello from the terminal"},
		}))
	})
})
