// Package wsuplink maintains a persistent WebSocket connection to a remote
// orchestrator, grounded on original_source/src/wsclient.rs's
// connect/split/handle shape.
package wsuplink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/alexhsamuel/procstar/internal/procs"
)

var wsuplinkLog = logrus.WithField("component", "wsuplink")

// Client is one reconnecting uplink to a remote orchestrator's WS endpoint.
type Client struct {
	URL      string
	Group    string
	Registry *procs.Registry
	Launcher *procs.Launcher

	Dialer *websocket.Dialer
}

// NewClient builds a Client. Dialer defaults to websocket.DefaultDialer.
func NewClient(url, group string, registry *procs.Registry, launcher *procs.Launcher) *Client {
	return &Client{
		URL:      url,
		Group:    group,
		Registry: registry,
		Launcher: launcher,
		Dialer:   websocket.DefaultDialer,
	}
}

// Run connects and reconnects until ctx is done. It never returns an error
// for a connection failure or drop — see Backoff — only for ctx
// cancellation.
func (c *Client) Run(ctx context.Context) error {
	backoff := NewBackoff(time.Second, 30*time.Second)
	for {
		connectedAt := time.Now()
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(connectedAt) > 30*time.Second {
			backoff.Reset()
		}
		wait := backoff.Next()
		wsuplinkLog.WithError(err).Warnf("uplink disconnected, reconnecting in %s", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := c.Dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return errors.Wrap(err, "wsuplink: dial")
	}
	defer conn.Close()
	wsuplinkLog.Infof("connected to %s", c.URL)

	var writeMu sync.Mutex
	send := func(msg OutgoingMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	writeMu.Lock()
	err = conn.WriteJSON(HandshakeMessage{ConnId: uuid.NewString(), Group: c.Group})
	writeMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "wsuplink: handshake")
	}

	sub := c.Registry.Subscribe()
	defer sub.Close()

	notifyCtx, cancelNotify := context.WithCancel(ctx)
	defer cancelNotify()
	go c.pumpNotifications(notifyCtx, sub, send)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "wsuplink: read")
		}
		var msg IncomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			wsuplinkLog.WithError(err).Warn("invalid incoming message")
			continue
		}
		c.handle(ctx, msg, send)
	}
}

func (c *Client) pumpNotifications(ctx context.Context, sub *procs.NotificationSub, send func(OutgoingMessage) error) {
	for {
		n, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		_ = send(OutgoingMessage{
			Type:   OutgoingNotification,
			ProcId: n.ProcId,
			Notification: &NotificationFrame{
				Kind:   n.Kind.String(),
				ProcId: n.ProcId,
			},
		})
	}
}

func (c *Client) handle(ctx context.Context, msg IncomingMessage, send func(OutgoingMessage) error) {
	switch msg.Type {
	case IncomingStart:
		if err := c.Launcher.StartProcs(ctx, msg.Specs); err != nil {
			_ = send(OutgoingMessage{Type: OutgoingError, Error: err.Error()})
			return
		}
		_ = send(OutgoingMessage{Type: OutgoingResult, Results: procs.ToRes(c.Registry.ToResult())})

	case IncomingSignal:
		err := c.Registry.SendSignal(msg.ProcId, msg.Signum, func(pid, sig int) error {
			return unix.Kill(pid, unix.Signal(sig))
		})
		if err != nil {
			_ = send(OutgoingMessage{Type: OutgoingError, ProcId: msg.ProcId, Error: err.Error()})
			return
		}
		_ = send(OutgoingMessage{Type: OutgoingResult, ProcId: msg.ProcId})

	case IncomingDelete:
		rec, err := c.Registry.RemoveIfNotRunning(msg.ProcId)
		if err != nil {
			_ = send(OutgoingMessage{Type: OutgoingError, ProcId: msg.ProcId, Error: err.Error()})
			return
		}
		res := procs.ToResult(rec)
		_ = send(OutgoingMessage{Type: OutgoingResult, ProcId: msg.ProcId, Res: &res})

	case IncomingQuery:
		_ = send(OutgoingMessage{Type: OutgoingResult, Results: procs.ToRes(c.Registry.ToResult())})

	default:
		_ = send(OutgoingMessage{Type: OutgoingError, Error: "unknown message type: " + string(msg.Type)})
	}
}
