package wsuplink

import (
	"github.com/alexhsamuel/procstar/internal/procs"
	"github.com/alexhsamuel/procstar/internal/spec"
)

// HandshakeMessage is the first frame the uplink sends once connected,
// identifying this agent to the remote orchestrator.
type HandshakeMessage struct {
	ConnId string `json:"conn_id"`
	Group  string `json:"group,omitempty"`
}

// IncomingKind discriminates IncomingMessage: start, signal, delete, or
// query a proc, grounded on original_source/src/wsclient.rs's
// proto::IncomingMessage dispatch.
type IncomingKind string

const (
	IncomingStart  IncomingKind = "start"
	IncomingSignal IncomingKind = "signal"
	IncomingDelete IncomingKind = "delete"
	IncomingQuery  IncomingKind = "query"
)

// IncomingMessage is one request frame from the remote orchestrator.
type IncomingMessage struct {
	Type   IncomingKind   `json:"type"`
	ProcId string         `json:"proc_id,omitempty"`
	Signum int            `json:"signum,omitempty"`
	Specs  spec.ProcsSpec `json:"specs,omitempty"`
}

// OutgoingKind discriminates OutgoingMessage.
type OutgoingKind string

const (
	OutgoingResult       OutgoingKind = "result"
	OutgoingError        OutgoingKind = "error"
	OutgoingNotification OutgoingKind = "notification"
)

// OutgoingMessage is one reply or unsolicited frame sent to the remote
// orchestrator.
type OutgoingMessage struct {
	Type         OutgoingKind       `json:"type"`
	ProcId       string             `json:"proc_id,omitempty"`
	Res          *procs.ProcRes     `json:"res,omitempty"`
	Results      procs.Res          `json:"results,omitempty"`
	Error        string             `json:"error,omitempty"`
	Notification *NotificationFrame `json:"notification,omitempty"`
}

// NotificationFrame mirrors one procs.Notification off the registry's bus.
type NotificationFrame struct {
	Kind   string `json:"kind"`
	ProcId string `json:"proc_id"`
}
