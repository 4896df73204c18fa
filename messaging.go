package alwaysoffline

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Commands understood by HandleMessage.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
)

// Message is a command sent to the worker over the message channel.
type Message struct {
	Type string `json:"type"`
}

// VersionReply answers a GET_VERSION message with the live store name.
type VersionReply struct {
	Version string `json:"version"`
}

// HandleMessage executes one messaging command. The reply is nil for
// commands that do not reply. Unknown message types are ignored.
//
// GET_VERSION reports this worker's own store name. A worker waiting in the
// installed phase already answers with its version, even though the previous
// version is still the one routing requests.
func (w *Worker) HandleMessage(ctx context.Context, msg Message) (*VersionReply, error) {
	switch msg.Type {
	case MessageSkipWaiting:
		return nil, w.SkipWaiting(ctx)
	case MessageGetVersion:
		return &VersionReply{Version: w.StoreName()}, nil
	default:
		log.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
		return nil, nil
	}
}
