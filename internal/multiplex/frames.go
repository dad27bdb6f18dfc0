// Package multiplex implements the subscription multiplexer: the
// WebSocket-facing manager that owns per-connection state, dispatches
// incoming frames to named actions, deduplicates identical subscriptions
// within a session, and serializes outbound updates to the transport.
package multiplex

import "encoding/json"

// Frame types understood by the dispatcher.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeMutation    = "mutation"

	TypeUpdate         = "update"
	TypeMutationResult = "mutationResult"
	TypeError          = "error"
)

// InboundFrame is the superset shape of every client→server frame; which
// fields are meaningful depends on Type.
type InboundFrame struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	SubID     string          `json:"subId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// UpdateFrame is emitted once per value a subscribed computation produces.
type UpdateFrame struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	SubID string `json:"subId"`
	Data  any    `json:"data"`
}

// MutationResultFrame is emitted once a mutation's Execute has returned
// successfully.
type MutationResultFrame struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	RequestID string `json:"requestId"`
	Data      any    `json:"data"`
}

// Error frames are built via *apperrors.AppError.ToErrorFrame, which
// produces the matching errors.Frame wire shape directly; there is no
// separate ErrorFrame type here to keep in sync with it.

func newUpdateFrame(name, subID string, data any) UpdateFrame {
	return UpdateFrame{Type: TypeUpdate, Name: name, SubID: subID, Data: data}
}

func newMutationResultFrame(name, requestID string, data any) MutationResultFrame {
	return MutationResultFrame{Type: TypeMutationResult, Name: name, RequestID: requestID, Data: data}
}
