// Package ids generates the identifiers used across a session: tool call
// ids and background task ids share the same format so a call id can be
// used directly as a task id when a tool backgrounds itself.
package ids

import "github.com/google/uuid"

func NewCallId() string {
	return "call_" + uuid.NewString()
}

func NewSessionId() string {
	return "session_" + uuid.NewString()
}
