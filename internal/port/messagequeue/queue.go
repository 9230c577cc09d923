// Package messagequeue defines the external event bus port.
package messagequeue

import (
	"context"
	"fmt"
	"strings"
)

// Publisher sends messages to an external bus with at-least-once delivery.
type Publisher interface {
	// Publish sends data on subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close shuts down the connection.
	Close() error

	// IsConnected reports whether the bus connection is currently up.
	IsConnected() bool
}

// SubjectEvents is the root of all sync event subjects:
// docsync.events.<owner>.<repo>.<type>.
const SubjectEvents = "docsync.events"

// EventSubject builds the subject for an event on channel "owner/repo".
// Tokens are sanitized so that dots or wildcards in repository names never
// split or widen the subject.
func EventSubject(channel, eventType string) string {
	owner, name, _ := strings.Cut(channel, "/")
	return fmt.Sprintf("%s.%s.%s.%s", SubjectEvents, token(owner), token(name), token(eventType))
}

func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r', ':':
			return '_'
		}
		return r
	}, s)
}
