package logger

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Error creates an attribute for a single error under the key "error".
// Returns an empty Attr for nil errors.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// MsgID records a message id under the key "msg_id".
func MsgID(id uuid.UUID) slog.Attr {
	return slog.String("msg_id", id.String())
}

// Correlation records a correlation id under the key "correlation_id".
func Correlation(id uuid.UUID) slog.Attr {
	return slog.String("correlation_id", id.String())
}

// Bus records the diagnostic bus name.
func Bus(name string) slog.Attr {
	return slog.String("bus", name)
}

// Queue records the diagnostic queue name.
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// MsgType records a message type name.
func MsgType(name string) slog.Attr {
	return slog.String("msg_type", name)
}

// Peer records the remote address of a transport connection.
func Peer(addr string) slog.Attr {
	return slog.String("peer", addr)
}

// Took records an elapsed duration under the key "took".
func Took(d time.Duration) slog.Attr {
	return slog.Duration("took", d)
}
