//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"dm-engine/domain"
	"dm-engine/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is one session's outbound queue. Consume must not block the
// caller beyond ctx; a sink that reports ErrStaleSession is evicted.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IRegistry is the presence registry: user identity -> live sessions.
type IRegistry interface {
	Register(userID string, sink EventSink) domain.SessionID
	Unregister(userID string, sessionID domain.SessionID)
	SessionsFor(userID string) []SessionHandle
	IsOnline(userID string) bool
}

// SessionHandle pairs a registered session with its sink so the router
// can push without a second lookup, and evict by ID on stale push.
type SessionHandle struct {
	Session domain.Session
	Sink    EventSink
}
