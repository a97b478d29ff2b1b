package batch

import (
	"sync/atomic"

	"github.com/Chichichkin/otelbridge/internal/logging"
)

// message is what travels through the processor queue. The set of
// implementations is closed: exportLog, flush, shutdown and setResource.
type message interface {
	isMessage()
}

type exportLog struct {
	record logging.LogRecord
}

// flush exports the current buffer. reply is nil for ticker-driven flushes.
type flush struct {
	reply *reply
}

type shutdown struct {
	reply *reply
}

type setResource struct {
	resource logging.Resource
}

func (exportLog) isMessage()   {}
func (flush) isMessage()       {}
func (shutdown) isMessage()    {}
func (setResource) isMessage() {}

const (
	replyPending int32 = iota
	replySent
	replyAbandoned
)

// reply carries exactly one result from the worker to one waiting caller.
// Whichever of send and abandon runs first decides the outcome.
type reply struct {
	ch    chan error
	state atomic.Int32
}

func newReply() *reply {
	return &reply{ch: make(chan error, 1)}
}

// send delivers err unless the caller already gave up waiting. It never
// blocks.
func (r *reply) send(err error) bool {
	if !r.state.CompareAndSwap(replyPending, replySent) {
		return false
	}
	r.ch <- err
	return true
}

// abandon gives up on the result. It reports false when the result has
// already been sent, in which case it is readable from ch.
func (r *reply) abandon() bool {
	return r.state.CompareAndSwap(replyPending, replyAbandoned)
}
