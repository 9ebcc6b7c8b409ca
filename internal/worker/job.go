package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"github.com/ClareAI/voice-sell-agent/internal/core/room"
	"github.com/livekit/protocol/livekit"
)

// ErrAlreadyAnswered is returned when a job offer is answered twice
var ErrAlreadyAnswered = errors.New("job request already answered")

// JobRequest is a job offer from the dispatcher. It must be answered once.
type JobRequest struct {
	job      *livekit.Job
	answered atomic.Bool
	respond  func(available bool, identity string) error
}

// JobID returns the offered job's ID
func (r *JobRequest) JobID() string {
	return r.job.GetId()
}

// RoomName returns the name of the room the job is for
func (r *JobRequest) RoomName() string {
	return r.job.GetRoom().GetName()
}

// Accept takes the job. identity is the participant identity the agent joins with.
func (r *JobRequest) Accept(identity string) error {
	if !r.answered.CompareAndSwap(false, true) {
		return ErrAlreadyAnswered
	}
	return r.respond(true, identity)
}

// Reject declines the job
func (r *JobRequest) Reject() error {
	if !r.answered.CompareAndSwap(false, true) {
		return ErrAlreadyAnswered
	}
	return r.respond(false, "")
}

// Answered reports whether Accept or Reject was called
func (r *JobRequest) Answered() bool {
	return r.answered.Load()
}

// JoinRequest carries what is needed to join the room of an assigned job
type JoinRequest struct {
	JobID    string
	RoomName string
	URL      string
	Token    string
}

// RoomJoiner joins a room for an assigned job
type RoomJoiner func(ctx context.Context, req JoinRequest, bus event.Bus) (room.Room, error)

// JobContext is one assigned job. It implements room.Job.
type JobContext struct {
	job    *livekit.Job
	url    string
	token  string
	join   RoomJoiner
	cancel context.CancelFunc

	mu       sync.Mutex
	shutdown bool
	reason   string
}

// ID returns the job ID
func (j *JobContext) ID() string {
	return j.job.GetId()
}

// RoomName returns the job's room
func (j *JobContext) RoomName() string {
	return j.job.GetRoom().GetName()
}

// Connect joins the job's room. Room events are published on bus.
func (j *JobContext) Connect(ctx context.Context, bus event.Bus) (room.Room, error) {
	return j.join(ctx, JoinRequest{JobID: j.ID(), RoomName: j.RoomName(), URL: j.url, Token: j.token}, bus)
}

// Shutdown ends the job. The first non-empty reason marks the job failed.
func (j *JobContext) Shutdown(reason string) {
	j.mu.Lock()
	if !j.shutdown {
		j.shutdown = true
		j.reason = reason
	}
	j.mu.Unlock()
	j.cancel()
}

func (j *JobContext) shutdownReason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reason
}
