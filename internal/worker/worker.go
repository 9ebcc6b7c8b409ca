// Package worker registers with LiveKit agent dispatch and runs accepted jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/core/room"
	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const (
	defaultPingInterval   = 10 * time.Second
	defaultReconnectDelay = 2 * time.Second
	defaultConnectTimeout = 15 * time.Second
)

var errNotConnected = errors.New("worker is not connected")

// AdmitFunc decides whether to take an offered job. It must answer req.
type AdmitFunc func(ctx context.Context, req *JobRequest) error

// EntrypointFunc runs one assigned job to completion
type EntrypointFunc func(ctx context.Context, job room.Job) error

// TokenSource returns a bearer token for registration
type TokenSource func() (string, error)

// Options configures a worker
type Options struct {
	URL            string // agent websocket endpoint, e.g. wss://host/agent
	Token          TokenSource
	AgentName      string
	Version        string
	Admit          AdmitFunc
	Entrypoint     EntrypointFunc
	Join           RoomJoiner
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
}

// Worker keeps a registration with the dispatcher and runs the jobs it assigns
type Worker struct {
	opts Options

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	workerID string
	accepted map[string]string // jobID -> identity
	jobs     map[string]*JobContext
	mutex    sync.Mutex
	wg       sync.WaitGroup
}

// New creates a worker
func New(opts Options) *Worker {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Worker{
		opts:     opts,
		accepted: make(map[string]string),
		jobs:     make(map[string]*JobContext),
	}
}

// Run registers and serves until ctx is done, reconnecting after a dropped
// connection. On return every running job has been cancelled and has finished.
func (w *Worker) Run(ctx context.Context) error {
	defer w.stopJobs()

	for {
		err := w.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Base().Warn("Agent dispatch connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", w.opts.ReconnectDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.opts.ReconnectDelay):
		}
	}
}

// ActiveJobs returns the number of running jobs
func (w *Worker) ActiveJobs() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return len(w.jobs)
}

// WorkerID returns the ID assigned at the last registration
func (w *Worker) WorkerID() string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.workerID
}

func (w *Worker) serve(ctx context.Context) error {
	conn, err := w.dial(ctx)
	if err != nil {
		return err
	}
	w.setConn(conn)
	defer func() {
		w.setConn(nil)
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Register{
		Register: &livekit.RegisterWorkerRequest{
			Type:      livekit.JobType_JT_ROOM,
			AgentName: w.opts.AgentName,
			Version:   w.opts.Version,
		},
	}}); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	go w.pingLoop(done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		var msg livekit.ServerMessage
		if err := proto.Unmarshal(data, &msg); err != nil {
			logger.Base().Warn("Dropping malformed dispatch message", zap.Error(err))
			continue
		}
		w.handle(ctx, &msg)
	}
}

func (w *Worker) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := w.opts.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to create worker token: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	conn, resp, err := w.opts.Dialer.DialContext(dialCtx, w.opts.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s failed with status %d: %w", w.opts.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s failed: %w", w.opts.URL, err)
	}
	return conn, nil
}

func (w *Worker) handle(ctx context.Context, msg *livekit.ServerMessage) {
	switch m := msg.Message.(type) {
	case *livekit.ServerMessage_Register:
		w.mutex.Lock()
		w.workerID = m.Register.GetWorkerId()
		w.mutex.Unlock()
		logger.Base().Info("Worker registered",
			zap.String("worker_id", m.Register.GetWorkerId()),
			zap.String("agent_name", w.opts.AgentName))

	case *livekit.ServerMessage_Availability:
		w.handleAvailability(ctx, m.Availability.GetJob())

	case *livekit.ServerMessage_Assignment:
		w.handleAssignment(ctx, m.Assignment)

	case *livekit.ServerMessage_Termination:
		w.handleTermination(m.Termination.GetJobId())

	case *livekit.ServerMessage_Pong:
		// keepalive

	default:
		logger.Base().Debug("Ignoring dispatch message", zap.String("type", fmt.Sprintf("%T", msg.Message)))
	}
}

func (w *Worker) handleAvailability(ctx context.Context, job *livekit.Job) {
	if job == nil {
		return
	}
	req := &JobRequest{job: job}
	req.respond = func(available bool, identity string) error {
		if available {
			w.mutex.Lock()
			w.accepted[job.GetId()] = identity
			w.mutex.Unlock()
		}
		return w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Availability{
			Availability: &livekit.AvailabilityResponse{
				JobId:               job.GetId(),
				Available:           available,
				ParticipantIdentity: identity,
			},
		}})
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Base().Error("Job admission panicked", zap.String("job_id", job.GetId()), zap.Any("panic", r))
				_ = req.Reject()
			}
		}()

		if err := w.opts.Admit(ctx, req); err != nil {
			logger.Base().Error("Job admission failed", zap.String("job_id", job.GetId()), zap.Error(err))
		}
		if !req.Answered() {
			if err := req.Reject(); err != nil {
				logger.Base().Warn("Failed to reject job", zap.String("job_id", job.GetId()), zap.Error(err))
			}
		}
	}()
}

func (w *Worker) handleAssignment(ctx context.Context, assignment *livekit.JobAssignment) {
	job := assignment.GetJob()
	if job == nil {
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	jc := &JobContext{
		job:    job,
		url:    assignment.GetUrl(),
		token:  assignment.GetToken(),
		join:   w.opts.Join,
		cancel: cancel,
	}

	w.mutex.Lock()
	identity := w.accepted[job.GetId()]
	delete(w.accepted, job.GetId())
	w.jobs[job.GetId()] = jc
	w.mutex.Unlock()

	logger.Base().Info("Job assigned",
		zap.String("job_id", job.GetId()),
		zap.String("room", job.GetRoom().GetName()),
		zap.String("identity", identity))
	w.updateStatus()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancel()
		w.runJob(jobCtx, jc)
	}()
}

func (w *Worker) runJob(ctx context.Context, jc *JobContext) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		err = w.opts.Entrypoint(ctx, jc)
	}()

	reason := jc.shutdownReason()
	if reason == "" && err != nil {
		reason = err.Error()
	}

	status := livekit.JobStatus_JS_SUCCESS
	if reason != "" {
		status = livekit.JobStatus_JS_FAILED
		logger.Base().Error("Job failed", zap.String("job_id", jc.ID()), zap.String("error", reason))
	} else {
		logger.Base().Info("Job finished", zap.String("job_id", jc.ID()))
	}

	w.mutex.Lock()
	delete(w.jobs, jc.ID())
	w.mutex.Unlock()

	if err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateJob{
		UpdateJob: &livekit.UpdateJobStatus{JobId: jc.ID(), Status: status, Error: reason},
	}}); err != nil {
		logger.Base().Warn("Failed to report job status", zap.String("job_id", jc.ID()), zap.Error(err))
	}
	w.updateStatus()
}

func (w *Worker) handleTermination(jobID string) {
	w.mutex.Lock()
	jc, ok := w.jobs[jobID]
	w.mutex.Unlock()
	if !ok {
		return
	}
	logger.Base().Info("Job terminated by dispatcher", zap.String("job_id", jobID))
	jc.cancel()
}

func (w *Worker) updateStatus() {
	status := livekit.WorkerStatus_WS_AVAILABLE
	if err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateWorker{
		UpdateWorker: &livekit.UpdateWorkerStatus{
			Status:   &status,
			JobCount: uint32(w.ActiveJobs()),
		},
	}}); err != nil && !errors.Is(err, errNotConnected) {
		logger.Base().Debug("Failed to update worker status", zap.Error(err))
	}
}

func (w *Worker) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Ping{
				Ping: &livekit.WorkerPing{Timestamp: time.Now().UnixMilli()},
			}}); err != nil {
				return
			}
		}
	}
}

func (w *Worker) send(msg *livekit.WorkerMessage) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal worker message: %w", err)
	}

	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *Worker) setConn(conn *websocket.Conn) {
	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
}

func (w *Worker) stopJobs() {
	w.mutex.Lock()
	for _, jc := range w.jobs {
		jc.cancel()
	}
	w.mutex.Unlock()
	w.wg.Wait()
}
