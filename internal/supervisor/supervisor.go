// Package supervisor keeps the worker and health child processes running.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"go.uber.org/zap"
)

const defaultPollInterval = time.Second

// ChildSpec describes one supervised command
type ChildSpec struct {
	Name string
	Path string
	Args []string
	Env  []string // nil inherits the supervisor's environment
}

// Options configures a supervisor
type Options struct {
	Children     []ChildSpec
	PollInterval time.Duration
}

// process is one launched child. It is replaced on exit, never restarted in place.
type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

type child struct {
	cfg      ChildSpec
	proc     *process
	restarts int
}

// Supervisor restarts any child that exits, without backoff or limit
type Supervisor struct {
	interval time.Duration
	children []*child
	mutex    sync.Mutex
}

// New creates a supervisor
func New(opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	s := &Supervisor{interval: opts.PollInterval}
	for _, cfg := range opts.Children {
		s.children = append(s.children, &child{cfg: cfg})
	}
	return s
}

// Run starts every child and polls them until ctx is done. On cancellation each
// child gets SIGTERM and Run returns once all of them have exited.
func (s *Supervisor) Run(ctx context.Context) error {
	for _, c := range s.children {
		if err := s.launch(c); err != nil {
			s.stop()
			return fmt.Errorf("failed to start %s: %w", c.cfg.Name, err)
		}
		logger.Base().Info("Started child process", zap.String("name", c.cfg.Name), zap.Int("pid", s.PID(c.cfg.Name)))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("Stopping child processes")
			s.stop()
			return nil
		case <-ticker.C:
			s.poll()
		}
	}
}

// PID returns the pid of the named child's latest process, or 0 before it started
func (s *Supervisor) PID(name string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, c := range s.children {
		if c.cfg.Name == name && c.proc != nil && c.proc.cmd.Process != nil {
			return c.proc.cmd.Process.Pid
		}
	}
	return 0
}

// Restarts returns how many times the named child has been relaunched
func (s *Supervisor) Restarts(name string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, c := range s.children {
		if c.cfg.Name == name {
			return c.restarts
		}
	}
	return 0
}

func (s *Supervisor) poll() {
	for _, c := range s.children {
		s.mutex.Lock()
		proc := c.proc
		s.mutex.Unlock()
		if proc != nil && !proc.exited() {
			continue
		}

		if proc != nil {
			logger.Base().Warn("Child process exited, restarting",
				zap.String("name", c.cfg.Name),
				zap.Int("pid", proc.cmd.Process.Pid),
				zap.Error(proc.err))
		}
		if err := s.launch(c); err != nil {
			logger.Base().Error("Failed to restart child process", zap.String("name", c.cfg.Name), zap.Error(err))
			continue
		}

		s.mutex.Lock()
		c.restarts++
		restarts := c.restarts
		s.mutex.Unlock()
		logger.Base().Info("Child process restarted",
			zap.String("name", c.cfg.Name),
			zap.Int("pid", s.PID(c.cfg.Name)),
			zap.Int("restarts", restarts))
	}
}

func (s *Supervisor) launch(c *child) error {
	cmd := exec.Command(c.cfg.Path, c.cfg.Args...)
	cmd.Env = c.cfg.Env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		s.mutex.Lock()
		c.proc = nil
		s.mutex.Unlock()
		return err
	}

	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	s.mutex.Lock()
	c.proc = p
	s.mutex.Unlock()
	return nil
}

func (s *Supervisor) stop() {
	s.mutex.Lock()
	var running []*process
	for _, c := range s.children {
		if c.proc != nil {
			running = append(running, c.proc)
		}
	}
	s.mutex.Unlock()

	for _, p := range running {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Base().Warn("Failed to signal child process", zap.Int("pid", p.cmd.Process.Pid), zap.Error(err))
		}
	}
	for _, p := range running {
		<-p.done
	}
}
