package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// ShutdownHook is a function called during shutdown.
type ShutdownHook struct {
	Name     string
	Priority int // lower runs first
	Fn       func(ctx context.Context) error
}

// ShutdownHandler runs registered hooks in priority order when the process
// receives SIGINT or SIGTERM, or when Shutdown is called.
type ShutdownHandler struct {
	mu          sync.Mutex
	hooks       []ShutdownHook
	timeout     time.Duration
	logger      *slog.Logger
	trigger     chan struct{}
	done        chan struct{}
	started     bool
	triggerOnce sync.Once
	errs        []error
}

// NewShutdownHandler creates a handler whose hooks share a deadline of timeout.
func NewShutdownHandler(timeout time.Duration, logger *slog.Logger) *ShutdownHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownHandler{
		timeout: timeout,
		logger:  logger,
		trigger: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// RegisterHook adds a shutdown hook.
func (s *ShutdownHandler) RegisterHook(name string, priority int, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, ShutdownHook{Name: name, Priority: priority, Fn: fn})
	sort.SliceStable(s.hooks, func(i, j int) bool {
		return s.hooks[i].Priority < s.hooks[j].Priority
	})
}

// Start begins listening for shutdown signals.
func (s *ShutdownHandler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("shutdown signal received", "signal", sig.String())
		case <-s.trigger:
		}
		signal.Stop(sigCh)
		s.run()
	}()
}

// Shutdown triggers shutdown without a signal.
func (s *ShutdownHandler) Shutdown() {
	s.triggerOnce.Do(func() { close(s.trigger) })
}

// Wait blocks until every hook has run and returns their errors.
func (s *ShutdownHandler) Wait() []error {
	<-s.done
	return s.errs
}

func (s *ShutdownHandler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	hooks := make([]ShutdownHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for _, hook := range hooks {
		if err := hook.Fn(ctx); err != nil {
			s.logger.Error("shutdown hook failed", "hook", hook.Name, "error", err)
			s.errs = append(s.errs, err)
			continue
		}
		s.logger.Debug("shutdown hook done", "hook", hook.Name)
	}
	close(s.done)
}
