package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/cache"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

// Task is a lifecycle job run on a fixed interval.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Manager owns the job queue and the periodic lifecycle tasks. With a lock
// client set, each tick takes a Redis lock so only one instance runs a task.
type Manager struct {
	queue   *Queue
	locker  *redis.Client
	tasks   []Task
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     zerolog.Logger
}

// NewManager creates a manager. queue and locker may be nil.
func NewManager(queue *Queue, locker *redis.Client, tasks ...Task) *Manager {
	return &Manager{
		queue:  queue,
		locker: locker,
		tasks:  tasks,
		stopCh: make(chan struct{}),
		log:    logging.Component("jobqueue-manager"),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Fresh channel per cycle so the manager can be restarted.
	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	if m.queue != nil {
		m.queue.Start()
	}
	for _, task := range m.tasks {
		if task.Interval <= 0 || task.Run == nil {
			m.log.Warn().Str("task", task.Name).Msg("Skipping task without interval or body")
			continue
		}
		m.wg.Add(1)
		go m.loop(ctx, task, m.stopCh)
	}
	m.log.Info().Int("tasks", len(m.tasks)).Msg("Manager started")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	close(m.stopCh)
	m.cancel()
	m.running = false
	m.wg.Wait()

	if m.queue != nil {
		m.queue.Stop()
	}
	m.log.Info().Msg("Manager stopped")
}

func (m *Manager) loop(ctx context.Context, task Task, stopCh <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := m.runTask(ctx, task); err != nil {
				m.log.Error().Err(err).Str("task", task.Name).Msg("Task failed")
			}
		}
	}
}

func (m *Manager) runTask(ctx context.Context, task Task) error {
	if m.locker != nil {
		lock, ok, err := cache.TryLock(ctx, m.locker, "task:"+task.Name, task.Interval)
		if err != nil {
			return err
		}
		if !ok {
			m.log.Debug().Str("task", task.Name).Msg("Task held by another instance")
			return nil
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				m.log.Warn().Err(err).Str("task", task.Name).Msg("Could not release task lock")
			}
		}()
	}
	return task.Run(ctx)
}

// RunOnce runs the named task immediately, outside its schedule.
func (m *Manager) RunOnce(ctx context.Context, name string) error {
	for _, task := range m.tasks {
		if task.Name == name {
			return m.runTask(ctx, task)
		}
	}
	return fmt.Errorf("unknown task %q", name)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
