package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Entitled/internal/pkg/billing"
	"github.com/ManuelReschke/Entitled/internal/pkg/env"
)

// Schedule configures the periodic maintenance jobs.
type Schedule struct {
	ExpiryInterval  time.Duration
	ExpiryBatch     int
	PruneInterval   time.Duration
	PruneBatch      int
	LedgerRetention time.Duration
}

// LoadSchedule reads EXPIRY_SWEEP_INTERVAL, LEDGER_PRUNE_INTERVAL and LEDGER_RETENTION.
func LoadSchedule() Schedule {
	return Schedule{
		ExpiryInterval:  env.GetEnvDuration("EXPIRY_SWEEP_INTERVAL", 15*time.Minute),
		ExpiryBatch:     env.GetEnvInt("EXPIRY_SWEEP_BATCH", DefaultExpiryBatch),
		PruneInterval:   env.GetEnvDuration("LEDGER_PRUNE_INTERVAL", 6*time.Hour),
		PruneBatch:      env.GetEnvInt("LEDGER_PRUNE_BATCH", DefaultPruneBatch),
		LedgerRetention: env.GetEnvDuration("LEDGER_RETENTION", billing.DefaultLedgerRetention),
	}
}

// periodicTask enqueues one maintenance job every interval.
type periodicTask struct {
	name     string
	interval time.Duration
	enqueue  func(context.Context) error
}

// Manager runs the queue workers plus the periodic expiry sweep and ledger prune.
type Manager struct {
	queue    *Queue
	schedule Schedule

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(queue *Queue, schedule Schedule) *Manager {
	return &Manager{queue: queue, schedule: schedule}
}

func (m *Manager) tasks() []periodicTask {
	return []periodicTask{
		{name: "expiry sweep", interval: m.schedule.ExpiryInterval, enqueue: m.enqueueExpirySweep},
		{name: "ledger prune", interval: m.schedule.PruneInterval, enqueue: m.enqueueLedgerPrune},
	}
}

// Start launches the queue and one goroutine per enabled task. Each task runs once right
// away so a restarted instance does not wait a full interval.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	log.Info("[JobQueue Manager] Starting job queue and maintenance tasks")
	m.queue.Start()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	for _, task := range m.tasks() {
		if task.interval <= 0 {
			log.Infof("[JobQueue Manager] %s disabled", task.name)
			continue
		}
		m.wg.Add(1)
		go m.run(ctx, task)
	}
}

// Stop halts the schedulers, then drains the queue workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping...")
	m.cancel()
	m.wg.Wait()
	m.queue.Stop()
	m.running = false
	log.Info("[JobQueue Manager] Stopped")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) run(ctx context.Context, task periodicTask) {
	defer m.wg.Done()
	ticker := time.NewTicker(task.interval)
	defer ticker.Stop()

	m.trigger(ctx, task)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.trigger(ctx, task)
		}
	}
}

func (m *Manager) trigger(ctx context.Context, task periodicTask) {
	err := task.enqueue(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrJobAlreadyQueued):
		log.Debugf("[JobQueue Manager] Previous %s still queued, skipping", task.name)
	case ctx.Err() != nil:
	default:
		log.Errorf("[JobQueue Manager] Scheduling %s: %v", task.name, err)
	}
}

func (m *Manager) enqueueExpirySweep(ctx context.Context) error {
	_, err := m.queue.EnqueueUniqueJob(ctx, JobTypeExpireSubscriptions,
		ExpiryJobPayload{Limit: m.schedule.ExpiryBatch}.ToMap(), guardTTL(m.schedule.ExpiryInterval))
	return err
}

func (m *Manager) enqueueLedgerPrune(ctx context.Context) error {
	_, err := m.queue.EnqueueUniqueJob(ctx, JobTypePruneLedger, PruneLedgerJobPayload{
		RetentionSeconds: int64(m.schedule.LedgerRetention / time.Second),
		BatchSize:        m.schedule.PruneBatch,
	}.ToMap(), guardTTL(m.schedule.PruneInterval))
	return err
}

// guardTTL lets a unique guard outlive one interval, so a crashed run frees the type
// within two.
func guardTTL(interval time.Duration) time.Duration {
	if interval <= 0 {
		return time.Hour
	}
	return 2 * interval
}
