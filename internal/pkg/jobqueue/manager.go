package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Manager owns the job queue lifecycle and its periodic housekeeping.
type Manager struct {
	queue         *Queue
	statsInterval time.Duration
	statsTicker   *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:         queue,
		statsInterval: 5 * time.Minute,
		stopCh:        make(chan struct{}),
	}
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.statsTicker = time.NewTicker(m.statsInterval)
	m.wg.Add(1)
	go m.statsWorker(m.stopCh, m.statsTicker)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.statsTicker != nil {
		m.statsTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// statsWorker logs queue depth so a stuck consumer shows up in the logs
func (m *Manager) statsWorker(stopCh chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.logStats(context.Background())
		}
	}
}

func (m *Manager) logStats(ctx context.Context) {
	pending, err := m.queue.GetQueueSize(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Queue size error: %v", err)
		return
	}
	processing, _ := m.queue.GetProcessingSize(ctx)
	stats, _ := m.queue.GetJobStats(ctx)
	log.Infof("[JobQueue Manager] pending=%d processing=%d completed=%d failed=%d",
		pending, processing, stats[JobStatusCompleted], stats[JobStatusFailed])
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
