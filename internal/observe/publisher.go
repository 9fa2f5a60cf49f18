package observe

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/synchro/internal/monitoring"
)

// PublisherConfig sizes the publisher queues.
type PublisherConfig struct {
	QueueSize  int // snapshots waiting for the broadcast loop
	ClientSize int // snapshots buffered per subscriber
}

// DefaultPublisherConfig returns the default queue sizes.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{QueueSize: 100, ClientSize: 10}
}

// Publisher fans snapshots out to subscribers without ever blocking the
// caller: a full queue or a slow subscriber drops snapshots and counts them.
type Publisher struct {
	cfg PublisherConfig

	queue     chan Snapshot
	clients   map[string]*subscriber
	clientsMu sync.RWMutex

	published atomic.Uint64
	dropped   atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type subscriber struct {
	id string
	ch chan Snapshot
}

// NewPublisher creates a stopped publisher.
func NewPublisher(cfg PublisherConfig) *Publisher {
	def := DefaultPublisherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientSize <= 0 {
		cfg.ClientSize = def.ClientSize
	}
	return &Publisher{
		cfg:     cfg,
		queue:   make(chan Snapshot, cfg.QueueSize),
		clients: make(map[string]*subscriber),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the broadcast loop.
func (p *Publisher) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.wg.Add(1)
	go p.broadcastLoop()
	return nil
}

// Stop ends the broadcast loop and closes every subscriber channel.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()

	p.clientsMu.Lock()
	for id, c := range p.clients {
		close(c.ch)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()
	monitoring.Logf("[observe] publisher stopped: published=%d dropped=%d", p.published.Load(), p.dropped.Load())
}

// Observe implements Observer. It never blocks.
func (p *Publisher) Observe(s Snapshot) {
	if !p.running.Load() {
		return
	}
	select {
	case p.queue <- s.Clone():
		p.published.Add(1)
	default:
		n := p.dropped.Add(1)
		monitoring.Debugf("[observe] dropped snapshot for tick %d (total dropped: %d), queue full", s.Tick, n)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case s := <-p.queue:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.ch <- s:
				default:
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// func. The channel is closed by cancel or by Stop.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	c := &subscriber{id: uuid.NewString(), ch: make(chan Snapshot, p.cfg.ClientSize)}
	p.clientsMu.Lock()
	p.clients[c.id] = c
	p.clientsMu.Unlock()
	monitoring.Debugf("[observe] subscriber %s connected", c.id)

	var once sync.Once
	return c.ch, func() {
		once.Do(func() {
			p.clientsMu.Lock()
			if _, ok := p.clients[c.id]; ok {
				delete(p.clients, c.id)
				close(c.ch)
			}
			p.clientsMu.Unlock()
		})
	}
}

// PublisherStats is a point-in-time view of the publisher counters.
type PublisherStats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
	Running     bool
}

// Stats returns the current counters.
func (p *Publisher) Stats() PublisherStats {
	p.clientsMu.RLock()
	n := len(p.clients)
	p.clientsMu.RUnlock()
	return PublisherStats{
		Published:   p.published.Load(),
		Dropped:     p.dropped.Load(),
		Subscribers: n,
		Running:     p.running.Load(),
	}
}
