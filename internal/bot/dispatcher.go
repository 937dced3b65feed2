package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lanternlabs/doorman/internal/invites"
	"github.com/lanternlabs/doorman/internal/retry"
)

// Event type discriminators carried in the webhook envelope.
const (
	EventLinkCreated    = "link_created"
	EventLinkDeleted    = "link_deleted"
	EventMemberArrived  = "member_arrived"
	EventMemberDeparted = "member_departed"
)

// Envelope is one delivery from the platform event stream.
type Envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	CommunityID string          `json:"community_id"`
	Data        json.RawMessage `json:"data"`
}

// Handler consumes decoded platform events.
type Handler interface {
	HandleLinkCreated(ctx context.Context, communityID string, ev invites.LinkCreated) error
	HandleLinkDeleted(ctx context.Context, communityID string, ev invites.LinkDeleted) error
	HandleMemberArrived(ctx context.Context, communityID string, ev invites.MemberArrived) error
	HandleMemberDeparted(ctx context.Context, communityID string, ev invites.MemberDeparted) error
}

const (
	workerQueueSize  = 256
	workerIdleAfter  = 5 * time.Minute
	dedupTTL         = 10 * time.Minute
	dedupSweepEvery  = time.Minute
	defaultDrainWait = 15 * time.Second
)

// Dispatcher fans webhook deliveries out to one serialized worker per
// community. Order within a community follows delivery order; distinct
// communities proceed in parallel.
type Dispatcher struct {
	log       *slog.Logger
	handler   Handler
	retryCfg  retry.Config
	idleAfter time.Duration

	mu      sync.Mutex
	workers map[string]*worker
	seen    map[string]time.Time
	closed  bool

	wg       sync.WaitGroup
	rootCtx  context.Context
	stopRoot context.CancelFunc
}

type worker struct {
	queue chan Envelope
}

// NewDispatcher creates a dispatcher delivering to the given handler.
func NewDispatcher(log *slog.Logger, handler Handler) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:       log,
		handler:   handler,
		retryCfg:  retry.DefaultConfig(),
		idleAfter: workerIdleAfter,
		workers:   make(map[string]*worker),
		seen:      make(map[string]time.Time),
		rootCtx:   ctx,
		stopRoot:  cancel,
	}
}

// Start launches the duplicate-suppression sweeper. Workers are created
// lazily on first event for a community.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(dedupSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.rootCtx.Done():
				return
			case <-ticker.C:
				d.sweepSeen()
			}
		}
	}()
}

// Enqueue hands a delivery to the owning community's worker. Duplicate
// event IDs within the suppression window are dropped. Returns an error
// once the dispatcher has shut down or when the queue is full.
//
// The send happens under d.mu: an idle reap's check-and-delete also
// runs under d.mu, so a worker cannot observe an empty queue and exit
// between the map lookup and the send landing.
func (d *Dispatcher) Enqueue(env Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("dispatcher is shut down")
	}
	if env.ID != "" {
		if _, dup := d.seen[env.ID]; dup {
			eventsDuplicateTotal.Inc()
			d.log.Debug("dropping duplicate event", "event_id", env.ID)
			return nil
		}
	}

	w := d.workerLocked(env.CommunityID)
	select {
	case w.queue <- env:
	default:
		// Not recorded in the dedup map: the caller answers 503 and
		// the platform's redelivery must not look like a duplicate.
		return fmt.Errorf("event queue full for community %s", env.CommunityID)
	}

	if env.ID != "" {
		d.seen[env.ID] = time.Now().Add(dedupTTL)
	}
	eventsReceivedTotal.WithLabelValues(env.Type).Inc()
	return nil
}

// workerLocked returns the community's worker, spawning one if needed.
// Caller holds d.mu.
func (d *Dispatcher) workerLocked(communityID string) *worker {
	if w, ok := d.workers[communityID]; ok {
		return w
	}
	w := &worker{queue: make(chan Envelope, workerQueueSize)}
	d.workers[communityID] = w
	d.wg.Add(1)
	go d.runWorker(communityID, w)
	return w
}

func (d *Dispatcher) runWorker(communityID string, w *worker) {
	defer d.wg.Done()
	idle := time.NewTimer(d.idleAfter)
	defer idle.Stop()

	for {
		select {
		case env := <-w.queue:
			d.dispatch(env)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(d.idleAfter)
		case <-idle.C:
			// Reap the idle worker unless an event raced in. The queue
			// check and map delete are atomic with Enqueue's send, both
			// running under d.mu.
			d.mu.Lock()
			if len(w.queue) == 0 {
				delete(d.workers, communityID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idleAfter)
		case <-d.rootCtx.Done():
			d.drain(w)
			return
		}
	}
}

// drain processes whatever is already queued so accepted events are not
// lost on shutdown.
func (d *Dispatcher) drain(w *worker) {
	for {
		select {
		case env := <-w.queue:
			d.dispatch(env)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(env Envelope) {
	// Processing outlives the accept socket during shutdown, so events
	// run under their own timeout rather than the root context.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := retry.Do(ctx, d.retryCfg, func() error {
		return d.handle(ctx, env)
	})
	if err != nil {
		eventsFailedTotal.WithLabelValues(env.Type).Inc()
		d.log.Error("event processing failed",
			"event_id", env.ID, "type", env.Type, "community", env.CommunityID, "error", err)
	}
}

func (d *Dispatcher) handle(ctx context.Context, env Envelope) error {
	switch env.Type {
	case EventLinkCreated:
		var ev invites.LinkCreated
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", env.Type, err)
		}
		return d.handler.HandleLinkCreated(ctx, env.CommunityID, ev)
	case EventLinkDeleted:
		var ev invites.LinkDeleted
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", env.Type, err)
		}
		return d.handler.HandleLinkDeleted(ctx, env.CommunityID, ev)
	case EventMemberArrived:
		var ev invites.MemberArrived
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", env.Type, err)
		}
		return d.handler.HandleMemberArrived(ctx, env.CommunityID, ev)
	case EventMemberDeparted:
		var ev invites.MemberDeparted
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", env.Type, err)
		}
		return d.handler.HandleMemberDeparted(ctx, env.CommunityID, ev)
	default:
		d.log.Warn("ignoring unknown event type", "type", env.Type, "event_id", env.ID)
		return nil
	}
}

func (d *Dispatcher) sweepSeen() {
	now := time.Now()
	d.mu.Lock()
	for id, expiry := range d.seen {
		if now.After(expiry) {
			delete(d.seen, id)
		}
	}
	d.mu.Unlock()
}

// Shutdown stops accepting new events, lets workers drain their queues,
// and waits up to the timeout for them to finish.
func (d *Dispatcher) Shutdown(timeout time.Duration) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.stopRoot()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		d.log.Warn("dispatcher shutdown timed out with events in flight")
	}
}
