package psystem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StepEvent describes one step taken by an environment
type StepEvent struct {
	EnvironmentID EnvironmentID `json:"environment_id"`
	System        string        `json:"system"`
	Step          int           `json:"step"`
	Timestamp     int64         `json:"timestamp"`

	// What happened during the step
	Firings   []RuleFiring `json:"firings,omitempty"`
	Dissolved []MembraneID `json:"dissolved,omitempty"`
	Discarded Multiset     `json:"discarded"`
	Saturated []MembraneID `json:"saturated,omitempty"`

	// Halted is true when the resulting configuration has no applicable rule
	Halted bool `json:"halted"`
}

// NewStepEvent builds the event for a step report.
func NewStepEvent(envID EnvironmentID, sys *System, report StepReport, halted bool) StepEvent {
	return StepEvent{
		EnvironmentID: envID,
		System:        sys.Name(),
		Step:          report.Step,
		Timestamp:     time.Now().Unix(),
		Firings:       report.Firings,
		Dissolved:     report.Dissolved,
		Discarded:     report.Discarded,
		Saturated:     report.Saturated,
		Halted:        halted,
	}
}

// JSON returns the step event as JSON bytes
func (se StepEvent) JSON() ([]byte, error) {
	return json.Marshal(se)
}

// Notifier is the interface that all notification channels must implement
type Notifier interface {
	// ID returns a unique identifier for this notifier
	ID() string

	// Type returns the type of notifier (e.g., "webhook", "websocket")
	Type() string

	// Notify sends a step event. The context can be used for cancellation and timeout.
	Notify(ctx context.Context, event StepEvent) error

	// Close closes the notifier and releases any resources
	Close() error
}

// notificationJob represents a job to be processed by the notification queue
type notificationJob struct {
	Event       StepEvent
	NotifierIDs []string
}

// NotificationManager manages all notifiers and routes step events to them
type NotificationManager struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	jobs      chan notificationJob
	closed    bool
	wg        sync.WaitGroup
	logger    Logger
	backoff   time.Duration
}

// NewNotificationManager creates a new notification manager with one
// delivery worker
func NewNotificationManager() *NotificationManager {
	mgr := &NotificationManager{
		notifiers: make(map[string]Notifier),
		jobs:      make(chan notificationJob, 1024),
		logger:    NewNoOpLogger(),
		backoff:   100 * time.Millisecond,
	}
	mgr.startWorkers(1)
	return mgr
}

// SetLogger replaces the logger used to report delivery failures
func (nm *NotificationManager) SetLogger(l Logger) {
	if l == nil {
		return
	}
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.logger = l
}

func (nm *NotificationManager) log() Logger {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.logger
}

// RegisterNotifier registers a notifier with the manager
func (nm *NotificationManager) RegisterNotifier(notifier Notifier) error {
	if notifier == nil {
		return fmt.Errorf("notifier cannot be nil")
	}

	id := notifier.ID()
	if id == "" {
		return fmt.Errorf("notifier ID cannot be empty")
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()

	if _, exists := nm.notifiers[id]; exists {
		return fmt.Errorf("notifier with ID %s already exists", id)
	}

	nm.notifiers[id] = notifier
	return nil
}

// UnregisterNotifier closes and removes a notifier
func (nm *NotificationManager) UnregisterNotifier(id string) error {
	nm.mu.Lock()
	notifier, exists := nm.notifiers[id]
	if exists {
		delete(nm.notifiers, id)
	}
	nm.mu.Unlock()

	if !exists {
		return fmt.Errorf("notifier with ID %s not found", id)
	}

	if err := notifier.Close(); err != nil {
		return fmt.Errorf("error closing notifier %s: %w", id, err)
	}
	return nil
}

// GetNotifier retrieves a notifier by ID
func (nm *NotificationManager) GetNotifier(id string) (Notifier, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	notifier, exists := nm.notifiers[id]
	return notifier, exists
}

// ListNotifiers returns the registered notifier IDs, sorted
func (nm *NotificationManager) ListNotifiers() []string {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	ids := make([]string, 0, len(nm.notifiers))
	for id := range nm.notifiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Enqueue enqueues a step event to be delivered asynchronously.
// It never blocks: the event is dropped when the queue is full.
func (nm *NotificationManager) Enqueue(event StepEvent, notifierIDs []string) {
	if len(notifierIDs) == 0 {
		return
	}

	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if nm.closed {
		return
	}

	select {
	case nm.jobs <- notificationJob{Event: event, NotifierIDs: notifierIDs}:
	default:
		nm.logger.Warnf("notification queue full, dropping event: env=%s step=%d", event.EnvironmentID, event.Step)
	}
}

func (nm *NotificationManager) startWorkers(n int) {
	for range n {
		nm.wg.Add(1)
		go nm.worker()
	}
}

func (nm *NotificationManager) worker() {
	defer nm.wg.Done()
	for job := range nm.jobs {
		nm.dispatchJob(job)
	}
}

func (nm *NotificationManager) dispatchJob(job notificationJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range job.NotifierIDs {
		nm.notifyWithRetry(ctx, id, job.Event)
	}
}

// notifyWithRetry attempts delivery with exponential backoff
func (nm *NotificationManager) notifyWithRetry(ctx context.Context, notifierID string, event StepEvent) {
	notifier, ok := nm.GetNotifier(notifierID)
	logger := nm.log()
	if !ok {
		logger.Warnf("notification failed: notifier=%s error=notifier not found", notifierID)
		return
	}

	const maxRetries = 3
	backoff := nm.backoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := notifier.Notify(ctx, event)
		if err == nil {
			return
		}

		logger.Warnf("notification failed: notifier=%s attempt=%d error=%v", notifierID, attempt+1, err)

		if attempt == maxRetries {
			logger.Errorf("notification failed after %d attempts: notifier=%s", maxRetries+1, notifierID)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Notify sends a step event to the given notifiers synchronously.
func (nm *NotificationManager) Notify(ctx context.Context, event StepEvent, notifierIDs []string) error {
	if len(notifierIDs) == 0 {
		return nil
	}

	var errs []error
	for _, id := range notifierIDs {
		notifier, exists := nm.GetNotifier(id)
		if !exists {
			errs = append(errs, fmt.Errorf("notifier %s not found", id))
			continue
		}

		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notifier %s failed: %w", id, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

// Close drains the queue, stops the workers and closes every notifier
func (nm *NotificationManager) Close() error {
	nm.mu.Lock()
	if nm.closed {
		nm.mu.Unlock()
		return nil
	}
	nm.closed = true
	close(nm.jobs)
	nm.mu.Unlock()

	nm.wg.Wait()

	nm.mu.Lock()
	var errs []error
	for id, notifier := range nm.notifiers {
		if err := notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing notifier %s: %w", id, err))
		}
	}
	nm.notifiers = make(map[string]Notifier)
	nm.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("errors closing notifiers: %v", errs)
	}
	return nil
}
