package event

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/huykn/distributed-map/cache"
)

// ErrPublishFailure wraps every failure to hand an event to listeners or to
// WAN replication. It is reported through OnError and never aborts a mutation.
var ErrPublishFailure = errors.New("publish failure")

// ErrServiceClosed is returned when publishing to a closed service.
var ErrServiceClosed = errors.New("event service is closed")

// ErrQueueFull is returned when a listener stripe cannot accept more events.
var ErrQueueFull = errors.New("event queue is full")

// AllMaps registers a listener for every map.
const AllMaps = ""

// EntryListener receives entry events.
type EntryListener func(event *EntryEventData)

// MapListener receives map-wide events.
type MapListener func(event *MapEventData)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Stripes is the number of dispatch goroutines. Events for the same key
	// always use the same stripe, so they are delivered in publish order.
	Stripes int

	// QueueSize is the buffer size of each stripe.
	QueueSize int

	// Logger is used to report listener panics.
	Logger cache.Logger
}

// DefaultServiceOptions returns default event service options.
func DefaultServiceOptions() ServiceOptions {
	return ServiceOptions{
		Stripes:   4,
		QueueSize: 1024,
	}
}

// Service keeps listener registrations and dispatches events to them
// asynchronously.
type Service struct {
	mu             sync.RWMutex
	entryListeners map[string]map[string]EntryListener
	mapListeners   map[string]map[string]MapListener
	stripes        []chan func()
	closed         bool
	wg             sync.WaitGroup
	logger         cache.Logger
}

// NewService creates a service and starts its dispatch goroutines.
func NewService(opts ServiceOptions) *Service {
	if opts.Stripes <= 0 {
		opts.Stripes = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}

	s := &Service{
		entryListeners: make(map[string]map[string]EntryListener),
		mapListeners:   make(map[string]map[string]MapListener),
		stripes:        make([]chan func(), opts.Stripes),
		logger:         opts.Logger,
	}
	for i := range s.stripes {
		ch := make(chan func(), opts.QueueSize)
		s.stripes[i] = ch
		s.wg.Add(1)
		go s.dispatch(ch)
	}
	return s
}

// AddEntryListener registers l for mapName and returns its registration id.
func (s *Service) AddEntryListener(mapName string, l EntryListener) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if s.entryListeners[mapName] == nil {
		s.entryListeners[mapName] = make(map[string]EntryListener)
	}
	s.entryListeners[mapName][id] = l
	return id
}

// AddMapListener registers l for mapName and returns its registration id.
func (s *Service) AddMapListener(mapName string, l MapListener) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if s.mapListeners[mapName] == nil {
		s.mapListeners[mapName] = make(map[string]MapListener)
	}
	s.mapListeners[mapName][id] = l
	return id
}

// RemoveListener removes a registration. It reports whether one was found.
func (s *Service) RemoveListener(mapName, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entryListeners[mapName][id]; ok {
		delete(s.entryListeners[mapName], id)
		return true
	}
	if _, ok := s.mapListeners[mapName][id]; ok {
		delete(s.mapListeners[mapName], id)
		return true
	}
	return false
}

// HasListeners reports whether any listener would receive events of mapName.
func (s *Service) HasListeners(mapName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entryListeners[mapName])+len(s.entryListeners[AllMaps])+
		len(s.mapListeners[mapName])+len(s.mapListeners[AllMaps]) > 0
}

// PublishEntryEvent queues ev for every entry listener of its map.
func (s *Service) PublishEntryEvent(ev *EntryEventData) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrServiceClosed
	}
	listeners := collect(s.entryListeners, ev.MapName)
	if len(listeners) == 0 {
		return nil
	}
	stripe := s.stripes[ev.Key.Hash()%uint64(len(s.stripes))]
	return s.enqueue(stripe, func() {
		for _, l := range listeners {
			s.safeCall(ev.MapName, func() { l(ev) })
		}
	})
}

// PublishMapEvent queues ev for every map listener of its map.
func (s *Service) PublishMapEvent(ev *MapEventData) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrServiceClosed
	}
	listeners := collect(s.mapListeners, ev.MapName)
	if len(listeners) == 0 {
		return nil
	}
	stripe := s.stripes[0]
	return s.enqueue(stripe, func() {
		for _, l := range listeners {
			s.safeCall(ev.MapName, func() { l(ev) })
		}
	})
}

// Close stops accepting events and waits for queued ones to be delivered.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, ch := range s.stripes {
		close(ch)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) enqueue(stripe chan func(), task func()) error {
	select {
	case stripe <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) dispatch(ch chan func()) {
	defer s.wg.Done()
	for task := range ch {
		task()
	}
}

func (s *Service) safeCall(mapName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Event: listener panicked", "map", mapName, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func collect[L any](registry map[string]map[string]L, mapName string) []L {
	listeners := make([]L, 0, len(registry[mapName])+len(registry[AllMaps]))
	for _, l := range registry[mapName] {
		listeners = append(listeners, l)
	}
	if mapName != AllMaps {
		for _, l := range registry[AllMaps] {
			listeners = append(listeners, l)
		}
	}
	return listeners
}
