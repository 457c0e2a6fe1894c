package server

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
)

const (
	RealtimeEventRecordChanged = "record-change"
	realtimeEventHeartbeat     = "heartbeat"
	realtimeSourceBackend      = "ipvault-api"
	realtimeHeartbeatInterval  = 25 * time.Second
)

// RealtimeMessage announces a write so the user's other clients know to refresh.
type RealtimeMessage struct {
	UserID    string
	EventType string
	Entity    ipdata.EntityRef
	Action    string
	Timestamp time.Time
}

// RealtimeDispatcher fans change announcements out to the streams of one user. Slow streams
// drop messages instead of blocking writers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
	once   sync.Once
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[message.UserID] {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriber.id)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
	subscriber.once.Do(func() {
		close(subscriber.stream)
	})
}

type realtimeEventPayload struct {
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Action     string    `json:"action,omitempty"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// handleEventStream streams the caller's change announcements as server-sent events.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	user, ok := h.session(c).Current()
	if !ok {
		h.writeError(c, "events.stream", errUnauthenticatedStream)
		return
	}

	ctx := c.Request.Context()
	messages, cleanup := h.realtime.Subscribe(ctx, user.ID)
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-messages:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				EntityType: message.Entity.Type,
				EntityID:   message.Entity.ID,
				Action:     message.Action,
				Source:     realtimeSourceBackend,
				Timestamp:  message.Timestamp,
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{
				Source:    realtimeSourceBackend,
				Timestamp: tick.UTC(),
			})
			return true
		}
	})
}
