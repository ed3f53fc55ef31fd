// Package sse implements the Server-Sent Events broker that tells clients
// about indexed and removed documents.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/docintake/internal/storage"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	// Bucket limits delivery to clients following that bucket. Empty means
	// every client.
	Bucket string `json:"-"`
}

// Event types sent to clients.
const (
	TypeDocumentIndexed = "document.indexed"
	TypeDocumentRemoved = "document.removed"
	TypeUploadSigned    = "upload.signed"
	TypeFacetsUpdated   = "facets.updated"
)

// DefaultHeartbeat is the idle interval after which ServeHTTP writes a
// comment line so proxies keep the stream open.
const DefaultHeartbeat = 25 * time.Second

// DocumentData is the payload of document events.
type DocumentData struct {
	Path   string `json:"path"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type documentEventReq struct {
	kind string
	path string
}

// subscription is one client. A nil buckets set follows every bucket.
type subscription struct {
	ch      chan []byte
	buckets map[string]bool
}

func (s subscription) wants(bucket string) bool {
	return bucket == "" || s.buckets == nil || s.buckets[bucket]
}

// Broker manages SSE client connections and broadcasts events.
//
// A single internal event loop owns the client set, the event sequence and
// the facet throttle timestamp. Public methods talk to the loop through
// channels.
type Broker struct {
	facetsMin time.Duration
	heartbeat time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	docEventCh    chan documentEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. facets.updated is sent at most once
// per facetsThrottle.
func NewBroker(facetsThrottle time.Duration) *Broker {
	if facetsThrottle <= 0 {
		facetsThrottle = 2 * time.Second
	}

	b := &Broker{
		facetsMin:     facetsThrottle,
		heartbeat:     DefaultHeartbeat,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		docEventCh:    make(chan documentEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// SetHeartbeat changes the idle heartbeat interval. Call it before serving.
func (b *Broker) SetHeartbeat(d time.Duration) {
	if d > 0 {
		b.heartbeat = d
	}
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]subscription)
	var lastFacets time.Time
	var seq uint64

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload))

		for ch, sub := range clients {
			if !sub.wants(event.Bucket) {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.docEventCh:
			if req.kind != TypeDocumentIndexed && req.kind != TypeDocumentRemoved {
				continue
			}
			bucket, key, err := storage.SplitPath(req.path)
			if err != nil {
				continue
			}
			broadcast(Event{
				Type:   req.kind,
				Data:   DocumentData{Path: req.path, Bucket: bucket, Key: key},
				Bucket: bucket,
			})

			// Every change can alter the type, asset and tenant option lists.
			now := time.Now()
			if now.Sub(lastFacets) >= b.facetsMin {
				lastFacets = now
				broadcast(Event{Type: TypeFacetsUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. With no buckets the
// client receives every event; otherwise bucket-scoped events of other
// buckets are skipped.
func (b *Broker) Subscribe(buckets ...string) chan []byte {
	sub := subscription{ch: make(chan []byte, 64)}
	for _, bk := range buckets {
		if bk = strings.TrimSpace(bk); bk != "" {
			if sub.buckets == nil {
				sub.buckets = make(map[string]bool)
			}
			sub.buckets[bk] = true
		}
	}
	if b.closed.Load() {
		close(sub.ch)
		return sub.ch
	}

	select {
	case b.subscribeCh <- sub:
	case <-b.stopped:
		close(sub.ch)
	}

	return sub.ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to the connected clients that follow its bucket.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishDocumentEvent publishes an indexer change and a throttled
// facets.updated event. kind is TypeDocumentIndexed or TypeDocumentRemoved;
// path is "bucket/key". It matches index.EventCallback.
func (b *Broker) PublishDocumentEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.docEventCh <- documentEventReq{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). Repeated
// ?bucket= parameters restrict document events to those buckets.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query()["bucket"]...)
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
			ticker.Reset(b.heartbeat)
		}
	}
}
