package sse

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const historySize = 32

type Client struct {
	id     string
	groups map[string]bool
	ch     chan string
	done   chan struct{}
}

type message struct {
	id    uint64
	group string // 空表示广播
	frame string
}

// Hub fans server-sent events out to connected clients. It keeps a short
// history so a reconnecting client can resume from Last-Event-ID, and the
// latest message per event name so a new client starts from current state.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	groups   map[string]map[string]bool // group -> clientID set
	interval time.Duration
	retryMs  int

	seq     uint64
	history []message
	latest  map[string]message // event -> last broadcast
	log     *logrus.Entry
}

func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{
		clients:  make(map[string]*Client),
		groups:   make(map[string]map[string]bool),
		interval: interval,
		retryMs:  5000,
		latest:   make(map[string]message),
		log:      logrus.WithField("component", "sse"),
	}
}

func (h *Hub) AddClient(id string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[id]; ok {
		h.removeLocked(old)
	}
	c := &Client{id: id, groups: make(map[string]bool), ch: make(chan string, 64), done: make(chan struct{})}
	h.clients[id] = c
	return c
}

func (h *Hub) RemoveClient(id string) {
	h.mu.Lock()
	if c, ok := h.clients[id]; ok {
		h.removeLocked(c)
	}
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *Client) {
	close(c.done)
	for g := range c.groups {
		delete(h.groups[g], c.id)
	}
	delete(h.clients, c.id)
}

func (h *Hub) Join(id, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.groups[group] = true
	if h.groups[group] == nil {
		h.groups[group] = make(map[string]bool)
	}
	h.groups[group][id] = true
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishJSON broadcasts v as a named event.
func (h *Hub) PublishJSON(event string, v any) {
	h.publish(event, "", v)
}

// PublishGroupJSON sends v to the members of group only.
func (h *Hub) PublishGroupJSON(group, event string, v any) {
	h.publish(event, group, v)
}

func (h *Hub) publish(event, group string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Warn("drop unencodable event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	msg := message{id: h.seq, group: group, frame: formatEvent(h.seq, event, string(b))}
	h.history = append(h.history, msg)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	if group == "" {
		h.latest[event] = msg
		for _, c := range h.clients {
			h.offer(c, msg.frame)
		}
		return
	}
	for id := range h.groups[group] {
		if c := h.clients[id]; c != nil {
			h.offer(c, msg.frame)
		}
	}
}

func (h *Hub) offer(c *Client, frame string) {
	select {
	case c.ch <- frame:
	default:
		h.log.WithField("client", c.id).Warn("sse client buffer full, event dropped")
	}
}

// backlog returns what a new client should see first: history after lastID when
// it is still retained, otherwise the latest broadcast of every event.
func (h *Hub) backlog(lastID string, groups map[string]bool) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n, err := strconv.ParseUint(lastID, 10, 64); err == nil && len(h.history) > 0 && h.history[0].id <= n+1 {
		var out []string
		for _, m := range h.history {
			if m.id > n && (m.group == "" || groups[m.group]) {
				out = append(out, m.frame)
			}
		}
		return out
	}
	latest := make([]message, 0, len(h.latest))
	for _, m := range h.latest {
		latest = append(latest, m)
	}
	slices.SortFunc(latest, func(a, b message) int { return cmp.Compare(a.id, b.id) })
	out := make([]string, len(latest))
	for i, m := range latest {
		out[i] = m.frame
	}
	return out
}

func formatEvent(id uint64, event, data string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "id: %d\n", id)
	if event != "" {
		fmt.Fprintf(&sb, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&sb, "data: %s\n", line)
	}
	sb.WriteString("\n")
	return sb.String()
}

func (h *Hub) Serve(c *gin.Context, clientID string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)

	client := h.AddClient(clientID)
	defer h.RemoveClient(clientID)
	groups := map[string]bool{}
	if gid := c.Query("group"); gid != "" {
		h.Join(clientID, gid)
		groups[gid] = true
	}
	h.log.WithField("client", clientID).Debug("sse client connected")

	for _, frame := range h.backlog(c.GetHeader("Last-Event-ID"), groups) {
		c.Writer.WriteString(frame)
	}
	flusher.Flush()

	ping := time.NewTicker(h.interval)
	defer ping.Stop()
	for {
		select {
		case <-client.done:
			return
		case <-c.Request.Context().Done():
			h.log.WithField("client", clientID).Debug("sse client gone")
			return
		case <-ping.C:
			fmt.Fprintf(c.Writer, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case msg := <-client.ch:
			c.Writer.WriteString(msg)
			flusher.Flush()
		}
	}
}
