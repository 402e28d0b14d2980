// Package websocket streams appointment events to connected calendar
// clients. Clients subscribe to subjects such as "clinician:<id>"; the hub
// scopes every subscription to the client's tenant.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/practicehub/calendar/internal/platform/auth"
	"github.com/practicehub/calendar/internal/platform/events"
)

// ClientMessage is an inbound subscription change.
type ClientMessage struct {
	Action   string   `json:"action"`
	Subjects []string `json:"subjects"`
}

// Client is one live connection.
type Client struct {
	ID       string
	Tenant   string
	Subjects []string
	Send     chan []byte
}

// Hub tracks clients by tenant-scoped topic. It implements events.Publisher
// so it can sit next to the broker in an events.Fanout.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

func topic(tenant, subject string) string {
	return tenant + "/" + subject
}

// ValidSubject accepts "clinician:<uuid>", "client_group:<uuid>" and
// "series:<uuid>".
func ValidSubject(subject string) bool {
	kind, id, ok := strings.Cut(subject, ":")
	if !ok {
		return false
	}
	switch kind {
	case events.SubjectClinician, events.SubjectClientGroup, events.SubjectSeries:
	default:
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Register adds a client with its initial subjects.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, s := range client.Subjects {
		h.add(client, s)
	}
}

func (h *Hub) add(client *Client, subject string) {
	t := topic(client.Tenant, subject)
	if h.clients[t] == nil {
		h.clients[t] = make(map[*Client]struct{})
	}
	h.clients[t][client] = struct{}{}
}

func (h *Hub) remove(client *Client, subject string) {
	t := topic(client.Tenant, subject)
	if subscribers, ok := h.clients[t]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, t)
		}
	}
}

// Unregister drops the client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, s := range client.Subjects {
		h.remove(client, s)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds subjects to a registered client. Malformed subjects are
// returned and ignored.
func (h *Hub) Subscribe(client *Client, subjects []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var rejected []string
	for _, s := range subjects {
		if !ValidSubject(s) {
			rejected = append(rejected, s)
			continue
		}
		if containsSubject(client.Subjects, s) {
			continue
		}
		h.add(client, s)
		client.Subjects = append(client.Subjects, s)
	}
	return rejected
}

func (h *Hub) Unsubscribe(client *Client, subjects []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		drop[s] = struct{}{}
		h.remove(client, s)
	}

	remaining := make([]string, 0, len(client.Subjects))
	for _, s := range client.Subjects {
		if _, rm := drop[s]; !rm {
			remaining = append(remaining, s)
		}
	}
	client.Subjects = remaining
}

func containsSubject(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ProcessMessage dispatches a subscribe or unsubscribe request.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) []string {
	switch msg.Action {
	case "subscribe":
		return h.Subscribe(client, msg.Subjects)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Subjects)
	}
	return nil
}

// Publish sends each event once to every client subscribed to any of its
// subjects within the event's tenant. Slow clients are skipped, never waited
// on.
func (h *Hub) Publish(_ context.Context, evts ...events.Event) error {
	for _, e := range evts {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}

		h.mu.RLock()
		delivered := make(map[*Client]struct{})
		for _, s := range e.Subjects {
			for client := range h.clients[topic(e.Tenant, s)] {
				if _, done := delivered[client]; done {
					continue
				}
				delivered[client] = struct{}{}
				select {
				case client.Send <- data:
				default:
					h.logger.Warn().Str("client_id", client.ID).Str("event_type", e.Type).Msg("live feed client too slow, event dropped")
				}
			}
		}
		h.mu.RUnlock()
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.all {
		close(client.Send)
	}
	h.all = make(map[*Client]struct{})
	h.clients = make(map[string]map[*Client]struct{})
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// SubscriberCount returns the number of clients of tenant following subject.
func (h *Hub) SubscriberCount(tenant, subject string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic(tenant, subject)])
}

// Handler upgrades calendar clients to WebSocket connections.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts upgrades from the given origins; "*" allows any.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimSpace(o)] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/calendar/live", h.Connect, auth.RequireRole("admin", "clinician", "scheduler", "billing"))
}

// Connect upgrades the request. Initial subjects may be passed as a comma
// separated "subjects" query parameter.
func (h *Handler) Connect(c echo.Context) error {
	var initial []string
	if q := c.QueryParam("subjects"); q != "" {
		for _, s := range strings.Split(q, ",") {
			s = strings.TrimSpace(s)
			if !ValidSubject(s) {
				return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid subject %q", s))
			}
			initial = append(initial, s)
		}
	}

	tenant, _ := c.Get("tenant_id").(string)
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:       uuid.New().String(),
		Tenant:   tenant,
		Subjects: initial,
		Send:     make(chan []byte, 256),
	}
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if rejected := h.hub.ProcessMessage(client, msg); len(rejected) > 0 {
			h.hub.logger.Debug().Str("client_id", client.ID).Strs("subjects", rejected).Msg("rejected live feed subjects")
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
