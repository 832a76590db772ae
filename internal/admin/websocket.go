package admin

import (
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one discovery/administrative change pushed to connected
// dashboards over /admin/events.
type Event struct {
	Kind    string `json:"kind"` // room_changed, room_deleted, domain_changed, domain_deleted
	Address string `json:"address"`
}

// EventsHandler streams spec.md §4.1's post-commit Store signals to
// connected operator dashboards, adapted from the teacher's
// WebSocketHandler: JWT carried via query token exactly like the teacher,
// but fanning out store.Signals instead of gating on room membership —
// this is an operational feed, not the end-user real-time push spec.md's
// Non-goals exclude.
func (r *Router) EventsHandler(w http.ResponseWriter, req *http.Request) {
	ctx, span := otel.Tracer("admin-events").Start(req.Context(), "AdminEventsConnection")
	defer span.End()

	token := req.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		span.SetStatus(codes.Error, "missing token")
		return
	}

	claims, err := r.jwtMgr.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		span.SetStatus(codes.Error, fmt.Sprintf("invalid token: %v", err))
		return
	}
	span.SetAttributes(attribute.String("admin.username", claims.Username))

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		span.SetStatus(codes.Error, fmt.Sprintf("failed to upgrade websocket connection: %v", err))
		return
	}
	defer conn.Close()
	span.SetStatus(codes.Ok, "admin events connection established")

	var writeMu sync.Mutex
	send := func(ev Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(ev)
	}

	tokens := r.subscribeEvents(send)
	defer r.unsubscribeEvents(tokens)

	// The client never sends anything meaningful on this feed; block on
	// reads purely to notice disconnects and unblock the handler.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type eventTokens struct {
	roomChanged, roomDeleted, domainChanged, domainDeleted int
}

func (r *Router) subscribeEvents(send func(Event)) eventTokens {
	return eventTokens{
		roomChanged:   r.events.OnRoomChanged.Subscribe(func(addr string) { send(Event{Kind: "room_changed", Address: addr}) }),
		roomDeleted:   r.events.OnRoomDeleted.Subscribe(func(addr string) { send(Event{Kind: "room_deleted", Address: addr}) }),
		domainChanged: r.events.OnDomainChanged.Subscribe(func(addr string) { send(Event{Kind: "domain_changed", Address: addr}) }),
		domainDeleted: r.events.OnDomainDeleted.Subscribe(func(addr string) { send(Event{Kind: "domain_deleted", Address: addr}) }),
	}
}

func (r *Router) unsubscribeEvents(t eventTokens) {
	r.events.OnRoomChanged.Unsubscribe(t.roomChanged)
	r.events.OnRoomDeleted.Unsubscribe(t.roomDeleted)
	r.events.OnDomainChanged.Unsubscribe(t.domainChanged)
	r.events.OnDomainDeleted.Unsubscribe(t.domainDeleted)
}
