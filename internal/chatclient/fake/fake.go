// Package fake provides an in-memory chatclient.Client test double so the
// crawl package can be exercised without a real chat network, grounded on
// the teacher's pattern of hand-rolled in-memory fakes for external
// collaborators (e.g. internal/rooms's in-memory connection registry).
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukepan/muclumbus/internal/chatclient"
)

// Client is a scriptable chatclient.Client: responses are registered ahead
// of time, and every call is recorded for assertions.
type Client struct {
	mu sync.Mutex

	DiscoInfoResponses  map[string]chatclient.DiscoInfo
	DiscoInfoErrors     map[string]error
	DiscoItemsResponses map[string]chatclient.DiscoItems
	VersionResponses    map[string]chatclient.VersionInfo
	Rooms   map[string]*Room
	Avatars map[string]Avatar

	messages chan chatclient.Message
	pubsub   *Pubsub

	Calls []string
}

// Avatar is a scripted response for Client.Avatar.
type Avatar struct {
	MimeType string
	Data     []byte
}

// New builds an empty fake ready for a test to populate.
func New() *Client {
	return &Client{
		DiscoInfoResponses:  make(map[string]chatclient.DiscoInfo),
		DiscoInfoErrors:     make(map[string]error),
		DiscoItemsResponses: make(map[string]chatclient.DiscoItems),
		VersionResponses:    make(map[string]chatclient.VersionInfo),
		Rooms:               make(map[string]*Room),
		Avatars:             make(map[string]Avatar),
		messages:            make(chan chatclient.Message, 64),
		pubsub:              newPubsub(),
	}
}

func (c *Client) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, call)
}

func (c *Client) DiscoInfo(_ context.Context, addr string, _ bool) (chatclient.DiscoInfo, error) {
	c.record("disco_info:" + addr)
	if err, ok := c.DiscoInfoErrors[addr]; ok {
		return chatclient.DiscoInfo{}, err
	}
	return c.DiscoInfoResponses[addr], nil
}

func (c *Client) DiscoItems(_ context.Context, addr string, _ *chatclient.ResultSetPaging) (chatclient.DiscoItems, error) {
	c.record("disco_items:" + addr)
	return c.DiscoItemsResponses[addr], nil
}

func (c *Client) Version(_ context.Context, addr string) (chatclient.VersionInfo, error) {
	c.record("version:" + addr)
	return c.VersionResponses[addr], nil
}

func (c *Client) MUCJoin(_ context.Context, addr, nick string, _ int) (chatclient.RoomHandle, error) {
	c.record("muc_join:" + addr)
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.Rooms[addr]
	if !ok {
		room = NewRoom(addr)
		c.Rooms[addr] = room
	}
	room.nick = nick
	return room, nil
}

func (c *Client) Pubsub() chatclient.Pubsub { return c.pubsub }

func (c *Client) Messages() <-chan chatclient.Message { return c.messages }

func (c *Client) SendMessage(_ context.Context, to, body string) error {
	c.record(fmt.Sprintf("send:%s:%s", to, body))
	return nil
}

// Deliver injects an incoming message for test code driving InteractionHandler.
func (c *Client) Deliver(msg chatclient.Message) { c.messages <- msg }

func (c *Client) Avatar(_ context.Context, addr string) (string, []byte, error) {
	c.record("avatar:" + addr)
	a, ok := c.Avatars[addr]
	if !ok {
		return "", nil, nil
	}
	return a.MimeType, a.Data, nil
}

// Room is a fake chatclient.RoomHandle a test can push events through.
type Room struct {
	addr   string
	nick   string
	events chan chatclient.RoomEvent
	left   bool
}

// NewRoom constructs a fake joined-room handle.
func NewRoom(addr string) *Room {
	return &Room{addr: addr, events: make(chan chatclient.RoomEvent, 64)}
}

func (r *Room) Address() string                         { return r.addr }
func (r *Room) Events() <-chan chatclient.RoomEvent      { return r.events }
func (r *Room) Leave(_ context.Context) error            { r.left = true; close(r.events); return nil }
func (r *Room) Emit(event chatclient.RoomEvent)          { r.events <- event }
func (r *Room) Left() bool                               { return r.left }

// Pubsub is an in-memory chatclient.Pubsub recording create/publish/retract
// calls against a per-(service,node) item set.
type Pubsub struct {
	mu    sync.Mutex
	nodes map[string]map[string]chatclient.PubsubItem
	subs  map[string]chan chatclient.PubsubEvent
}

func newPubsub() *Pubsub {
	return &Pubsub{
		nodes: make(map[string]map[string]chatclient.PubsubItem),
		subs:  make(map[string]chan chatclient.PubsubEvent),
	}
}

func key(service, node string) string { return service + "\x00" + node }

func (p *Pubsub) Create(_ context.Context, service, node string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key(service, node)
	if _, ok := p.nodes[k]; !ok {
		p.nodes[k] = make(map[string]chatclient.PubsubItem)
	}
	return nil
}

func (p *Pubsub) Configure(_ context.Context, _, _ string, _ chatclient.PubsubNodeConfig) error {
	return nil
}

func (p *Pubsub) Subscribe(_ context.Context, service, node string) (<-chan chatclient.PubsubEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan chatclient.PubsubEvent, 64)
	p.subs[key(service, node)] = ch
	return ch, nil
}

func (p *Pubsub) GetItemsByID(_ context.Context, service, node string, ids []string) ([]chatclient.PubsubItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.nodes[key(service, node)]
	result := make([]chatclient.PubsubItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := items[id]; ok {
			result = append(result, item)
		}
	}
	return result, nil
}

func (p *Pubsub) ListItemIDs(_ context.Context, service, node string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.nodes[key(service, node)]
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Pubsub) Publish(_ context.Context, service, node string, item chatclient.PubsubItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key(service, node)
	if p.nodes[k] == nil {
		p.nodes[k] = make(map[string]chatclient.PubsubItem)
	}
	p.nodes[k][item.ID] = item
	if sub, ok := p.subs[k]; ok {
		sub <- chatclient.PubsubEvent{Item: item}
	}
	return nil
}

func (p *Pubsub) Retract(_ context.Context, service, node, itemID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key(service, node)
	delete(p.nodes[k], itemID)
	if sub, ok := p.subs[k]; ok {
		sub <- chatclient.PubsubEvent{Retracted: true, Item: chatclient.PubsubItem{ID: itemID}}
	}
	return nil
}
