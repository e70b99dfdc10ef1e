package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
)

type subscriber struct {
	account uuid.UUID
	ch      chan Message
}

// Hub pushes messages to websocket subscribers of an account. A subscriber
// that cannot keep up loses messages rather than blocking the sender.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[*subscriber]struct{})}
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Send(_ context.Context, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[msg.Account] {
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

func (h *Hub) subscribe(account uuid.UUID) *subscriber {
	s := &subscriber{account: account, ch: make(chan Message, subscriberBuffer)}
	h.mu.Lock()
	if h.subs[account] == nil {
		h.subs[account] = make(map[*subscriber]struct{})
	}
	h.subs[account][s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs[s.account], s)
	if len(h.subs[s.account]) == 0 {
		delete(h.subs, s.account)
	}
	h.mu.Unlock()
}

// Subscribers is the number of open connections for account.
func (h *Hub) Subscribers(account uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[account])
}

// Serve streams the account's messages to conn as JSON text frames until the
// client goes away or ctx ends. Inbound frames are read and discarded; each
// one calls onPing so callers can treat them as heartbeats.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, account uuid.UUID, onPing func()) error {
	s := h.subscribe(account)
	defer h.unsubscribe(s)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
			if onPing != nil {
				onPing()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case msg := <-s.ch:
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancelWrite()
			if err != nil {
				return err
			}
		}
	}
}
