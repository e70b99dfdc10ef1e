package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ChannelChat      = "chat"
	ChannelActionBar = "actionbar"
)

// Message is one rendered notification for one account and channel.
type Message struct {
	Account uuid.UUID `json:"account"`
	Channel string    `json:"channel"`
	Text    string    `json:"text"`
	Earned  string    `json:"earned"`
	Rate    string    `json:"rate"`
	At      time.Time `json:"at"`

	Vars map[string]string `json:"-"`
}

type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Template is a channel's on/off switch and message text.
type Template struct {
	Enabled bool
	Text    string
}

type Templates struct {
	Chat      Template
	ActionBar Template
}

const (
	queueSize   = 256
	sendTimeout = 10 * time.Second
)

// Dispatcher renders interest notifications and queues them for a single
// delivery goroutine that hands each one to every transport. Notify never
// blocks: when the queue is full the message is dropped and counted.
// Delivery failures are logged and otherwise ignored.
type Dispatcher struct {
	log         *slog.Logger
	transports  []Transport
	templates   atomic.Pointer[Templates]
	now         func() time.Time
	sendTimeout time.Duration

	queue     chan Message
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewDispatcher(templates Templates, logger *slog.Logger, transports ...Transport) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		log:         logger.With("component", "notify"),
		transports:  transports,
		now:         time.Now,
		sendTimeout: sendTimeout,
		queue:       make(chan Message, queueSize),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	d.SetTemplates(templates)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case msg := <-d.queue:
			d.deliver(msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.queue:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	for _, tr := range d.transports {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := tr.Send(ctx, msg)
		cancel()
		if err != nil {
			d.log.Warn("notification delivery failed", "transport", tr.Name(), "account", msg.Account, "err", err)
		}
	}
}

// Dropped counts messages discarded because the queue was full or closed.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting messages and waits for the queue to drain or ctx to
// end, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.done) })
	select {
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) SetTemplates(t Templates) {
	d.templates.Store(&t)
}

func Placeholders(account uuid.UUID, earned, ratePercent decimal.Decimal) map[string]string {
	return map[string]string{
		"account":      account.String(),
		"amount":       earned.Truncate(2).String(),
		"amount_short": FormatShort(earned),
		"amount_full":  FormatFull(earned),
		"rate":         plain(ratePercent.Truncate(4)),
	}
}

func (d *Dispatcher) Notify(_ context.Context, account uuid.UUID, earned, ratePercent decimal.Decimal) {
	t := d.templates.Load()
	vars := Placeholders(account, earned, ratePercent)
	at := d.now()

	for _, ch := range []struct {
		name string
		tpl  Template
	}{
		{ChannelChat, t.Chat},
		{ChannelActionBar, t.ActionBar},
	} {
		if !ch.tpl.Enabled || ch.tpl.Text == "" {
			continue
		}
		d.enqueue(Message{
			Account: account,
			Channel: ch.name,
			Text:    Render(ch.tpl.Text, vars),
			Earned:  vars["amount"],
			Rate:    vars["rate"],
			At:      at,
			Vars:    vars,
		})
	}
}

func (d *Dispatcher) enqueue(msg Message) {
	select {
	case <-d.done:
		d.dropped.Add(1)
		return
	default:
	}
	select {
	case d.queue <- msg:
	default:
		d.dropped.Add(1)
		d.log.Warn("notification queue full, dropping message", "account", msg.Account, "channel", msg.Channel)
	}
}

// LogTransport writes every message to the structured log.
type LogTransport struct {
	log *slog.Logger
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{log: logger}
}

func (l *LogTransport) Name() string { return "log" }

func (l *LogTransport) Send(ctx context.Context, msg Message) error {
	l.log.InfoContext(ctx, "interest notification", "account", msg.Account, "channel", msg.Channel, "text", msg.Text)
	return nil
}
