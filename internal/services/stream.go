package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"marketdash/backend-go/internal/config"
)

type SubscriptionState int32

const (
	StatePending SubscriptionState = iota
	StateOpen
	StateClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Subscription is one live streaming quote for a single instrument.
type Subscription interface {
	Symbol() string
	State() SubscriptionState
	Snapshot() map[string]any
	Close() error
	// Done is closed once the underlying connection has ended.
	Done() <-chan struct{}
}

// Streamer opens subscriptions. Subscribe must not block: the connection is
// established in the background and the subscription starts Pending.
type Streamer interface {
	Subscribe(symbol string, fields []string) Subscription
}

type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type EndpointResolver interface {
	StreamEndpoint(ctx context.Context) (string, error)
}

const (
	loginStreamID = 1
	itemStreamID  = 2
	readIdle      = 90 * time.Second
)

type PricingStreamer struct {
	url      string
	tokens   TokenProvider
	resolver EndpointResolver
	dialer   *websocket.Dialer
	timeout  time.Duration
	log      *slog.Logger
}

func NewPricingStreamer(cfg config.Config, tokens TokenProvider, resolver EndpointResolver, log *slog.Logger) *PricingStreamer {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &PricingStreamer{
		url:      cfg.RDPStreamURL,
		tokens:   tokens,
		resolver: resolver,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
			Subprotocols:     []string{"tr_json2"},
		},
		timeout: timeout,
		log:     log,
	}
}

func (s *PricingStreamer) Subscribe(symbol string, fields []string) Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	ps := &PriceStream{
		symbol: symbol,
		fields: append([]string(nil), fields...),
		values: make(map[string]any),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, ps)
	return ps
}

func (s *PricingStreamer) endpoint(ctx context.Context) (string, error) {
	if s.url != "" {
		return s.url, nil
	}
	if s.resolver == nil {
		return "", errors.New("no streaming endpoint configured")
	}
	return s.resolver.StreamEndpoint(ctx)
}

func (s *PricingStreamer) run(ctx context.Context, ps *PriceStream) {
	defer close(ps.done)
	defer ps.cancel()
	log := s.log.With("symbol", ps.symbol)

	setupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	url, err := s.endpoint(setupCtx)
	if err != nil {
		ps.fail(err)
		log.Warn("stream endpoint unavailable", "error", err)
		return
	}
	token, err := s.tokens.Token(setupCtx)
	if err != nil {
		ps.fail(err)
		log.Warn("stream login token unavailable", "error", err)
		return
	}
	conn, _, err := s.dialer.DialContext(setupCtx, url, nil)
	if err != nil {
		ps.fail(err)
		log.Warn("stream dial failed", "url", url, "error", err)
		return
	}
	if !ps.attach(conn) {
		_ = conn.Close()
		return
	}
	go func() {
		<-ctx.Done()
		ps.shutdown()
	}()

	if err := ps.write(loginRequest(token)); err != nil {
		ps.fail(err)
		return
	}
	log.Debug("stream connected", "url", url)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdle))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				ps.fail(err)
				log.Warn("stream read failed", "error", err)
			}
			return
		}
		msgs, err := decodeMessages(data)
		if err != nil {
			log.Debug("stream message ignored", "error", err)
			continue
		}
		for _, m := range msgs {
			if !ps.handle(m) {
				log.Info("stream closed by server", "text", m.stateText())
				return
			}
		}
	}
}

// PriceStream is the tr_json2 subscription for one instrument.
type PriceStream struct {
	symbol string
	fields []string
	state  atomic.Int32

	mu     sync.RWMutex
	values map[string]any
	err    error

	wmu       sync.Mutex
	conn      *websocket.Conn
	closed    bool
	closeOnce sync.Once

	cancel context.CancelFunc
	done   chan struct{}
}

func (p *PriceStream) Symbol() string { return p.symbol }

func (p *PriceStream) State() SubscriptionState {
	return SubscriptionState(p.state.Load())
}

func (p *PriceStream) Snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

func (p *PriceStream) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Done is closed once the background connection has ended.
func (p *PriceStream) Done() <-chan struct{} { return p.done }

// Close ends the subscription. It returns immediately; the close request is
// sent to the server in the background.
func (p *PriceStream) Close() error {
	p.state.Store(int32(StateClosed))
	p.cancel()
	return nil
}

func (p *PriceStream) attach(conn *websocket.Conn) bool {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.closed || p.State() == StateClosed {
		return false
	}
	p.conn = conn
	return true
}

func (p *PriceStream) write(v any) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.conn == nil || p.closed {
		return errors.New("stream not connected")
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteJSON(v)
}

func (p *PriceStream) shutdown() {
	p.closeOnce.Do(func() {
		p.state.Store(int32(StateClosed))
		p.wmu.Lock()
		defer p.wmu.Unlock()
		p.closed = true
		if p.conn == nil {
			return
		}
		_ = p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = p.conn.WriteJSON(wireClose{ID: itemStreamID, Type: "Close"})
		_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = p.conn.Close()
	})
}

func (p *PriceStream) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.state.Store(int32(StateClosed))
}

// handle applies one server message and reports whether the stream is still
// alive.
func (p *PriceStream) handle(m wireMessage) bool {
	switch m.Type {
	case "Ping":
		_ = p.write(map[string]string{"Type": "Pong"})
	case "Refresh":
		if m.Domain == "Login" || m.ID == loginStreamID {
			if err := p.write(itemRequest(p.symbol, p.fields)); err != nil {
				p.fail(err)
				return false
			}
			return true
		}
		p.merge(m.Fields)
		p.state.CompareAndSwap(int32(StatePending), int32(StateOpen))
	case "Update":
		p.merge(m.Fields)
	case "Status":
		if m.State != nil && strings.EqualFold(m.State.Stream, "Closed") {
			p.fail(errors.New("stream closed: " + m.State.Text))
			return false
		}
	}
	return true
}

func (p *PriceStream) merge(fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range fields {
		p.values[k] = v
	}
}

type wireMessage struct {
	ID     int            `json:"ID"`
	Type   string         `json:"Type"`
	Domain string         `json:"Domain,omitempty"`
	Fields map[string]any `json:"Fields,omitempty"`
	State  *wireState     `json:"State,omitempty"`
}

func (m wireMessage) stateText() string {
	if m.State == nil {
		return ""
	}
	return m.State.Text
}

type wireState struct {
	Stream string `json:"Stream"`
	Data   string `json:"Data"`
	Text   string `json:"Text"`
}

type wireClose struct {
	ID   int    `json:"ID"`
	Type string `json:"Type"`
}

type wireKey struct {
	Name     string        `json:"Name,omitempty"`
	NameType string        `json:"NameType,omitempty"`
	Elements *loginElement `json:"Elements,omitempty"`
}

type loginElement struct {
	ApplicationID       string `json:"ApplicationId"`
	Position            string `json:"Position"`
	AuthenticationToken string `json:"AuthenticationToken"`
}

type wireRequest struct {
	ID     int      `json:"ID"`
	Domain string   `json:"Domain,omitempty"`
	Key    wireKey  `json:"Key"`
	View   []string `json:"View,omitempty"`
}

func loginRequest(token string) wireRequest {
	return wireRequest{
		ID:     loginStreamID,
		Domain: "Login",
		Key: wireKey{
			NameType: "AuthnToken",
			Elements: &loginElement{
				ApplicationID:       "256",
				Position:            "127.0.0.1/net",
				AuthenticationToken: token,
			},
		},
	}
}

func itemRequest(symbol string, fields []string) wireRequest {
	return wireRequest{ID: itemStreamID, Key: wireKey{Name: symbol}, View: fields}
}

// decodeMessages accepts both the batched array form and a single object.
func decodeMessages(data []byte) ([]wireMessage, error) {
	var msgs []wireMessage
	if err := json.Unmarshal(data, &msgs); err == nil {
		return msgs, nil
	}
	var one wireMessage
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []wireMessage{one}, nil
}
