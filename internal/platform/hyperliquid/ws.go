// Package hyperliquid implements the venue's real-time websocket feed.
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// MidsHandler is called with the latest mid price per asset symbol.
type MidsHandler func(mids map[string]float64, ts time.Time)

// AssetCtxHandler is called with the latest mark price and funding rate for
// one coin's perpetual.
type AssetCtxHandler func(coin string, mark, fundingRate float64, ts time.Time)

// WSClient is a websocket client for the venue's real-time data feed. It
// manages the connection lifecycle, subscriptions, and dispatches messages
// to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []wsCommand

	handlerMu   sync.RWMutex
	midsHandler []MidsHandler
	ctxHandlers []AssetCtxHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a websocket client for the given endpoint, e.g.
// "wss://api.hyperliquid.xyz/ws".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read and ping
// loops. Previously registered subscriptions are restored, which makes
// Connect safe to call from the reconnect path.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("hyperliquid/ws: %w", domain.ErrFeedClosed)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("hyperliquid/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// SubscribeAllMids subscribes to the stream of mid prices for every listed
// asset.
func (w *WSClient) SubscribeAllMids(ctx context.Context) error {
	return w.subscribe(wsCommand{
		Method:       "subscribe",
		Subscription: &subscription{Type: "allMids"},
	})
}

// SubscribeAssetCtx subscribes to the derivative context stream (mark price,
// funding rate) for each of the given coins.
func (w *WSClient) SubscribeAssetCtx(ctx context.Context, coins []string) error {
	for _, coin := range coins {
		cmd := wsCommand{
			Method:       "subscribe",
			Subscription: &subscription{Type: "activeAssetCtx", Coin: coin},
		}
		if err := w.subscribe(cmd); err != nil {
			return fmt.Errorf("hyperliquid/ws: subscribe ctx %s: %w", coin, err)
		}
	}
	return nil
}

func (w *WSClient) subscribe(cmd wsCommand) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("hyperliquid/ws: not connected")
	}
	if err := w.sendCommand(cmd); err != nil {
		return err
	}

	// Track subscription for reconnection.
	w.subscriptions = append(w.subscriptions, cmd)
	return nil
}

// OnMids registers a handler called for every allMids message.
func (w *WSClient) OnMids(handler MidsHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.midsHandler = append(w.midsHandler, handler)
}

// OnAssetCtx registers a handler called for every activeAssetCtx message.
func (w *WSClient) OnAssetCtx(handler AssetCtxHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.ctxHandlers = append(w.ctxHandlers, handler)
}

// Close shuts down the connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// sendCommand sends a JSON command to the websocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages and dispatches them to handlers.
// On disconnect, it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw message and routes it by channel.
func (w *WSClient) handleMessage(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return // Silently drop unparseable messages.
	}

	now := time.Now().UTC()

	switch env.Channel {
	case "allMids":
		var msg midsMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		mids := make(map[string]float64, len(msg.Mids))
		for coin, px := range msg.Mids {
			if v, ok := parsePx(px); ok {
				mids[coin] = v
			}
		}
		if len(mids) == 0 {
			return
		}

		w.handlerMu.RLock()
		handlers := w.midsHandler
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(mids, now)
		}

	case "activeAssetCtx":
		var msg assetCtxMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		mark, ok := parsePx(msg.Ctx.MarkPx)
		if !ok {
			return
		}
		funding, _ := parsePx(msg.Ctx.Funding)

		w.handlerMu.RLock()
		handlers := w.ctxHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(msg.Coin, mark, funding, now)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
