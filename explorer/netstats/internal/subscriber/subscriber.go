package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gpunet/gpunet/x/compute/netstats"
)

// TxQuery selects committed transactions.
const TxQuery = "tm.event='Tx'"

// TxBatch is the event list of one committed transaction.
type TxBatch struct {
	Position netstats.Position
	Events   []abci.Event
}

// Config holds subscriber settings
type Config struct {
	WSURL          string
	BufferSize     int
	ReconnectDelay time.Duration
	MaxReconnects  int
}

// Subscriber manages the WebSocket connection to a CometBFT node
type Subscriber struct {
	cfg     Config
	mu      sync.Mutex
	conn    *websocket.Conn
	batches chan TxBatch
	ctx     context.Context
	cancel  context.CancelFunc
}

// rpcMessage is the JSON-RPC envelope of a subscription push.
type rpcMessage struct {
	Result *struct {
		Data *struct {
			Type  string `json:"type"`
			Value struct {
				TxResult *txResult `json:"TxResult"`
			} `json:"value"`
		} `json:"data"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    string `json:"data"`
	} `json:"error"`
}

type txResult struct {
	Height string `json:"height"`
	Index  uint32 `json:"index"`
	Result struct {
		Code   uint32       `json:"code"`
		Events []abci.Event `json:"events"`
	} `json:"result"`
}

// NewSubscriber creates a new chain subscriber
func NewSubscriber(cfg Config) *Subscriber {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		cfg:     cfg,
		batches: make(chan TxBatch, cfg.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start connects, subscribes and begins forwarding transactions
func (s *Subscriber) Start() error {
	if err := s.connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := s.subscribe(); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go s.listen()

	log.Info().Str("url", s.cfg.WSURL).Msg("Chain subscriber started")
	return nil
}

// connect establishes WebSocket connection to the chain node
func (s *Subscriber) connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(s.ctx, s.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *Subscriber) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// subscribe sends the subscription request for committed transactions
func (s *Subscriber) subscribe() error {
	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "subscribe",
		"id":      1,
		"params": map[string]interface{}{
			"query": TxQuery,
		},
	}

	if err := s.currentConn().WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}
	return nil
}

// listen continuously reads messages until stopped
func (s *Subscriber) listen() {
	defer close(s.batches)

	for {
		_, message, err := s.currentConn().ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				log.Info().Msg("Subscriber stopped")
				return
			}
			log.Error().Err(err).Msg("Failed to read message from websocket")
			if err := s.reconnectWithRetry(); err != nil {
				log.Error().Err(err).Msg("Failed to reconnect, stopping subscriber")
				return
			}
			continue
		}

		batch, ok, err := ParseTxMessage(message)
		if err != nil {
			log.Error().Err(err).Msg("Failed to parse message")
			continue
		}
		if !ok {
			continue
		}

		select {
		case s.batches <- batch:
		case <-s.ctx.Done():
			return
		}
	}
}

// ParseTxMessage decodes a subscription push. It reports false for
// acknowledgements and for transactions that failed, whose events were
// never committed.
func ParseTxMessage(message []byte) (TxBatch, bool, error) {
	var msg rpcMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return TxBatch{}, false, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.Error != nil {
		return TxBatch{}, false, fmt.Errorf("rpc error %d: %s %s", msg.Error.Code, msg.Error.Message, msg.Error.Data)
	}
	if msg.Result == nil || msg.Result.Data == nil || msg.Result.Data.Value.TxResult == nil {
		return TxBatch{}, false, nil
	}

	tx := msg.Result.Data.Value.TxResult
	if tx.Result.Code != 0 {
		return TxBatch{}, false, nil
	}
	height, err := strconv.ParseInt(tx.Height, 10, 64)
	if err != nil {
		return TxBatch{}, false, fmt.Errorf("invalid height %q: %w", tx.Height, err)
	}
	return TxBatch{
		Position: netstats.Position{Height: height, TxIndex: tx.Index},
		Events:   tx.Result.Events,
	}, true, nil
}

// reconnectWithRetry attempts to reconnect with exponential backoff
func (s *Subscriber) reconnectWithRetry() error {
	for i := 0; i < s.cfg.MaxReconnects; i++ {
		delay := s.cfg.ReconnectDelay * time.Duration(1<<uint(i))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		log.Info().
			Int("attempt", i+1).
			Dur("delay", delay).
			Msg("Reconnecting to chain node")

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return s.ctx.Err()
		}

		if err := s.connect(); err != nil {
			log.Error().Err(err).Msg("Reconnection failed")
			continue
		}

		if err := s.subscribe(); err != nil {
			log.Error().Err(err).Msg("Resubscription failed")
			s.currentConn().Close()
			continue
		}

		log.Info().Msg("Reconnected successfully")
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts", s.cfg.MaxReconnects)
}

// Batches returns the channel of committed transactions. It is closed when
// the subscriber stops.
func (s *Subscriber) Batches() <-chan TxBatch {
	return s.batches
}

// Stop stops the subscriber
func (s *Subscriber) Stop() {
	s.cancel()
	if conn := s.currentConn(); conn != nil {
		conn.Close()
	}
}
