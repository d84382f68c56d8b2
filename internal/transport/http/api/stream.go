package api

import (
	"net/http"
	"time"

	"candlefeed/internal/fanout"
	"candlefeed/internal/logger"
	"candlefeed/internal/market"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamBuffer     = 64
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamMessage is one hub batch on the wire.
type StreamMessage struct {
	Key     market.SeriesKey       `json:"key"`
	Series  string                 `json:"series"`
	Mode    fanout.Mode            `json:"mode"`
	Candles []fanout.CandlePayload `json:"candles"`
}

// handleStream upgrades to a websocket and forwards hub batches. With
// ?symbol= only that series is forwarded.
func (r *Router) handleStream(c *gin.Context) {
	var filter *market.SeriesKey
	if q := readSeriesQuery(c); q.Symbol != "" {
		key, err := q.key()
		if err != nil {
			writeError(c, err)
			return
		}
		filter = &key
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	batches, cancel := r.cfg.Hub.Subscribe(streamBuffer)
	defer cancel()

	closed := make(chan struct{})
	go readPump(conn, closed)

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			if filter != nil && b.Key != *filter {
				continue
			}
			msg := StreamMessage{Key: b.Key, Series: b.Key.String(), Mode: b.Mode, Candles: fanout.Payloads(b.Candles)}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debugf("stream write failed: %v", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
