package estimator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 5 * time.Second
	wsSendBuffer = 8
)

// webServer serves the latest estimate as JSON and streams estimates to
// WebSocket clients.
type webServer struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	latest  batterymodel.State
	have    bool
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan batterymodel.State
}

func newWebServer() *webServer {
	return &webServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: map[*wsClient]struct{}{},
	}
}

func (w *webServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/estimate", w.handleEstimate)
	mux.HandleFunc("/ws", w.handleWS)
	return mux
}

// serve runs the web server until the context is cancelled.
func (w *webServer) serve(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: w.handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	log.Printf("Web server listening on %s", addr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (w *webServer) publish(s batterymodel.State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest = s
	w.have = true
	for c := range w.clients {
		select {
		case c.send <- s:
		default:
			log.Debug("WebSocket client is behind, dropping estimate")
		}
	}
	return nil
}

func (w *webServer) handleEstimate(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.mu.Lock()
	latest, have := w.latest, w.have
	w.mu.Unlock()

	if !have {
		http.Error(rw, "no data yet", http.StatusServiceUnavailable)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(latest); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func (w *webServer) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan batterymodel.State, wsSendBuffer)}

	w.mu.Lock()
	w.clients[c] = struct{}{}
	if w.have {
		c.send <- w.latest
	}
	w.mu.Unlock()

	go c.writeLoop()

	// Clients only listen, reading is just to notice them leaving.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			break
		}
	}

	w.mu.Lock()
	delete(w.clients, c)
	close(c.send)
	w.mu.Unlock()
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for s := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteJSON(s); err != nil {
			log.Debugf("websocket write error: %v", err)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
}
