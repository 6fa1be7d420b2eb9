package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gaia-mud/gaia/pkg/events"
)

// WSMessage is one frame on the WebSocket transport: the client sends
// {"input": "..."} lines, the server sends typed output frames.
type WSMessage struct {
	Type  string `json:"type,omitempty"`
	Text  string `json:"text,omitempty"`
	Input string `json:"input,omitempty"`
}

// WebServer provides the HTTP/WebSocket transport alongside telnet. One
// inbound frame is one input line; the session runs the same pipeline as
// a telnet connection.
type WebServer struct {
	game     *Game
	httpSrv  *http.Server
	mux      *http.ServeMux
	auth     *AuthService
	upgrader websocket.Upgrader
}

// NewWebServer creates a web server bound to the game.
func NewWebServer(g *Game) *WebServer {
	ws := &WebServer{
		game: g,
		mux:  http.NewServeMux(),
		auth: NewAuthService(g, g.Conf.JWTSecret, g.Conf.JWTExpiry),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	ws.registerRoutes()
	return ws
}

func (ws *WebServer) registerRoutes() {
	ws.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", ws.game.Conf.WebPort),
		Handler: ws.mux,
	}

	ws.mux.HandleFunc("GET /ws", ws.handleWebSocket)
	ws.mux.HandleFunc("POST /api/v1/auth/login", ws.handleAuthLogin)
	ws.mux.HandleFunc("POST /api/v1/auth/refresh", ws.handleAuthRefresh)
	ws.mux.HandleFunc("GET /health", ws.handleHealth)
	if ws.game.Conf.Metrics && ws.game.Metrics != nil {
		ws.mux.Handle("GET /metrics", ws.game.Metrics.Handler())
	}
}

// Start serves HTTP until Stop. A port that cannot bind returns ErrBind.
func (ws *WebServer) Start() error {
	ln, err := net.Listen("tcp", ws.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("%w: web port %d: %v", ErrBind, ws.game.Conf.WebPort, err)
	}
	log.Printf("server: listening (web) on port %d", ws.game.Conf.WebPort)
	if err := ws.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: web: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down, waiting briefly for open sessions.
func (ws *WebServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws.httpSrv.Shutdown(ctx)
}

// wsConn serializes frame writes; gorilla connections allow one
// concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (wc *wsConn) sendJSON(msg WSMessage) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return wc.conn.WriteMessage(websocket.TextMessage, data)
}

// handleWebSocket upgrades the connection and runs the session. A valid
// ?token= query parameter skips the password exchange.
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade: %v", err)
		return
	}

	g := ws.game
	wc := &wsConn{conn: conn}
	id := g.Conns.NextID()
	d := NewDescriptor(id, TransportWebSocket, r.RemoteAddr, g.Conf.OutboundQueue,
		func(ev events.Event) error {
			return wc.sendJSON(WSMessage{Type: ev.Type.String(), Text: renderEvent(ev)})
		})
	d.OnClose(func() { conn.Close() })
	g.Conns.Add(d)
	if g.Metrics != nil {
		g.Metrics.ConnectionOpened("websocket")
	}
	go d.Run()

	log.Printf("server: [%d] websocket connection from %s", d.ID, d.Addr)
	defer func() {
		g.disconnect(d)
		d.Close()
		if g.Metrics != nil {
			g.Metrics.ConnectionClosed("websocket")
		}
		log.Printf("server: [%d] websocket closed from %s", d.ID, d.Addr)
	}()

	if token := r.URL.Query().Get("token"); token != "" {
		if claims, err := ws.auth.ValidateToken(token); err == nil {
			if acct, rev, ferr := g.Accounts.FetchAccount(claims.AccountID); ferr == nil {
				g.bindAccount(d, acct, rev)
			}
		} else {
			d.Send("Token rejected; log in with: connect <user> <password>")
		}
	}
	if d.State() == ConnLogin {
		if txt := g.Texts.GetConnect(); txt != "" {
			d.Send(txt)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("server: [%d] websocket read: %v", d.ID, err)
			}
			return
		}
		line := string(data)
		var msg WSMessage
		if json.Unmarshal(data, &msg) == nil && msg.Input != "" {
			line = msg.Input
		}
		g.ProcessLine(d, line)
		if d.Closed() {
			return
		}
	}
}

func (ws *WebServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	token, err := ws.auth.Login(req.Login, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (ws *WebServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	token, err := ws.auth.RefreshToken(req.Token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"uptime":      ws.game.Uptime().String(),
		"connections": ws.game.Conns.Count(),
		"objects":     ws.game.Cache.Len(),
	})
}
