package server

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/gaia-mud/gaia/pkg/events"
)

// ErrBind marks a listener that could not bind its port; the process
// maps it to its own exit code.
var ErrBind = errors.New("server: bind failed")

// Server owns the telnet listeners and the accept loops. The web
// transport lives in WebServer and shares the same Game.
type Server struct {
	Game        *Game
	listener    net.Listener
	tlsListener net.Listener
	web         *WebServer
}

// NewServer wraps a prepared game in the network front end.
func NewServer(g *Game) *Server {
	return &Server{Game: g}
}

// Start brings up the telnet (and optionally TLS and web) listeners and
// blocks until all of them stop. A port that cannot bind returns ErrBind.
func (s *Server) Start() error {
	cfg := s.Game.Conf

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.TelnetPort))
	if err != nil {
		return fmt.Errorf("%w: telnet port %d: %v", ErrBind, cfg.TelnetPort, err)
	}
	s.listener = ln
	log.Printf("server: listening (telnet) on port %d", cfg.TelnetPort)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.acceptLoop(ln)
	}()

	if cfg.TLS {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			ln.Close()
			return fmt.Errorf("server: TLS cert load: %w", err)
		}
		tln, err := tls.Listen("tcp", fmt.Sprintf(":%d", cfg.TLSPort), &tls.Config{
			Certificates: []tls.Certificate{cert},
		})
		if err != nil {
			ln.Close()
			return fmt.Errorf("%w: TLS port %d: %v", ErrBind, cfg.TLSPort, err)
		}
		s.tlsListener = tln
		log.Printf("server: listening (TLS) on port %d", cfg.TLSPort)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.acceptLoop(tln)
		}()
	}

	if cfg.WebPort > 0 {
		s.web = NewWebServer(s.Game)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.web.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
	}
	return nil
}

// acceptLoop accepts connections until the listener closes.
func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("server: accept: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// Stop closes all listeners; in-flight connections drain on their own.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.tlsListener != nil {
		s.tlsListener.Close()
	}
	if s.web != nil {
		s.web.Stop()
	}
}

// handleConnection runs one telnet session: welcome banner, then a
// line-at-a-time read loop feeding the input pipeline.
func (s *Server) handleConnection(conn net.Conn) {
	g := s.Game
	id := g.Conns.NextID()
	d := NewDescriptor(id, TransportTelnet, conn.RemoteAddr().String(), g.Conf.OutboundQueue,
		func(ev events.Event) error {
			return writeTelnetEvent(conn, ev)
		})
	d.OnClose(func() { conn.Close() })
	g.Conns.Add(d)
	if g.Metrics != nil {
		g.Metrics.ConnectionOpened("telnet")
	}
	go d.Run()

	log.Printf("server: [%d] connection from %s", d.ID, d.Addr)
	defer func() {
		g.disconnect(d)
		d.Close()
		if g.Metrics != nil {
			g.Metrics.ConnectionClosed("telnet")
		}
		log.Printf("server: [%d] connection closed from %s", d.ID, d.Addr)
	}()

	if txt := g.Texts.GetConnect(); txt != "" {
		d.Send(txt)
	} else {
		d.Send("Welcome to " + g.Conf.WorldName + ". Log in with: connect <user> <password>")
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 8192), 8192)
	for scanner.Scan() {
		if d.Closed() {
			return
		}
		line := decodeLine(scanner.Text())
		line = stripTelnet(line)
		g.ProcessLine(d, line)
		if d.Closed() {
			return
		}
	}
}

// decodeLine accepts UTF-8 and falls back to Latin-1 for legacy clients.
func decodeLine(line string) string {
	if utf8.ValidString(line) {
		return line
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().String(line)
	if err != nil {
		return line
	}
	return decoded
}

// writeTelnetEvent renders a bus event as CRLF-terminated text.
func writeTelnetEvent(conn net.Conn, ev events.Event) error {
	text := renderEvent(ev)
	if text == "" {
		return nil
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	text = strings.ReplaceAll(text, "\n", "\r\n")
	_, err := conn.Write([]byte(text))
	return err
}

// renderEvent maps bus events to client-visible lines. Diagnostics get a
// marker prefix so clients can tell softcode failures from world output.
func renderEvent(ev events.Event) string {
	switch ev.Type {
	case events.EvDiagnostic:
		return "!! " + ev.Text
	case events.EvShutdown:
		if ev.Text == "" {
			return "Server going down."
		}
		return ev.Text
	default:
		return ev.Text
	}
}

// stripTelnet removes telnet IAC command sequences and stray control
// bytes from input.
func stripTelnet(s string) string {
	var buf strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == 0xFF && i+2 < len(s) {
			i += 3
			continue
		}
		if s[i] == 0xFF && i+1 < len(s) {
			i += 2
			continue
		}
		if s[i] < 32 && s[i] != '\t' {
			i++
			continue
		}
		buf.WriteByte(s[i])
		i++
	}
	return buf.String()
}
