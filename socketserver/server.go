// Package socketserver implements the plain, unsigned producer protocol:
// one JSON request object per message over a TCP stream. It carries no
// security guarantee; marketplaces that need authenticity use the signed
// HTTP endpoints instead.
//
// Connections are admitted through a fixed-capacity semaphore and get idle
// read deadlines, so a flood of sockets cannot exhaust the process.
package socketserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/migueloliveira6/securemarket/inventory"
)

// Request is one protocol message. Quantidade is a pointer so a missing
// field is distinguishable from zero.
type Request struct {
	Type       string   `json:"type"`
	Categorias []string `json:"categorias,omitempty"`
	Categoria  string   `json:"categoria,omitempty"`
	Produto    string   `json:"produto,omitempty"`
	Quantidade *int     `json:"quantidade,omitempty"`
}

// StatusResponse is the structured answer to comprar requests and to
// protocol errors.
type StatusResponse struct {
	Status      string   `json:"status"`
	Mensagem    string   `json:"mensagem"`
	Preco       *float64 `json:"preco,omitempty"`
	TaxaRevenda *float64 `json:"taxa_revenda,omitempty"`
}

// Config configures the socket server.
type Config struct {
	ListenAddr  string
	MaxConns    int
	IdleTimeout time.Duration
	Log         *slog.Logger
}

// maxProtocolErrors bounds consecutive unparsable messages per connection
// before the peer is dropped, to avoid a hot error loop on garbage input.
const maxProtocolErrors = 10

// Server answers catalog and purchase requests from one inventory store.
type Server struct {
	cfg   Config
	store *inventory.Store
	log   *slog.Logger

	ln     net.Listener
	closed atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a socket server for the store. Call Listen before
// RunInBackground.
func New(cfg Config, store *inventory.Store) *Server {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 64
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}

	return &Server{
		cfg:   cfg,
		store: store,
		log:   cfg.Log,
		conns: map[net.Conn]struct{}{},
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// RunInBackground starts the accept loop. Connections beyond MaxConns wait
// in the accept queue until a slot frees up.
func (s *Server) RunInBackground() {
	sem := make(chan struct{}, s.cfg.MaxConns)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("Socket server listening", "addr", s.Addr(), "maxConns", s.cfg.MaxConns)

		for {
			sem <- struct{}{}
			conn, err := s.ln.Accept()
			if err != nil {
				<-sem
				if s.closed.Load() {
					return
				}
				s.log.Error("Accept failed", "err", err)
				continue
			}

			s.track(conn)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { <-sem }()
				defer s.untrack(conn)
				s.handleConn(conn)
			}()
		}
	}()
}

// Shutdown closes the listener and all live connections, then waits for
// handlers to finish.
func (s *Server) Shutdown() {
	s.closed.Store(true)
	if s.ln != nil {
		s.ln.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("Socket server stopped")
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// handleConn serves one marketplace session until desconectar, EOF, an idle
// timeout, or too many protocol errors.
func (s *Server) handleConn(conn net.Conn) {
	log := s.log.With("peer", conn.RemoteAddr().String())
	log.Debug("Connection established")

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	protocolErrors := 0

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}

		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || s.closed.Load() {
				log.Debug("Connection closed by peer")
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Debug("Connection idle, closing")
				return
			}

			protocolErrors++
			if protocolErrors > maxProtocolErrors {
				log.Warn("Too many protocol errors, dropping connection")
				return
			}

			s.reply(enc, log, StatusResponse{Status: "erro", Mensagem: "Dados inválidos."})

			// The stream position is unrecoverable after a syntax
			// error; discard the bad chunk and start a fresh decoder.
			dec = json.NewDecoder(conn)
			continue
		}
		protocolErrors = 0

		switch req.Type {
		case "listarProdutos":
			s.reply(enc, log, s.store.Products(req.Categorias))

		case "comprar":
			if req.Categoria == "" || req.Produto == "" || req.Quantidade == nil {
				s.reply(enc, log, StatusResponse{Status: "erro", Mensagem: "Pedido de compra inválido."})
				continue
			}
			s.reply(enc, log, s.comprar(req))

		case "listarCategorias":
			s.reply(enc, log, s.store.Categories())

		case "desconectar":
			log.Debug("Marketplace disconnected")
			return

		default:
			s.reply(enc, log, StatusResponse{Status: "erro", Mensagem: "Pedido inválido."})
		}
	}
}

func (s *Server) comprar(req Request) StatusResponse {
	result, err := s.store.Purchase(context.Background(), req.Categoria, req.Produto, *req.Quantidade)
	switch {
	case err == nil:
		return StatusResponse{
			Status:      "sucesso",
			Mensagem:    fmt.Sprintf("Compra de %d %s(s) realizada com sucesso.", *req.Quantidade, result.Produto),
			Preco:       &result.Preco,
			TaxaRevenda: &result.TaxaRevenda,
		}
	case errors.Is(err, inventory.ErrInsufficientStock):
		return StatusResponse{Status: "erro", Mensagem: fmt.Sprintf("Quantidade insuficiente de %s.", req.Produto)}
	case errors.Is(err, inventory.ErrNotFound):
		return StatusResponse{Status: "erro", Mensagem: fmt.Sprintf("Produto %s não encontrado.", req.Produto)}
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return StatusResponse{Status: "erro", Mensagem: "Pedido de compra inválido."}
	default:
		s.log.Error("Purchase failed", "err", err, "produto", req.Produto)
		return StatusResponse{Status: "erro", Mensagem: "Erro interno."}
	}
}

func (s *Server) reply(enc *json.Encoder, log *slog.Logger, payload any) {
	if err := enc.Encode(payload); err != nil {
		log.Debug("Failed to write response", "err", err)
	}
}
