package gestor

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
)

type ServerConfig struct {
	ListenAddr string
	Log        *slog.Logger

	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Server is the gestor itself: it issues producer certificates and serves
// the producer directory. Registering again under the same name replaces the
// previous directory entry.
type Server struct {
	cfg       *ServerConfig
	authority *Authority
	log       *slog.Logger

	srv *http.Server

	mu        sync.Mutex
	producers map[string]Producer
}

func NewServer(cfg *ServerConfig, authority *Authority) *Server {
	s := &Server{
		cfg:       cfg,
		authority: authority,
		log:       cfg.Log,
		producers: map[string]Producer{},
	}

	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) getRouter() http.Handler {
	mux := chi.NewRouter()

	mux.With(s.httpLogger).Post("/produtor_certificado", s.handleRegister)
	mux.With(s.httpLogger).Get("/produtor", s.handleDirectory)
	mux.With(s.httpLogger).Get("/chave_publica", s.handleTrustRoot)
	mux.With(s.httpLogger).Get("/livez", s.handleLivenessCheck)

	return mux
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed registration request", http.StatusBadRequest)
		return
	}
	if req.Nome == "" || req.Porta < 1 || req.Porta > 65535 {
		http.Error(w, "invalid producer identity", http.StatusBadRequest)
		return
	}

	pub, err := parsePublicKey(req.PubKey)
	if err != nil {
		s.log.Warn("Registration with unusable public key", "err", err, "nome", req.Nome)
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}

	certPEM, err := s.authority.IssueCertificate(req, pub)
	if err != nil {
		s.log.Error("Certificate issuance failed", "err", err, "nome", req.Nome)
		http.Error(w, "certificate issuance failed", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.producers[req.Nome] = Producer{
		Nome:   req.Nome,
		IP:     req.IP,
		Porta:  req.Porta,
		Secure: 1,
	}
	s.mu.Unlock()

	s.log.Info("Registered producer", "nome", req.Nome, "addr", req.IP, "porta", req.Porta)

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusCreated)
	w.Write(certPEM)
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	producers := make([]Producer, 0, len(s.producers))
	for _, p := range s.producers {
		producers = append(producers, p)
	}
	s.mu.Unlock()

	sort.Slice(producers, func(i, j int) bool { return producers[i].Nome < producers[j].Nome })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(producers); err != nil {
		s.log.Error("Failed to write producer directory", "err", err)
	}
}

// handleTrustRoot serves the CA public key. A convenience for bootstrapping;
// marketplaces should pin the value out-of-band.
func (s *Server) handleTrustRoot(w http.ResponseWriter, r *http.Request) {
	trustRoot, err := s.authority.TrustRootPEM()
	if err != nil {
		s.log.Error("Failed to encode trust root", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(trustRoot)
}

func (s *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func parsePublicKey(pubKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pubKeyPEM))
	if block == nil {
		return nil, errors.New("not a PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return rsaPub, nil
}

func (s *Server) RunInBackground() {
	go func() {
		s.log.Info("Starting gestor server", "listenAddress", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Gestor server failed", "err", err)
		}
	}()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("Graceful gestor server shutdown failed", "err", err)
	} else {
		s.log.Info("Gestor server gracefully stopped")
	}
}
