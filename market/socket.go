package market

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// SocketSession is one plain-protocol session with a producer. It carries no
// security guarantee; callers who need authenticated answers use the secure
// HTTP endpoints.
type SocketSession struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// socketRequest mirrors the producer's plain protocol message shape.
type socketRequest struct {
	Type       string   `json:"type"`
	Categorias []string `json:"categorias,omitempty"`
	Categoria  string   `json:"categoria,omitempty"`
	Produto    string   `json:"produto,omitempty"`
	Quantidade *int     `json:"quantidade,omitempty"`
}

// PurchaseOutcome is the producer's answer to a plain comprar request.
type PurchaseOutcome struct {
	Status      string   `json:"status"`
	Mensagem    string   `json:"mensagem"`
	Preco       *float64 `json:"preco,omitempty"`
	TaxaRevenda *float64 `json:"taxa_revenda,omitempty"`
}

// Sucesso reports whether the purchase was accepted.
func (o PurchaseOutcome) Sucesso() bool { return o.Status == "sucesso" }

// DialProducer opens a plain-protocol session.
func DialProducer(addr string, timeout time.Duration) (*SocketSession, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("could not connect to producer at %s: %w", addr, err)
	}

	return &SocketSession{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// ListarCategorias asks for the producer's category list.
func (s *SocketSession) ListarCategorias() ([]string, error) {
	if err := s.enc.Encode(socketRequest{Type: "listarCategorias"}); err != nil {
		return nil, err
	}
	var categorias []string
	if err := s.dec.Decode(&categorias); err != nil {
		return nil, err
	}
	return categorias, nil
}

// ListarProdutos asks for product listings of the given categories.
// Unknown categories are omitted by the producer.
func (s *SocketSession) ListarProdutos(categorias []string) (map[string][]map[string]any, error) {
	if err := s.enc.Encode(socketRequest{Type: "listarProdutos", Categorias: categorias}); err != nil {
		return nil, err
	}
	var produtos map[string][]map[string]any
	if err := s.dec.Decode(&produtos); err != nil {
		return nil, err
	}
	return produtos, nil
}

// Comprar requests a purchase.
func (s *SocketSession) Comprar(categoria, produto string, quantidade int) (PurchaseOutcome, error) {
	req := socketRequest{
		Type:       "comprar",
		Categoria:  categoria,
		Produto:    produto,
		Quantidade: &quantidade,
	}
	if err := s.enc.Encode(req); err != nil {
		return PurchaseOutcome{}, err
	}
	var outcome PurchaseOutcome
	if err := s.dec.Decode(&outcome); err != nil {
		return PurchaseOutcome{}, err
	}
	return outcome, nil
}

// Close sends desconectar and closes the connection. The farewell is best
// effort; the connection is closed either way.
func (s *SocketSession) Close() error {
	_ = s.enc.Encode(socketRequest{Type: "desconectar"})
	return s.conn.Close()
}
