// Package market implements the consumer side of the protocol: discovering
// producers through the gestor, fetching their signed catalog endpoints, and
// verifying every envelope before its payload is surfaced.
//
// The producer's inventory is the sole source of truth. This client never
// maintains its own authoritative stock counts; after a purchase it re-reads
// the catalog if it needs fresh quantities.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/migueloliveira6/securemarket/envelope"
	"github.com/migueloliveira6/securemarket/gestor"
	"github.com/migueloliveira6/securemarket/trust"
)

// Produto is one entry of a producer's signed product listing.
type Produto struct {
	Categoria  string  `json:"categoria"`
	Produto    string  `json:"produto"`
	Quantidade int     `json:"quantidade"`
	Preco      float64 `json:"preco"`
}

// DomainError is a producer-side refusal (no stock, unknown product) carried
// inside a fully verified envelope. It is distinct from a trust failure: the
// producer really said no.
type DomainError struct {
	StatusCode int
	Mensagem   string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("producer refused request (%d): %s", e.StatusCode, e.Mensagem)
}

// Directory lists producers. Satisfied by gestor.Client.
type Directory interface {
	Producers(ctx context.Context) ([]gestor.Producer, error)
}

// Client talks to producers and trusts nothing that does not verify.
type Client struct {
	verifier   *trust.Verifier
	directory  Directory
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a market client anchored on the given verifier.
func NewClient(verifier *trust.Verifier, directory Directory, log *slog.Logger) *Client {
	return &Client{
		verifier:   verifier,
		directory:  directory,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// Producers fetches the producer directory from the gestor.
func (c *Client) Producers(ctx context.Context) ([]gestor.Producer, error) {
	return c.directory.Producers(ctx)
}

// SecureCategories fetches and verifies a producer's category list.
func (c *Client) SecureCategories(ctx context.Context, producerURL string) ([]string, error) {
	env, status, err := c.fetchEnvelope(ctx, http.MethodGet, producerURL+"/secure/categorias")
	if err != nil {
		return nil, err
	}
	if err := c.domainError(env, status); err != nil {
		return nil, err
	}

	var categorias []string
	if err := env.DecodeMessage(&categorias); err != nil {
		return nil, fmt.Errorf("could not parse category list: %w", err)
	}
	return categorias, nil
}

// SecureProducts fetches and verifies one category's product list.
func (c *Client) SecureProducts(ctx context.Context, producerURL, categoria string) ([]Produto, error) {
	target := fmt.Sprintf("%s/secure/produtos?categoria=%s", producerURL, url.QueryEscape(categoria))
	env, status, err := c.fetchEnvelope(ctx, http.MethodGet, target)
	if err != nil {
		return nil, err
	}
	if err := c.domainError(env, status); err != nil {
		return nil, err
	}

	var produtos []Produto
	if err := env.DecodeMessage(&produtos); err != nil {
		return nil, fmt.Errorf("could not parse product list: %w", err)
	}
	return produtos, nil
}

// SecureBuy purchases quantidade units of a product and returns the
// producer's verified confirmation message.
func (c *Client) SecureBuy(ctx context.Context, producerURL, produto string, quantidade int) (string, error) {
	if quantidade < 1 {
		return "", fmt.Errorf("quantidade must be positive, got %d", quantidade)
	}

	target := fmt.Sprintf("%s/secure/comprar/%s/%d", producerURL, url.PathEscape(produto), quantidade)
	env, status, err := c.fetchEnvelope(ctx, http.MethodPost, target)
	if err != nil {
		return "", err
	}
	if err := c.domainError(env, status); err != nil {
		return "", err
	}

	var mensagem string
	if err := env.DecodeMessage(&mensagem); err != nil {
		return "", fmt.Errorf("could not parse purchase confirmation: %w", err)
	}
	return mensagem, nil
}

// fetchEnvelope performs the request and runs full verification. No payload
// leaves this function unless the envelope verified against the trust root.
func (c *Client) fetchEnvelope(ctx context.Context, method, target string) (*envelope.Envelope, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("could not reach producer: %w", err)
	}
	defer resp.Body.Close()

	var env envelope.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, 0, fmt.Errorf("malformed producer response: %w", err)
	}

	if err := c.verifier.Check(&env); err != nil {
		c.log.Warn("Discarding unverifiable producer response",
			"err", err, "url", target)
		return nil, 0, err
	}

	return &env, resp.StatusCode, nil
}

// domainError converts a verified non-2xx response into a DomainError.
func (c *Client) domainError(env *envelope.Envelope, status int) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var mensagem string
	if err := env.DecodeMessage(&mensagem); err != nil {
		mensagem = string(env.Mensagem)
	}
	return &DomainError{StatusCode: status, Mensagem: mensagem}
}
