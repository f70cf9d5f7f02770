// Package gestor implements the trust authority contract: producer
// registration (certificate issuance) and the producer directory. Client is
// the producer/marketplace side; Authority and Server implement the gestor
// itself.
package gestor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RegistrationRequest is the payload sent to the registration endpoint.
// Field names are fixed by the gestor's API.
type RegistrationRequest struct {
	IP     string `json:"ip"`
	Porta  int    `json:"porta"`
	Nome   string `json:"nome"`
	PubKey string `json:"pubKey"` // PEM-encoded public key
}

// Producer is one entry of the gestor's producer directory.
type Producer struct {
	Nome   string `json:"nome"`
	IP     string `json:"ip"`
	Porta  int    `json:"porta"`
	Secure int    `json:"secure"`
}

// Addr returns the producer's host:port address.
func (p Producer) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Porta)
}

// CertificateIssuer abstracts the registration endpoint for the identity
// manager.
type CertificateIssuer interface {
	// RegisterProducer submits the producer's identity and public key and
	// returns the issued certificate in PEM format.
	RegisterProducer(ctx context.Context, req RegistrationRequest) ([]byte, error)
}

// Client talks to a gestor instance over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a gestor client for the given base URL
// (e.g. http://gestor.example:5001).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterProducer posts the registration request. The gestor answers 200 or
// 201 with the issued certificate as PEM text in the response body; any other
// status is a registration failure.
func (c *Client) RegisterProducer(ctx context.Context, req RegistrationRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not serialize registration request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/produtor_certificado", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("could not reach registration endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read registration response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registration endpoint returned error %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// Producers fetches the producer directory.
func (c *Client) Producers(ctx context.Context) ([]Producer, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/produtor", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("could not reach producer directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("producer directory returned error %d", resp.StatusCode)
	}

	var producers []Producer
	if err := json.NewDecoder(resp.Body).Decode(&producers); err != nil {
		return nil, fmt.Errorf("could not parse producer directory: %w", err)
	}

	return producers, nil
}
