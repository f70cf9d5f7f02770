package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migueloliveira6/securemarket/envelope"
	"github.com/migueloliveira6/securemarket/gestor"
	"github.com/migueloliveira6/securemarket/httpserver"
	"github.com/migueloliveira6/securemarket/identity"
	"github.com/migueloliveira6/securemarket/inventory"
	"github.com/migueloliveira6/securemarket/storage"
	"github.com/migueloliveira6/securemarket/trust"
	"github.com/migueloliveira6/securemarket/trust/trusttest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type producerFixture struct {
	client   *Client
	producer *httptest.Server
}

// startProducer wires a complete producer (store, identity, secure handler)
// against a fake gestor and returns a market client anchored on the same
// trust root.
func startProducer(t *testing.T) *producerFixture {
	t.Helper()

	authority := trusttest.NewAuthority()
	gestorSrv := trusttest.NewServer(authority)
	t.Cleanup(gestorSrv.Close)

	manager, err := identity.NewManager(identity.Config{
		Nome:     "produtor-mercado",
		IP:       "127.0.0.1",
		Porta:    5007,
		Issuer:   gestor.NewClient(gestorSrv.URL),
		Interval: time.Minute,
		Log:      testLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, manager.Register(context.Background()))

	backend := storage.NewMemoryBackend()
	seed := map[string][]inventory.Product{
		"fruta": {{Nome: "maçã", Quantidade: 10, Preco: 1.0, TaxaRevenda: 0.1}},
	}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, backend.Save(context.Background(), data))

	store, err := inventory.NewStore(context.Background(), backend, testLogger())
	require.NoError(t, err)

	handler := httpserver.NewHandler(store, manager, testLogger())
	mux := chi.NewRouter()
	mux.Get("/secure/categorias", handler.HandleCategorias)
	mux.Get("/secure/produtos", handler.HandleProdutos)
	mux.Post("/secure/comprar/{produto}/{quantidade}", handler.HandleComprar)

	producer := httptest.NewServer(mux)
	t.Cleanup(producer.Close)

	verifier, err := trust.New(authority.TrustRootPEM())
	require.NoError(t, err)

	return &producerFixture{
		client:   NewClient(verifier, gestor.NewClient(gestorSrv.URL), testLogger()),
		producer: producer,
	}
}

func TestSecureCategories(t *testing.T) {
	f := startProducer(t)

	categorias, err := f.client.SecureCategories(context.Background(), f.producer.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"fruta"}, categorias)
}

func TestSecureProducts(t *testing.T) {
	f := startProducer(t)

	produtos, err := f.client.SecureProducts(context.Background(), f.producer.URL, "fruta")
	require.NoError(t, err)
	require.Len(t, produtos, 1)
	assert.Equal(t, "maçã", produtos[0].Produto)
	assert.Equal(t, 10, produtos[0].Quantidade)
}

func TestSecureProductsUnknownCategoria(t *testing.T) {
	f := startProducer(t)

	_, err := f.client.SecureProducts(context.Background(), f.producer.URL, "peixe")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusNotFound, domainErr.StatusCode)

	// A producer-side refusal is not a trust failure.
	assert.NotErrorIs(t, err, trust.ErrUntrusted)
}

func TestSecureBuy(t *testing.T) {
	f := startProducer(t)

	mensagem, err := f.client.SecureBuy(context.Background(), f.producer.URL, "maçã", 4)
	require.NoError(t, err)
	assert.Equal(t, "Sucesso", mensagem)
}

func TestSecureBuyInsufficientStockIsDomainError(t *testing.T) {
	f := startProducer(t)

	_, err := f.client.SecureBuy(context.Background(), f.producer.URL, "maçã", 999)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "Quantidade indisponível", domainErr.Mensagem)
	assert.NotErrorIs(t, err, trust.ErrUntrusted)
}

func TestSecureBuyRejectsNonPositiveQuantidade(t *testing.T) {
	f := startProducer(t)

	_, err := f.client.SecureBuy(context.Background(), f.producer.URL, "maçã", 0)
	assert.Error(t, err)
}

// tamperingProxy forwards to the producer but rewrites the message payload,
// simulating an on-path attacker.
func tamperingProxy(t *testing.T, upstream string) *httptest.Server {
	t.Helper()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := http.NewRequest(r.Method, upstream+r.URL.String(), nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		var env envelope.Envelope
		require.NoError(t, json.Unmarshal(body, &env))
		env.Mensagem = json.RawMessage(`["fruta","armas"]`)

		tampered, err := json.Marshal(&env)
		require.NoError(t, err)

		w.WriteHeader(resp.StatusCode)
		w.Write(tampered)
	}))
	t.Cleanup(proxy.Close)
	return proxy
}

func TestTamperedResponseIsUntrusted(t *testing.T) {
	f := startProducer(t)
	proxy := tamperingProxy(t, f.producer.URL)

	_, err := f.client.SecureCategories(context.Background(), proxy.URL)
	assert.ErrorIs(t, err, trust.ErrUntrusted)
}

func TestForeignProducerIsUntrusted(t *testing.T) {
	f := startProducer(t)

	// A rogue producer with a certificate from a different authority,
	// serving internally consistent envelopes.
	rogue := trusttest.NewAuthority()
	rogueSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rogue.Key
		cert := rogue.IssueCertificate("impostor", &key.PublicKey)
		env, err := trusttest.SignEnvelope(key, cert, []string{"fruta"})
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(env))
		w.Write(buf.Bytes())
	}))
	t.Cleanup(rogueSrv.Close)

	_, err := f.client.SecureCategories(context.Background(), rogueSrv.URL)
	assert.ErrorIs(t, err, trust.ErrUntrusted)
}

func TestProducersDirectory(t *testing.T) {
	f := startProducer(t)

	producers, err := f.client.Producers(context.Background())
	require.NoError(t, err)
	require.Len(t, producers, 1)
	assert.Equal(t, "produtor-mercado", producers[0].Nome)
	assert.Equal(t, 1, producers[0].Secure)
	assert.Equal(t, "127.0.0.1:5007", producers[0].Addr())
}

func TestPurchaseErrorFromMissingProducer(t *testing.T) {
	f := startProducer(t)

	_, err := f.client.SecureCategories(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, trust.ErrUntrusted))
}
