package httpserver

import (
	"context"
	"encoding/json"
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
	"github.com/migueloliveira6/securemarket/identity"
	"github.com/migueloliveira6/securemarket/inventory"
	"github.com/migueloliveira6/securemarket/storage"
	"github.com/migueloliveira6/securemarket/trust"
	"github.com/migueloliveira6/securemarket/trust/trusttest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	router   http.Handler
	verifier *trust.Verifier
	store    *inventory.Store
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	authority := trusttest.NewAuthority()
	gestorSrv := trusttest.NewServer(authority)
	t.Cleanup(gestorSrv.Close)

	manager, err := identity.NewManager(identity.Config{
		Nome:     "produtor-teste",
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

	handler := NewHandler(store, manager, testLogger())

	mux := chi.NewRouter()
	mux.Get("/secure/categorias", handler.HandleCategorias)
	mux.Get("/secure/produtos", handler.HandleProdutos)
	mux.Post("/secure/comprar/{produto}/{quantidade}", handler.HandleComprar)

	verifier, err := trust.New(authority.TrustRootPEM())
	require.NoError(t, err)

	return &testEnv{router: mux, verifier: verifier, store: store}
}

func (e *testEnv) request(t *testing.T, method, target string) (*httptest.ResponseRecorder, *envelope.Envelope) {
	t.Helper()

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, &env
}

func TestHandleCategorias(t *testing.T) {
	e := setup(t)

	rec, env := e.request(t, http.MethodGet, "/secure/categorias")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, e.verifier.Verify(env))

	var categorias []string
	require.NoError(t, env.DecodeMessage(&categorias))
	assert.Equal(t, []string{"fruta"}, categorias)
}

func TestHandleProdutos(t *testing.T) {
	e := setup(t)

	rec, env := e.request(t, http.MethodGet, "/secure/produtos?categoria=fruta")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, e.verifier.Verify(env))

	var produtos []ProdutoCategoria
	require.NoError(t, env.DecodeMessage(&produtos))
	require.Len(t, produtos, 1)
	assert.Equal(t, "maçã", produtos[0].Produto)
	assert.Equal(t, 10, produtos[0].Quantidade)
	assert.Equal(t, 1.0, produtos[0].Preco)
}

func TestHandleProdutosUnknownCategoria(t *testing.T) {
	e := setup(t)

	for _, target := range []string{"/secure/produtos?categoria=peixe", "/secure/produtos"} {
		rec, env := e.request(t, http.MethodGet, target)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		// Even the error payload is signed and verifiable.
		require.True(t, e.verifier.Verify(env))

		var mensagem string
		require.NoError(t, env.DecodeMessage(&mensagem))
		assert.Equal(t, "Categoria inexistente ou não especificada", mensagem)
	}
}

func TestHandleComprarSuccess(t *testing.T) {
	e := setup(t)

	rec, env := e.request(t, http.MethodPost, "/secure/comprar/maçã/4")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, e.verifier.Verify(env))

	var mensagem string
	require.NoError(t, env.DecodeMessage(&mensagem))
	assert.Equal(t, "Sucesso", mensagem)

	views := e.store.Products([]string{"fruta"})
	assert.Equal(t, 6, views["fruta"][0].Quantidade)
}

func TestHandleComprarInsufficientStock(t *testing.T) {
	e := setup(t)

	rec, env := e.request(t, http.MethodPost, "/secure/comprar/maçã/999")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.True(t, e.verifier.Verify(env))

	var mensagem string
	require.NoError(t, env.DecodeMessage(&mensagem))
	assert.Equal(t, "Quantidade indisponível", mensagem)
}

func TestHandleComprarUnknownProduct(t *testing.T) {
	e := setup(t)

	rec, env := e.request(t, http.MethodPost, "/secure/comprar/inexistente/1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.True(t, e.verifier.Verify(env))
}

func TestHandleComprarInvalidQuantidade(t *testing.T) {
	e := setup(t)

	for _, target := range []string{
		"/secure/comprar/maçã/0",
		"/secure/comprar/maçã/-3",
		"/secure/comprar/maçã/abc",
	} {
		rec, env := e.request(t, http.MethodPost, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		require.True(t, e.verifier.Verify(env))
	}

	// Inventory untouched.
	views := e.store.Products([]string{"fruta"})
	assert.Equal(t, 10, views["fruta"][0].Quantidade)
}

// unregisteredSigner mimics a producer that never obtained a certificate.
type unregisteredSigner struct{}

func (unregisteredSigner) Sign(message any) (*envelope.Envelope, error) {
	return nil, identity.ErrNoCertificate
}

func TestUnregisteredProducerAnswers503(t *testing.T) {
	store, err := inventory.NewStore(context.Background(), storage.NewMemoryBackend(), testLogger())
	require.NoError(t, err)

	handler := NewHandler(store, unregisteredSigner{}, testLogger())

	rec := httptest.NewRecorder()
	handler.HandleCategorias(rec, httptest.NewRequest(http.MethodGet, "/secure/categorias", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
