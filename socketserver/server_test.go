package socketserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migueloliveira6/securemarket/inventory"
	"github.com/migueloliveira6/securemarket/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T) *Server {
	return startServerWith(t, 4, 5*time.Second)
}

func startServerWith(t *testing.T, maxConns int, idleTimeout time.Duration) *Server {
	t.Helper()

	backend := storage.NewMemoryBackend()
	seed := map[string][]inventory.Product{
		"fruta": {{Nome: "maçã", Quantidade: 10, Preco: 1.0, TaxaRevenda: 0.1}},
	}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, backend.Save(context.Background(), data))

	store, err := inventory.NewStore(context.Background(), backend, testLogger())
	require.NoError(t, err)

	srv := New(Config{
		ListenAddr:  "127.0.0.1:0",
		MaxConns:    maxConns,
		IdleTimeout: idleTimeout,
		Log:         testLogger(),
	}, store)
	require.NoError(t, srv.Listen())
	srv.RunInBackground()
	t.Cleanup(srv.Shutdown)
	return srv
}

type session struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

func dial(t *testing.T, srv *Server) *session {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &session{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}
}

func (s *session) roundTrip(t *testing.T, req any, resp any) {
	t.Helper()
	require.NoError(t, s.enc.Encode(req))
	require.NoError(t, s.dec.Decode(resp))
}

func TestListarCategorias(t *testing.T) {
	srv := startServer(t)
	sess := dial(t, srv)

	var categorias []string
	sess.roundTrip(t, Request{Type: "listarCategorias"}, &categorias)
	assert.Equal(t, []string{"fruta"}, categorias)
}

func TestListarProdutos(t *testing.T) {
	srv := startServer(t)
	sess := dial(t, srv)

	var produtos map[string][]inventory.ProductView
	sess.roundTrip(t, Request{Type: "listarProdutos", Categorias: []string{"fruta", "peixe"}}, &produtos)

	require.Contains(t, produtos, "fruta")
	assert.NotContains(t, produtos, "peixe")
	assert.Equal(t, "maçã", produtos["fruta"][0].Nome)
	assert.Equal(t, 10, produtos["fruta"][0].Quantidade)
}

func TestComprar(t *testing.T) {
	srv := startServer(t)
	sess := dial(t, srv)

	quantidade := 4
	var resp StatusResponse
	sess.roundTrip(t, Request{
		Type:       "comprar",
		Categoria:  "fruta",
		Produto:    "maçã",
		Quantidade: &quantidade,
	}, &resp)

	assert.Equal(t, "sucesso", resp.Status)
	require.NotNil(t, resp.Preco)
	assert.Equal(t, 1.0, *resp.Preco)
	require.NotNil(t, resp.TaxaRevenda)
	assert.Equal(t, 0.1, *resp.TaxaRevenda)

	// Stock went down for the next request on the same session.
	var produtos map[string][]inventory.ProductView
	sess.roundTrip(t, Request{Type: "listarProdutos", Categorias: []string{"fruta"}}, &produtos)
	assert.Equal(t, 6, produtos["fruta"][0].Quantidade)
}

func TestComprarInsuficiente(t *testing.T) {
	srv := startServer(t)
	sess := dial(t, srv)

	quantidade := 999
	var resp StatusResponse
	sess.roundTrip(t, Request{
		Type:       "comprar",
		Categoria:  "fruta",
		Produto:    "maçã",
		Quantidade: &quantidade,
	}, &resp)

	assert.Equal(t, "erro", resp.Status)
	assert.Contains(t, resp.Mensagem, "insuficiente")
}

func TestComprarPedidoInvalido(t *testing.T) {
	srv := startServer(t)
	sess := dial(t, srv)

	// Missing quantidade.
	var resp StatusResponse
	sess.roundTrip(t, Request{Type: "comprar", Categoria: "fruta", Produto: "maçã"}, &resp)
	assert.Equal(t, "erro", resp.Status)
	assert.Equal(t, "Pedido de compra inválido.", resp.Mensagem)
}

func TestPedidoDesconhecido(t *testing.T) {
	srv := startServer(t)
	sess := dial(t, srv)

	var resp StatusResponse
	sess.roundTrip(t, Request{Type: "voar"}, &resp)
	assert.Equal(t, "erro", resp.Status)
	assert.Equal(t, "Pedido inválido.", resp.Mensagem)
}

func TestDadosInvalidosKeepsSessionOpen(t *testing.T) {
	srv := startServer(t)
	sess := dial(t, srv)

	_, err := sess.conn.Write([]byte("garbage\n"))
	require.NoError(t, err)

	var resp StatusResponse
	require.NoError(t, sess.dec.Decode(&resp))
	assert.Equal(t, "erro", resp.Status)
	assert.Equal(t, "Dados inválidos.", resp.Mensagem)

	// The session still answers well-formed requests afterwards.
	var categorias []string
	sess.roundTrip(t, Request{Type: "listarCategorias"}, &categorias)
	assert.Equal(t, []string{"fruta"}, categorias)
}

func TestMaxConnsGatesAdmission(t *testing.T) {
	srv := startServerWith(t, 2, 5*time.Second)

	// Occupy both slots; the round trips prove the handlers are live.
	first := dial(t, srv)
	second := dial(t, srv)
	var categorias []string
	first.roundTrip(t, Request{Type: "listarCategorias"}, &categorias)
	second.roundTrip(t, Request{Type: "listarCategorias"}, &categorias)

	// A third connection lands in the accept queue but gets no handler:
	// its request stays unanswered.
	third := dial(t, srv)
	require.NoError(t, third.enc.Encode(Request{Type: "listarCategorias"}))
	require.NoError(t, third.conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var resp []string
	err := third.dec.Decode(&resp)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	// Releasing a slot lets the waiting connection be served; the request
	// bytes sent earlier are still in the stream.
	require.NoError(t, first.conn.Close())
	require.NoError(t, third.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	fresh := json.NewDecoder(third.conn)
	var served []string
	require.NoError(t, fresh.Decode(&served))
	assert.Equal(t, []string{"fruta"}, served)
}

func TestIdleConnectionIsClosed(t *testing.T) {
	srv := startServerWith(t, 4, 100*time.Millisecond)
	sess := dial(t, srv)

	// No request is ever sent; the server hangs up after IdleTimeout.
	require.NoError(t, sess.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp StatusResponse
	err := sess.dec.Decode(&resp)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDesconectar(t *testing.T) {
	srv := startServer(t)
	sess := dial(t, srv)

	require.NoError(t, sess.enc.Encode(Request{Type: "desconectar"}))

	// Server closes its side; the next read reports EOF.
	sess.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp StatusResponse
	err := sess.dec.Decode(&resp)
	assert.ErrorIs(t, err, io.EOF)
}
