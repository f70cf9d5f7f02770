package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/migueloliveira6/securemarket/envelope"
	"github.com/migueloliveira6/securemarket/inventory"
)

// Signer wraps payloads in signed envelopes. Satisfied by identity.Manager.
type Signer interface {
	Sign(message any) (*envelope.Envelope, error)
}

// ProdutoCategoria is one entry of the /secure/produtos response.
// Field names are fixed by the wire contract.
type ProdutoCategoria struct {
	Categoria  string  `json:"categoria"`
	Produto    string  `json:"produto"`
	Quantidade int     `json:"quantidade"`
	Preco      float64 `json:"preco"`
}

// Handler serves the producer's signed catalog endpoints. Every response
// body, including errors, is an envelope signed with the producer's current
// certificate.
type Handler struct {
	store  *inventory.Store
	signer Signer
	log    *slog.Logger
}

// NewHandler creates a handler backed by the given store and signer.
func NewHandler(store *inventory.Store, signer Signer, log *slog.Logger) *Handler {
	return &Handler{store: store, signer: signer, log: log}
}

// HandleCategorias answers GET /secure/categorias with a signed category list.
func (h *Handler) HandleCategorias(w http.ResponseWriter, r *http.Request) {
	h.writeSigned(w, http.StatusOK, h.store.Categories())
}

// HandleProdutos answers GET /secure/produtos?categoria=X with the signed
// product list of one category. An unknown or missing category yields a
// signed error string with a 404 status.
func (h *Handler) HandleProdutos(w http.ResponseWriter, r *http.Request) {
	categoria := r.URL.Query().Get("categoria")

	if categoria != "" {
		views := h.store.Products([]string{categoria})
		for key, itens := range views {
			out := make([]ProdutoCategoria, len(itens))
			for i, item := range itens {
				out[i] = ProdutoCategoria{
					Categoria:  key,
					Produto:    item.Nome,
					Quantidade: item.Quantidade,
					Preco:      item.Preco,
				}
			}
			h.writeSigned(w, http.StatusOK, out)
			return
		}
	}

	h.writeSigned(w, http.StatusNotFound, "Categoria inexistente ou não especificada")
}

// HandleComprar answers POST /secure/comprar/{produto}/{quantidade}.
// The product is searched across all categories. A malformed or non-positive
// quantity is rejected before the inventory is touched.
func (h *Handler) HandleComprar(w http.ResponseWriter, r *http.Request) {
	produto := chi.URLParam(r, "produto")

	quantidade, err := strconv.Atoi(chi.URLParam(r, "quantidade"))
	if err != nil || quantidade <= 0 {
		h.writeSigned(w, http.StatusBadRequest, "Quantidade inválida.")
		return
	}

	_, err = h.store.PurchaseByProduct(r.Context(), produto, quantidade)
	switch {
	case err == nil:
		h.writeSigned(w, http.StatusOK, "Sucesso")
	case errors.Is(err, inventory.ErrInsufficientStock):
		h.writeSigned(w, http.StatusBadRequest, "Quantidade indisponível")
	case errors.Is(err, inventory.ErrNotFound):
		h.writeSigned(w, http.StatusNotFound, "Produto inexistente")
	case errors.Is(err, inventory.ErrInvalidQuantity):
		h.writeSigned(w, http.StatusBadRequest, "Quantidade inválida.")
	default:
		// Persistence failed: the purchase was rolled back, no success
		// may be reported.
		h.log.Error("Purchase failed", "err", err, "produto", produto)
		h.writeSigned(w, http.StatusInternalServerError, "Erro interno")
	}
}

// writeSigned signs the payload and writes the envelope. A producer that
// holds no certificate cannot produce signed responses and answers 503.
func (h *Handler) writeSigned(w http.ResponseWriter, status int, message any) {
	env, err := h.signer.Sign(message)
	if err != nil {
		h.log.Error("Failed to sign response", "err", err)
		http.Error(w, "producer holds no valid certificate", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.log.Error("Failed to write response", "err", err)
	}
}
