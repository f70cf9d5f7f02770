// Package inventory implements a producer's authoritative product catalog.
//
// One Store owns one catalog. Every mutation goes through Purchase, which
// performs the stock check, the decrement and the durable snapshot write as a
// single critical section: a purchase is only acknowledged once the updated
// catalog has been persisted. The dataset is small, so correctness is favored
// over throughput.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/migueloliveira6/securemarket/storage"
)

// Product is a catalog entry. The name is a case-insensitive identity key
// within its category.
type Product struct {
	Nome        string  `json:"nome"`
	Quantidade  int     `json:"quantidade"`
	Preco       float64 `json:"preco"`
	TaxaRevenda float64 `json:"taxa_revenda"`
}

// PrecoRevenda derives the resale price. It is never stored.
func (p Product) PrecoRevenda() float64 {
	return p.Preco * (1 + p.TaxaRevenda)
}

// ProductView is the read-only projection returned by catalog queries.
type ProductView struct {
	Nome         string  `json:"nome"`
	Quantidade   int     `json:"quantidade"`
	Preco        float64 `json:"preco"`
	TaxaRevenda  float64 `json:"taxa_revenda"`
	PrecoRevenda float64 `json:"preco_revenda"`
}

// PurchaseResult reports a committed purchase.
type PurchaseResult struct {
	Categoria   string
	Produto     string
	Quantidade  int // remaining stock after the decrement
	Preco       float64
	TaxaRevenda float64
}

var (
	// ErrNotFound means the category or product does not exist.
	ErrNotFound = errors.New("não encontrado")

	// ErrInsufficientStock means the requested quantity exceeds current stock.
	ErrInsufficientStock = errors.New("quantidade insuficiente")

	// ErrInvalidQuantity means the requested quantity is not a positive integer.
	ErrInvalidQuantity = errors.New("quantidade inválida")
)

// Store owns one producer's catalog. All operations serialize through a
// single mutex; the snapshot write happens inside the critical section so a
// success response is never released before the mutation is durable.
type Store struct {
	mu       sync.Mutex
	produtos map[string][]Product
	backend  storage.Backend
	log      *slog.Logger
}

// NewStore creates a store backed by the given snapshot backend. The initial
// catalog is loaded from the backend; a missing snapshot yields an empty
// catalog.
func NewStore(ctx context.Context, backend storage.Backend, log *slog.Logger) (*Store, error) {
	data, err := backend.Load(ctx)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		log.Info("No inventory snapshot found, starting empty", "backend", backend.Name())
		return &Store{produtos: map[string][]Product{}, backend: backend, log: log}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory snapshot: %w", err)
	}

	var produtos map[string][]Product
	if err := json.Unmarshal(data, &produtos); err != nil {
		return nil, fmt.Errorf("corrupt inventory snapshot: %w", err)
	}

	return &Store{produtos: produtos, backend: backend, log: log}, nil
}

// Categories lists category names, sorted. Read-only.
func (s *Store) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.produtos))
	for categoria := range s.produtos {
		out = append(out, categoria)
	}
	sort.Strings(out)
	return out
}

// Products returns a consistent snapshot of the requested categories.
// Unknown categories are omitted from the result.
func (s *Store) Products(categorias []string) map[string][]ProductView {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]ProductView)
	for _, categoria := range categorias {
		key, itens := s.findCategory(categoria)
		if key == "" {
			continue
		}
		out[key] = viewsOf(itens)
	}
	return out
}

// AllProducts returns a consistent snapshot of the whole catalog.
func (s *Store) AllProducts() map[string][]ProductView {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]ProductView, len(s.produtos))
	for categoria, itens := range s.produtos {
		out[categoria] = viewsOf(itens)
	}
	return out
}

// Purchase atomically checks stock and decrements it, then persists the
// updated catalog before returning. Category and product lookup is
// case-insensitive. On any error the catalog is left untouched.
func (s *Store) Purchase(ctx context.Context, categoria, produto string, quantidade int) (PurchaseResult, error) {
	if quantidade < 1 {
		return PurchaseResult{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantidade)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, itens := s.findCategory(categoria)
	if key == "" {
		return PurchaseResult{}, fmt.Errorf("categoria %q %w", categoria, ErrNotFound)
	}

	idx := findProduct(itens, produto)
	if idx < 0 {
		return PurchaseResult{}, fmt.Errorf("produto %q %w", produto, ErrNotFound)
	}

	return s.commitPurchase(ctx, key, idx, quantidade)
}

// PurchaseByProduct searches all categories for the product and purchases
// from the first category that carries it. Used by the secure HTTP endpoint,
// which identifies products by name alone.
func (s *Store) PurchaseByProduct(ctx context.Context, produto string, quantidade int) (PurchaseResult, error) {
	if quantidade < 1 {
		return PurchaseResult{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantidade)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Deterministic search order across the map.
	categorias := make([]string, 0, len(s.produtos))
	for categoria := range s.produtos {
		categorias = append(categorias, categoria)
	}
	sort.Strings(categorias)

	for _, categoria := range categorias {
		idx := findProduct(s.produtos[categoria], produto)
		if idx < 0 {
			continue
		}
		return s.commitPurchase(ctx, categoria, idx, quantidade)
	}

	return PurchaseResult{}, fmt.Errorf("produto %q %w", produto, ErrNotFound)
}

// commitPurchase performs the decrement and the durable write. Caller holds
// the lock. A failed persistence rolls the decrement back so no success is
// ever reported for a mutation that is not durable.
func (s *Store) commitPurchase(ctx context.Context, categoria string, idx, quantidade int) (PurchaseResult, error) {
	item := &s.produtos[categoria][idx]

	if item.Quantidade < quantidade {
		return PurchaseResult{}, fmt.Errorf("%w: disponível %d", ErrInsufficientStock, item.Quantidade)
	}

	item.Quantidade -= quantidade

	if err := s.persistLocked(ctx); err != nil {
		item.Quantidade += quantidade
		s.log.Error("Failed to persist inventory, purchase aborted",
			"err", err, "categoria", categoria, "produto", item.Nome)
		return PurchaseResult{}, fmt.Errorf("failed to persist purchase: %w", err)
	}

	return PurchaseResult{
		Categoria:   categoria,
		Produto:     item.Nome,
		Quantidade:  item.Quantidade,
		Preco:       item.Preco,
		TaxaRevenda: item.TaxaRevenda,
	}, nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.MarshalIndent(s.produtos, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to serialize inventory: %w", err)
	}
	return s.backend.Save(ctx, data)
}

// findCategory resolves a category name case-insensitively and returns the
// stored key. Returns an empty key when the category does not exist.
func (s *Store) findCategory(categoria string) (string, []Product) {
	want := strings.TrimSpace(categoria)
	for key, itens := range s.produtos {
		if strings.EqualFold(key, want) {
			return key, itens
		}
	}
	return "", nil
}

func findProduct(itens []Product, produto string) int {
	want := strings.TrimSpace(produto)
	for i := range itens {
		if strings.EqualFold(itens[i].Nome, want) {
			return i
		}
	}
	return -1
}

func viewsOf(itens []Product) []ProductView {
	out := make([]ProductView, len(itens))
	for i, p := range itens {
		out[i] = ProductView{
			Nome:         p.Nome,
			Quantidade:   p.Quantidade,
			Preco:        p.Preco,
			TaxaRevenda:  p.TaxaRevenda,
			PrecoRevenda: p.PrecoRevenda(),
		}
	}
	return out
}
