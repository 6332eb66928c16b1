package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/bazaar-market/ledger/internal/domain"
	pfirestore "github.com/bazaar-market/ledger/internal/platform/firestore"
	"github.com/bazaar-market/ledger/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads catalog products and adjusts their stock levels.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
	clock    func() time.Time
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{
		provider: provider,
		products: products,
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// FindByID loads a product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// Reserve validates every line before decrementing any stock. All lines succeed or none are
// applied; a refusal is reported as *repositories.StockError.
func (r *ProductRepository) Reserve(ctx context.Context, lines []repositories.StockLine) ([]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	merged, err := mergeStockLines(lines)
	if err != nil {
		return nil, err
	}

	var reserved []domain.Product
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, len(merged))
		products := make([]domain.Product, len(merged))

		for i, line := range merged {
			ref, err := r.products.DocumentRef(ctx, line.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, line.ProductID, "product not found")
				}
				return err
			}
			product, err := decodeProduct(snap)
			if err != nil {
				return err
			}
			if !product.IsActive {
				return repositories.NewStockError(repositories.StockErrorProductInactive, line.ProductID, fmt.Sprintf("product %s is not available", product.Name))
			}
			if product.Stock < line.Quantity {
				stockErr := repositories.NewStockError(repositories.StockErrorInsufficient, line.ProductID, fmt.Sprintf("insufficient stock for %s", product.Name))
				stockErr.Available = product.Stock
				return stockErr
			}
			refs[i] = ref
			products[i] = product
		}

		now := r.clock()
		for i, line := range merged {
			products[i].Stock -= line.Quantity
			products[i].UpdatedAt = now
			if err := tx.Update(refs[i], []firestore.Update{
				{Path: "stock", Value: products[i].Stock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		reserved = products
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("products.reserve", err)
	}
	return reserved, nil
}

// Release returns stock for the given lines. Products deleted since the reservation are skipped.
func (r *ProductRepository) Release(ctx context.Context, lines []repositories.StockLine) ([]string, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	merged, err := mergeStockLines(lines)
	if err != nil {
		return nil, err
	}

	var restored []string
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref   *firestore.DocumentRef
			id    string
			stock int
		}
		var updates []pending

		for _, line := range merged {
			ref, err := r.products.DocumentRef(ctx, line.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			product, err := decodeProduct(snap)
			if err != nil {
				return err
			}
			updates = append(updates, pending{ref: ref, id: line.ProductID, stock: product.Stock + line.Quantity})
		}

		now := r.clock()
		restored = restored[:0]
		for _, u := range updates {
			if err := tx.Update(u.ref, []firestore.Update{
				{Path: "stock", Value: u.stock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
			restored = append(restored, u.id)
		}
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("products.release", err)
	}
	return restored, nil
}

// mergeStockLines folds repeated products into one line so each document is written once per
// transaction. Input order is preserved.
func mergeStockLines(lines []repositories.StockLine) ([]repositories.StockLine, error) {
	if len(lines) == 0 {
		return nil, repositories.NewStockError(repositories.StockErrorInvalidQuantity, "", "at least one line is required")
	}
	index := make(map[string]int, len(lines))
	merged := make([]repositories.StockLine, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, repositories.NewStockError(repositories.StockErrorProductNotFound, "", "product id is required")
		}
		if line.Quantity <= 0 {
			return nil, repositories.NewStockError(repositories.StockErrorInvalidQuantity, id, fmt.Sprintf("quantity must be at least 1, got %d", line.Quantity))
		}
		if pos, ok := index[id]; ok {
			merged[pos].Quantity += line.Quantity
			continue
		}
		index[id] = len(merged)
		merged = append(merged, repositories.StockLine{ProductID: id, Quantity: line.Quantity})
	}
	return merged, nil
}

type productDocument struct {
	VendorID  string    `firestore:"vendorId"`
	Name      string    `firestore:"name"`
	Price     string    `firestore:"price"`
	Stock     int       `firestore:"stock"`
	IsActive  bool      `firestore:"isActive"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func decodeProduct(snap *firestore.DocumentSnapshot) (domain.Product, error) {
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID)
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price, err := parseAmount(d.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s price: %w", id, err)
	}
	return domain.Product{
		ID:        id,
		VendorID:  d.VendorID,
		Name:      d.Name,
		Price:     price,
		Stock:     d.Stock,
		IsActive:  d.IsActive,
		UpdatedAt: d.UpdatedAt,
	}, nil
}
