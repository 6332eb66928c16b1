package repositories

import "fmt"

// StockErrorCode enumerates reasons a stock reservation can be refused.
type StockErrorCode string

const (
	// StockErrorProductNotFound indicates the referenced product does not exist.
	StockErrorProductNotFound StockErrorCode = "product_not_found"
	// StockErrorProductInactive indicates the product is not currently for sale.
	StockErrorProductInactive StockErrorCode = "product_inactive"
	// StockErrorInsufficient indicates the requested quantity exceeds the available stock.
	StockErrorInsufficient StockErrorCode = "insufficient_stock"
	// StockErrorInvalidQuantity indicates a non-positive quantity was requested.
	StockErrorInvalidQuantity StockErrorCode = "invalid_quantity"
)

// StockError describes why a reservation was refused. No stock has been modified when it is returned.
type StockError struct {
	Code      StockErrorCode
	ProductID string
	Message   string
	Available int
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.ProductID != "" {
		return fmt.Sprintf("stock %s: %s", e.ProductID, e.Message)
	}
	return e.Message
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, productID, message string) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{Code: code, ProductID: productID, Message: message}
}
