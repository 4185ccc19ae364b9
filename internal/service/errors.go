package service

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the services either wraps one of
// these or is an internal failure.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
)

var (
	ErrEmptyItemList    = fmt.Errorf("%w: order must contain at least one item", ErrInvalidRequest)
	ErrInvalidQuantity  = fmt.Errorf("%w: quantity must be at least 1", ErrInvalidRequest)
	ErrInvalidProductID = fmt.Errorf("%w: product_id must be a positive integer", ErrInvalidRequest)
	ErrMissingCustomer  = fmt.Errorf("%w: customer is required", ErrInvalidRequest)
	ErrProductInactive  = fmt.Errorf("%w: product is not available", ErrInvalidRequest)
	ErrInvalidStatus    = fmt.Errorf("%w: unknown order status", ErrInvalidRequest)
	ErrInvalidProduct   = fmt.Errorf("%w: invalid product", ErrInvalidRequest)
	ErrInvalidCategory  = fmt.Errorf("%w: invalid category", ErrInvalidRequest)

	ErrProductNotFound  = fmt.Errorf("product %w", ErrNotFound)
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrNotFound)
	ErrOrderNotFound    = fmt.Errorf("order %w", ErrNotFound)

	ErrInvalidStatusTransition = fmt.Errorf("%w: invalid status transition", ErrConflict)
	ErrCategoryCycle           = fmt.Errorf("%w: category cannot be moved below itself", ErrConflict)
	ErrOrderInProgress         = fmt.Errorf("%w: an order with this idempotency key is being created", ErrConflict)
)
