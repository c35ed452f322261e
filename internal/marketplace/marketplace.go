// Package marketplace validates listings and places cart orders through the
// payAndPlaceOrder function.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

var (
	ErrInvalidListing = errors.New("invalid listing")
	ErrEmptyCart      = errors.New("cart is empty")
	ErrMissingAddress = errors.New("delivery address is required")
)

type Business struct {
	ID          string `json:"id"`
	OwnerUID    string `json:"ownerUid"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type CatalogItem struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func ValidateBusiness(b Business) error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: business name is required", ErrInvalidListing)
	}
	return nil
}

func ValidateItem(it CatalogItem) error {
	if strings.TrimSpace(it.Name) == "" {
		return fmt.Errorf("%w: item name is required", ErrInvalidListing)
	}
	if it.Price < 0 || math.IsNaN(it.Price) || math.IsInf(it.Price, 0) {
		return fmt.Errorf("%w: price must be >= 0", ErrInvalidListing)
	}
	return nil
}

type Line struct {
	Item     CatalogItem `json:"item"`
	Quantity int         `json:"quantity"`
}

// Cart is safe for concurrent use.
type Cart struct {
	mu    sync.Mutex
	lines map[string]*Line
}

func NewCart() *Cart { return &Cart{lines: make(map[string]*Line)} }

// Add puts qty of it in the cart, merging with an existing line.
func (c *Cart) Add(it CatalogItem, qty int) error {
	if err := ValidateItem(it); err != nil {
		return err
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidListing)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lines[it.ID]; ok {
		l.Quantity += qty
		return nil
	}
	c.lines[it.ID] = &Line{Item: it, Quantity: qty}
	return nil
}

func (c *Cart) Remove(itemID string) {
	c.mu.Lock()
	delete(c.lines, itemID)
	c.mu.Unlock()
}

// Lines returns the cart contents ordered by item id.
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.ID < out[j].Item.ID })
	return out
}

// Total is rounded to cents.
func (c *Cart) Total() float64 {
	var sum float64
	for _, l := range c.Lines() {
		sum += l.Item.Price * float64(l.Quantity)
	}
	return math.Round(sum*100) / 100
}

type Caller interface {
	Call(ctx context.Context, name string, data, out interface{}) error
}

type Service struct {
	Calls Caller
}

type orderRequest struct {
	BusinessID string  `json:"businessId"`
	Items      []Line  `json:"items"`
	Address    string  `json:"address"`
	Total      float64 `json:"total"`
}

type OrderResult struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// PlaceOrder charges the wallet and creates the order in one remote call.
func (s *Service) PlaceOrder(ctx context.Context, businessID string, cart *Cart, address string) (OrderResult, error) {
	lines := cart.Lines()
	if len(lines) == 0 {
		return OrderResult{}, ErrEmptyCart
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return OrderResult{}, ErrMissingAddress
	}
	if businessID == "" {
		return OrderResult{}, fmt.Errorf("%w: business id is required", ErrInvalidListing)
	}
	var out OrderResult
	err := s.Calls.Call(ctx, "payAndPlaceOrder", orderRequest{
		BusinessID: businessID,
		Items:      lines,
		Address:    address,
		Total:      cart.Total(),
	}, &out)
	return out, err
}
