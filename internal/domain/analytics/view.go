package analytics

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrProductRequired    = errors.New("analytics: productId is required")
	ErrInvalidProductType = errors.New("analytics: productType must be item or service")
	ErrInvalidViewerRole  = errors.New("analytics: invalid viewer role")
)

type ProductType string

const (
	ProductItem    ProductType = "Item"
	ProductService ProductType = "Service"
)

type ViewerRole string

const (
	ViewerBuyer     ViewerRole = "buyer"
	ViewerSeller    ViewerRole = "seller"
	ViewerAdmin     ViewerRole = "admin"
	ViewerAnonymous ViewerRole = "anonymous"
)

// ProductView records one listing page impression. ViewedBy is empty for anonymous visitors.
type ProductView struct {
	ID          string      `json:"id"`
	ProductID   string      `json:"productId"`
	ProductType ProductType `json:"productType"`
	ViewedBy    string      `json:"viewedBy,omitempty"`
	ViewerRole  ViewerRole  `json:"viewerRole"`
	Timestamp   time.Time   `json:"timestamp"`
}

// ParseProductType accepts item/service in any case.
func ParseProductType(raw string) (ProductType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "item":
		return ProductItem, nil
	case "service":
		return ProductService, nil
	default:
		return "", ErrInvalidProductType
	}
}

func ParseViewerRole(raw string) (ViewerRole, error) {
	switch role := ViewerRole(strings.ToLower(strings.TrimSpace(raw))); role {
	case ViewerBuyer, ViewerSeller, ViewerAdmin, ViewerAnonymous:
		return role, nil
	case "":
		return ViewerAnonymous, nil
	default:
		return "", ErrInvalidViewerRole
	}
}

func (v ProductView) Validate() error {
	if strings.TrimSpace(v.ProductID) == "" {
		return ErrProductRequired
	}
	if v.ProductType != ProductItem && v.ProductType != ProductService {
		return ErrInvalidProductType
	}
	if _, err := ParseViewerRole(string(v.ViewerRole)); err != nil {
		return err
	}
	return nil
}

// Sink persists or forwards product views.
type Sink interface {
	StoreView(ctx context.Context, view ProductView) error
}
