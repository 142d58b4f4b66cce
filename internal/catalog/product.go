package catalog

import (
	"errors"
	"fmt"
	"strings"

	"storefront/internal/domain"
)

var ErrInvalidProduct = errors.New("invalid product")

// Validate checks the fields the dashboard requires before saving.
func Validate(p domain.Product) error {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"title", p.Title},
		{"category", p.Category},
		{"subcategory", p.Subcategory},
		{"unit", p.Unit},
		{"description", p.Description},
		{"content", p.Content},
		{"imageUrl", p.ImageURL},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	if !p.OriginPrice.IsPositive() {
		errs = append(errs, errors.New("origin_price must be greater than 0"))
	}
	if !p.Price.IsPositive() {
		errs = append(errs, errors.New("price must be greater than 0"))
	}
	if p.Num < 0 {
		errs = append(errs, errors.New("num must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidProduct, errors.Join(errs...))
}

// Normalize shapes a product the way the API stores it: at least one unit
// in stock, is_enabled as 0 or 1, and no blank image URLs or labels.
func Normalize(p domain.Product) domain.Product {
	if p.Num < 1 {
		p.Num = 1
	}
	if p.IsEnabled != 0 {
		p.IsEnabled = 1
	}
	p.Title = strings.TrimSpace(p.Title)
	p.ImageURL = strings.TrimSpace(p.ImageURL)
	p.ImagesURL = trimAll(p.ImagesURL)
	p.Label = trimAll(p.Label)
	p.Flavor = trimAll(p.Flavor)
	return p
}
