package services

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/temcen/eventrec/pkg/models"
)

var (
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(cel.Variable("item", cel.DynType))
	})
	return celEnv, celEnvErr
}

// itemFilter is the AND of all structured filters and the optional expression.
type itemFilter struct {
	filters models.Filters
	program cel.Program
}

// compileFilters validates filters and prepares the expression program.
// A malformed expression or an inverted range is a validation error.
func compileFilters(f models.Filters) (*itemFilter, error) {
	const op = "filters"
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return nil, validationError(op, "min_price %.2f exceeds max_price %.2f", *f.MinPrice, *f.MaxPrice)
	}
	if f.StartsAfter != nil && f.StartsBefore != nil && f.StartsAfter.After(*f.StartsBefore) {
		return nil, validationError(op, "starts_after is later than starts_before")
	}

	filter := &itemFilter{filters: f}
	if strings.TrimSpace(f.Expression) == "" {
		return filter, nil
	}

	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	ast, issues := env.Compile(f.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, validationError(op, "invalid expression: %v", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, validationError(op, "invalid expression: %v", err)
	}
	filter.program = prg
	return filter, nil
}

func (f *itemFilter) Match(item models.Item) bool {
	if f == nil {
		return true
	}
	c := f.filters

	if c.Category != "" && normalizeValue(item.Category) != normalizeValue(c.Category) {
		return false
	}
	if c.Location != "" && !strings.Contains(normalizeValue(item.Location), normalizeValue(c.Location)) {
		return false
	}
	if c.MinPrice != nil || c.MaxPrice != nil {
		if item.Price == nil {
			return false
		}
		if c.MinPrice != nil && *item.Price < *c.MinPrice {
			return false
		}
		if c.MaxPrice != nil && *item.Price > *c.MaxPrice {
			return false
		}
	}
	if c.StartsAfter != nil || c.StartsBefore != nil {
		if item.StartsAt == nil {
			return false
		}
		if c.StartsAfter != nil && item.StartsAt.Before(*c.StartsAfter) {
			return false
		}
		if c.StartsBefore != nil && item.StartsAt.After(*c.StartsBefore) {
			return false
		}
	}

	if f.program == nil {
		return true
	}
	out, _, err := f.program.Eval(map[string]interface{}{"item": celItem(item)})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

func celItem(item models.Item) map[string]interface{} {
	price := -1.0
	if item.Price != nil {
		price = *item.Price
	}
	var startsAt int64
	if item.StartsAt != nil {
		startsAt = item.StartsAt.Unix()
	}
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]interface{}{
		"id":          item.ID.String(),
		"title":       item.Title,
		"category":    item.Category,
		"location":    item.Location,
		"price":       price,
		"price_range": item.PriceRange(),
		"capacity":    int64(item.Capacity),
		"tags":        tags,
		"starts_at":   startsAt,
		"time_slot":   item.TimeSlot(),
	}
}
