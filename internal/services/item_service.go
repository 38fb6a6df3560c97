package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/pkg/models"
)

// ItemService is the write path into the item catalog. Category, location
// and tags are stored trimmed; matching normalizes them again on read.
type ItemService struct {
	catalog ItemCatalog
	writer  ItemWriter
	logger  *logrus.Logger
	now     func() time.Time
}

func NewItemService(catalog ItemCatalog, writer ItemWriter, logger *logrus.Logger) *ItemService {
	return &ItemService{
		catalog: catalog,
		writer:  writer,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *ItemService) UpsertItem(ctx context.Context, req *models.UpsertItemRequest) (*models.Item, error) {
	const op = "upsert item"
	if req == nil {
		return nil, validationError(op, "request is required")
	}
	if s.writer == nil {
		return nil, conflictError(op, "item catalog is read-only")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, validationError(op, "title is required")
	}
	if req.Price != nil && *req.Price < 0 {
		return nil, validationError(op, "price must not be negative")
	}
	if req.Capacity < 0 {
		return nil, validationError(op, "capacity must not be negative")
	}
	if req.StartsAt != nil && req.EndsAt != nil && req.EndsAt.Before(*req.StartsAt) {
		return nil, validationError(op, "ends_at must not be before starts_at")
	}

	item := &models.Item{
		ID:          uuid.New(),
		Title:       title,
		Description: req.Description,
		Category:    strings.TrimSpace(req.Category),
		Location:    strings.TrimSpace(req.Location),
		Price:       req.Price,
		Capacity:    req.Capacity,
		Tags:        trimTags(req.Tags),
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		CreatedAt:   s.now(),
		Active:      true,
	}
	if req.Active != nil {
		item.Active = *req.Active
	}

	operation := "create"
	if req.ID != nil && *req.ID != uuid.Nil {
		item.ID = *req.ID
		existing, err := s.catalog.GetItems(ctx, []uuid.UUID{item.ID})
		if err != nil {
			return nil, fmt.Errorf("failed to load item %s: %w", item.ID, err)
		}
		if prev, ok := existing[item.ID]; ok {
			item.CreatedAt = prev.CreatedAt
			operation = "update"
		}
	}

	if err := s.writer.UpsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to store item: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"item_id":   item.ID,
		"category":  item.Category,
		"operation": operation,
	}).Info("Catalog item stored")
	return item, nil
}

func (s *ItemService) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	items, err := s.catalog.GetItems(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s: %w", id, err)
	}
	item, ok := items[id]
	if !ok {
		return nil, notFoundError("get item", "item %s not found", id)
	}
	return &item, nil
}

func trimTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
