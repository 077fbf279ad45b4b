package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("leads: lead not found")
	ErrInvalidStatus = errors.New("leads: invalid status")
)

// Store backs the dashboard lead list.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// List returns a project's leads, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, projectID uint64, status string) ([]Lead, error) {
	query := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if status = strings.TrimSpace(status); status != "" {
		if _, ok := validStatuses[status]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		query = query.Where("status = ?", status)
	}

	var list []Lead
	if err := query.Order("created_at DESC").Order("id DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("leads: list: %w", err)
	}
	return list, nil
}

func (s *Store) Get(ctx context.Context, projectID, leadID uint64) (*Lead, error) {
	var lead Lead
	err := s.db.WithContext(ctx).Where("id = ? AND project_id = ?", leadID, projectID).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leads: get: %w", err)
	}
	return &lead, nil
}

func (s *Store) UpdateStatus(ctx context.Context, projectID, leadID uint64, status string) (*Lead, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if _, ok := validStatuses[status]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	lead, err := s.Get(ctx, projectID, leadID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(lead).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("leads: update status: %w", err)
	}
	lead.Status = status
	return lead, nil
}

func (s *Store) Delete(ctx context.Context, projectID, leadID uint64) error {
	result := s.db.WithContext(ctx).Where("id = ? AND project_id = ?", leadID, projectID).Delete(&Lead{})
	if result.Error != nil {
		return fmt.Errorf("leads: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
