package diagram

import (
	"collaborative-diagram-editor/internal/domain"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DiagramRepository defines the interface for diagram and grant data
// access. Grant lookups return (nil, nil) when no record exists.
type DiagramRepository interface {
	Create(ctx context.Context, d *domain.Diagram) error
	Save(ctx context.Context, id string, name string, graph json.RawMessage) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*domain.Diagram, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Diagram, error)

	UpsertGrant(ctx context.Context, g *domain.Grant) error
	DeleteGrant(ctx context.Context, diagramID, email string) error
	FindGrant(ctx context.Context, diagramID, email string) (*domain.Grant, error)
	FindGrantByLower(ctx context.Context, diagramID, emailLower string) (*domain.Grant, error)
	ListGrantsByEmail(ctx context.Context, email string) ([]domain.Grant, error)
	ListGrantsByEmailLower(ctx context.Context, emailLower string) ([]domain.Grant, error)
	ListGrantsByDiagram(ctx context.Context, diagramID string) ([]domain.Grant, error)
}

type DiagramRepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new diagram repository
func NewRepository(db *gorm.DB) DiagramRepository {
	return &DiagramRepositoryImpl{db: db}
}

// Create assigns the store id and timestamps and inserts the record
func (r *DiagramRepositoryImpl) Create(ctx context.Context, d *domain.Diagram) error {
	d.ID = uuid.NewString()
	d.CreatedAt = time.Now().UTC() // Use UTC for consistency
	d.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(d).Error
}

// Save writes the name and graph payload and refreshes the update
// timestamp, the sole ordering key for presentation
func (r *DiagramRepositoryImpl) Save(ctx context.Context, id string, name string, graph json.RawMessage) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Diagram{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":       name,
			"graph":      graph,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *DiagramRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Diagram{}).Error
}

func (r *DiagramRepositoryImpl) FindByID(ctx context.Context, id string) (*domain.Diagram, error) {
	var d domain.Diagram
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DiagramRepositoryImpl) ListByOwner(ctx context.Context, ownerID string) ([]domain.Diagram, error) {
	var diagrams []domain.Diagram
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&diagrams).Error
	return diagrams, err
}

// UpsertGrant creates the grant or overwrites the access level of an
// existing one for the same diagram and email
func (r *DiagramRepositoryImpl) UpsertGrant(ctx context.Context, g *domain.Grant) error {
	var existing domain.Grant
	err := r.db.WithContext(ctx).
		Where("diagram_id = ? AND email = ?", g.DiagramID, g.Email).
		First(&existing).Error

	now := time.Now().UTC()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		g.CreatedAt = now
		g.UpdatedAt = now
		return r.db.WithContext(ctx).Create(g).Error
	}
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Model(&existing).
		Updates(map[string]any{
			"access":      g.Access,
			"email_lower": g.EmailLower,
			"updated_at":  now,
		}).Error
}

func (r *DiagramRepositoryImpl) DeleteGrant(ctx context.Context, diagramID, email string) error {
	return r.db.WithContext(ctx).
		Where("diagram_id = ? AND email = ?", diagramID, email).
		Delete(&domain.Grant{}).Error
}

func (r *DiagramRepositoryImpl) FindGrant(ctx context.Context, diagramID, email string) (*domain.Grant, error) {
	var g domain.Grant
	err := r.db.WithContext(ctx).
		Where("diagram_id = ? AND email = ?", diagramID, email).
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *DiagramRepositoryImpl) FindGrantByLower(ctx context.Context, diagramID, emailLower string) (*domain.Grant, error) {
	var g domain.Grant
	err := r.db.WithContext(ctx).
		Where("diagram_id = ? AND email_lower = ?", diagramID, emailLower).
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *DiagramRepositoryImpl) ListGrantsByEmail(ctx context.Context, email string) ([]domain.Grant, error) {
	var grants []domain.Grant
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Find(&grants).Error
	return grants, err
}

func (r *DiagramRepositoryImpl) ListGrantsByEmailLower(ctx context.Context, emailLower string) ([]domain.Grant, error) {
	var grants []domain.Grant
	err := r.db.WithContext(ctx).
		Where("email_lower = ?", emailLower).
		Find(&grants).Error
	return grants, err
}

func (r *DiagramRepositoryImpl) ListGrantsByDiagram(ctx context.Context, diagramID string) ([]domain.Grant, error) {
	var grants []domain.Grant
	err := r.db.WithContext(ctx).
		Where("diagram_id = ?", diagramID).
		Find(&grants).Error
	return grants, err
}
