package owners

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/pkg/db/models"
)

// ErrNotFound is returned when the owner is unknown to the directory.
var ErrNotFound = errors.New("owner not found")

// Contact is who a finance notification goes to.
type Contact struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Reachable reports whether the contact has an address to send to.
func (c Contact) Reachable() bool {
	return strings.TrimSpace(c.Email) != ""
}

// Directory resolves owners to contact details. It is read-only.
type Directory interface {
	Lookup(ctx context.Context, ownerID uuid.UUID) (*Contact, error)
}

type directory struct {
	db *gorm.DB
}

// NewDirectory reads contacts from the identity service's users table.
func NewDirectory(db *gorm.DB) (Directory, error) {
	if db == nil {
		return nil, fmt.Errorf("owners db required")
	}
	return &directory{db: db}, nil
}

func (d *directory) Lookup(ctx context.Context, ownerID uuid.UUID) (*Contact, error) {
	var owner models.Owner
	if err := d.db.WithContext(ctx).Where("id = ?", ownerID).First(&owner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup owner %s: %w", ownerID, err)
	}
	return &Contact{
		ID:    owner.ID,
		Name:  strings.TrimSpace(strings.Join([]string{owner.FirstName, owner.LastName}, " ")),
		Email: strings.TrimSpace(owner.Email),
	}, nil
}
