// Package entity provides fields and scopes shared by persistent models.
// Models embed the parts they need:
//
//	type Order struct {
//	    entity.Identity
//	    entity.Timestamps
//	    entity.SoftDelete
//
//	    Status string
//	    Lines  []Line `gorm:"serializer:codec"`
//	}
package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Identity is a UUID primary key. The key is stored as its 36 character
// string form so every supported dialect can hold it.
type Identity struct {
	ID uuid.UUID `gorm:"primaryKey;size:36"`
}

// BeforeCreate assigns a random ID when none is set.
// A model that defines its own BeforeCreate must call this one.
func (i *Identity) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// Timestamps records creation and last update times. GORM fills both on
// create, with the same instant, and refreshes UpdatedAt on update.
type Timestamps struct {
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// IsNew reports whether the row was never updated after its creation.
func (t Timestamps) IsNew() bool {
	return t.CreatedAt.Equal(t.UpdatedAt)
}

// SoftDelete marks rows as deleted instead of removing them.
type SoftDelete struct {
	Tombstone bool `gorm:"not null;default:false;index"`
}

// IsDeleted reports whether the row carries a tombstone.
func (s SoftDelete) IsDeleted() bool {
	return s.Tombstone
}

// NotDeleted reports whether the row is live.
func (s SoftDelete) NotDeleted() bool {
	return !s.Tombstone
}

// MarkDeleted sets the tombstone. The change is persisted by the next save.
func (s *SoftDelete) MarkDeleted() {
	s.Tombstone = true
}

// Alive restricts a query to rows without a tombstone.
func Alive(tx *gorm.DB) *gorm.DB {
	return tx.Where(tombstoneIs(false))
}

// Deleted restricts a query to rows with a tombstone.
func Deleted(tx *gorm.DB) *gorm.DB {
	return tx.Where(tombstoneIs(true))
}

func tombstoneIs(value bool) clause.Eq {
	return clause.Eq{
		Column: clause.Column{Table: clause.CurrentTable, Name: "tombstone"},
		Value:  value,
	}
}
