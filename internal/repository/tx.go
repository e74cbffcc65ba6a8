package repository

import (
	"context"

	"gorm.io/gorm"
)

// Transactor runs work in one database transaction. The callback must use
// tx, or repositories bound to it with WithTx, for every query.
type Transactor struct {
	db *gorm.DB
}

func NewTransactor(db *gorm.DB) *Transactor {
	return &Transactor{db: db}
}

func (t *Transactor) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(fn)
}
