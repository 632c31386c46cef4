package etl

import (
	"errors"
	"fmt"

	"github.com/BartekS5/moviesync/pkg/models"
)

// ErrInvalidRow marks a source row that breaks the extraction contract.
// It is never retried.
var ErrInvalidRow = errors.New("invalid source row")

// ValidateRow checks the fields every indexed document depends on.
func ValidateRow(row models.SourceRow) error {
	if row.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRow)
	}
	if row.Modified.IsZero() {
		return fmt.Errorf("%w: %s has no modified timestamp", ErrInvalidRow, row.ID)
	}
	return nil
}
