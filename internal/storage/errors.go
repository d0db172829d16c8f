package storage

import (
	"errors"
	"fmt"

	"ghostwall/internal/models"
)

// ErrInvalidRecord is returned when a record fails validation before it is written.
var ErrInvalidRecord = errors.New("invalid visit record")

// ErrNotTerminal is returned when Append or Resolve is given a non-final verdict.
var ErrNotTerminal = errors.New("visitor type is not terminal")

// ErrNotProvisional is returned when BeginVisit is given a terminal record.
var ErrNotProvisional = errors.New("visit record is not unclassified")

func validateTerminal(record *models.VisitRecord) error {
	if record == nil {
		return ErrInvalidRecord
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if !record.VisitorType.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, record.VisitorType)
	}
	return nil
}

func validateProvisional(record *models.VisitRecord) error {
	if record == nil {
		return ErrInvalidRecord
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if record.VisitorType != models.VisitorUnclassified {
		return fmt.Errorf("%w: %s", ErrNotProvisional, record.VisitorType)
	}
	return nil
}
