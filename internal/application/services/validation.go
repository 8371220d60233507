package services

import (
	"fmt"
	"strings"

	"github.com/mira-ai/mira/internal/domain"
)

// ValidateID checks that an ID is not empty
func ValidateID(id string, entityType string) error {
	if id == "" {
		return domain.NewDomainError(domain.ErrInvalidID, entityType+" ID cannot be empty")
	}
	return nil
}

// ValidateRequired checks that a required string field is not empty
func ValidateRequired(value string, fieldName string) error {
	if value == "" {
		return domain.NewDomainError(domain.ErrInvalidInput, fieldName+" is required")
	}
	return nil
}

// ValidatePositive checks that a number is positive
func ValidatePositive(value int, fieldName string) error {
	if value <= 0 {
		return domain.NewDomainError(domain.ErrInvalidInput, fieldName+" must be positive")
	}
	return nil
}

// ValidateRange checks that a number is within the specified range (inclusive)
func ValidateRange(value int, fieldName string, min, max int) error {
	if value < min {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("%s must be at least %d (got %d)", fieldName, min, value))
	}
	if value > max {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("%s must be at most %d (got %d)", fieldName, max, value))
	}
	return nil
}

// ValidateContinuumIDFormat checks that a continuum ID follows the expected
// format (mc_...)
func ValidateContinuumIDFormat(continuumID string) error {
	if continuumID == "" {
		return domain.NewDomainError(domain.ErrInvalidInput, "continuum ID cannot be empty")
	}
	if !strings.HasPrefix(continuumID, "mc_") {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("continuum ID must start with 'mc_' (got: %s)", continuumID))
	}
	if len(continuumID) < 4 {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("continuum ID is too short (got: %s)", continuumID))
	}
	return nil
}
