package repository

import (
	"context"
	"errors"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileExists reports a create that lost to an existing record.
	ErrProfileExists = errors.New("profile already exists")
)

// ProfileRepository stores user profiles under a single partition key, the user id.
type ProfileRepository interface {
	// GetProfile returns ErrProfileNotFound when no profile exists.
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	// CreateProfile writes only if no record exists for profile.UserID and
	// returns ErrProfileExists otherwise.
	CreateProfile(ctx context.Context, profile *models.UserProfile) error
}
