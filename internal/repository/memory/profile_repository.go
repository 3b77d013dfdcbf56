package memory

import (
	"context"
	"sync"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository"
)

// ProfileRepository keeps profiles in process memory, for the dev server and tests.
type ProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]models.UserProfile
}

func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{profiles: make(map[string]models.UserProfile)}
}

func (r *ProfileRepository) GetProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[userID]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	return clone(p), nil
}

func (r *ProfileRepository) CreateProfile(_ context.Context, profile *models.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[profile.UserID]; exists {
		return repository.ErrProfileExists
	}
	r.profiles[profile.UserID] = *clone(*profile)
	return nil
}

// Count returns the number of stored profiles.
func (r *ProfileRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

func clone(p models.UserProfile) *models.UserProfile {
	p.Children = append([]models.Child(nil), p.Children...)
	return &p
}
