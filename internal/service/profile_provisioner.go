package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/events"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

// ProfileProvisioner creates the default profile for a user exactly once.
// Concurrent calls in one process share a single store round trip; races
// between processes are settled by the store's conditional create.
type ProfileProvisioner struct {
	repo     repository.ProfileRepository
	recorder *events.Recorder
	logger   *zap.Logger
	group    singleflight.Group
	now      func() time.Time
	newID    func() string
}

func NewProfileProvisioner(repo repository.ProfileRepository, recorder *events.Recorder, logger *zap.Logger) *ProfileProvisioner {
	return &ProfileProvisioner{
		repo:     repo,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// DefaultProfile is the profile written at first login: one placeholder
// child and no consent.
func DefaultProfile(userID, childID string, now time.Time) *models.UserProfile {
	return &models.UserProfile{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Children: []models.Child{
			{
				ChildID:    childID,
				Name:       models.DefaultChildName,
				SchoolCity: models.DefaultSchoolCity,
			},
		},
		ConsentGiven: false,
	}
}

func (p *ProfileProvisioner) EnsureProfile(ctx context.Context, userID string) error {
	_, err, _ := p.group.Do(userID, func() (interface{}, error) {
		return nil, p.ensure(ctx, userID)
	})
	return err
}

func (p *ProfileProvisioner) ensure(ctx context.Context, userID string) error {
	_, err := p.repo.GetProfile(ctx, userID)
	if err == nil {
		p.logger.Debug("Profile already provisioned", util.String("user_id", userID))
		return nil
	}
	if !errors.Is(err, repository.ErrProfileNotFound) {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	profile := DefaultProfile(userID, p.newID(), p.now().UTC())
	if err := p.repo.CreateProfile(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrProfileExists) {
			p.logger.Info("Profile created concurrently by another request", util.String("user_id", userID))
			return nil
		}
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	p.logger.Info("Default profile provisioned", util.String("user_id", userID))
	p.recorder.Record(ctx, events.Record{Type: events.ProfileProvisioned, UserName: userID})
	return nil
}
