package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

type ProfileRepository struct {
	client *ScyllaClient
	logger *zap.Logger
}

func NewProfileRepository(client *ScyllaClient, logger *zap.Logger) *ProfileRepository {
	return &ProfileRepository{client: client, logger: logger}
}

// profileRow is the column layout of user_profiles. Children are stored as a
// JSON text column.
type profileRow struct {
	UserID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Children     string
	ConsentGiven bool
}

func toRow(p *models.UserProfile) (*profileRow, error) {
	children := p.Children
	if children == nil {
		children = []models.Child{}
	}
	raw, err := json.Marshal(children)
	if err != nil {
		return nil, fmt.Errorf("failed to encode children: %w", err)
	}
	return &profileRow{
		UserID:       p.UserID,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		Children:     string(raw),
		ConsentGiven: p.ConsentGiven,
	}, nil
}

func (r *profileRow) toProfile() (*models.UserProfile, error) {
	profile := &models.UserProfile{
		UserID:       r.UserID,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		ConsentGiven: r.ConsentGiven,
	}
	if r.Children != "" {
		if err := json.Unmarshal([]byte(r.Children), &profile.Children); err != nil {
			return nil, fmt.Errorf("failed to decode children: %w", err)
		}
	}
	return profile, nil
}

func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var row profileRow
	query := r.client.Query(ctx, r.client.Prepared.GetProfile, userID)
	err := r.client.ScanWithRetry(ctx, query,
		&row.UserID, &row.CreatedAt, &row.UpdatedAt, &row.Children, &row.ConsentGiven)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrProfileNotFound
		}
		r.logger.Error("Failed to get profile",
			util.String("user_id", userID),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return row.toProfile()
}

// CreateProfile is a lightweight transaction; when a row already exists the
// insert is not applied and ErrProfileExists is returned.
func (r *ProfileRepository) CreateProfile(ctx context.Context, profile *models.UserProfile) error {
	row, err := toRow(profile)
	if err != nil {
		return err
	}

	existing := map[string]interface{}{}
	applied, err := r.client.Query(ctx, r.client.Prepared.CreateProfileIfNone,
		row.UserID, row.CreatedAt, row.UpdatedAt, row.Children, row.ConsentGiven).
		MapScanCAS(existing)
	if err != nil {
		r.logger.Error("Failed to create profile",
			util.String("user_id", profile.UserID),
			util.ErrorField(err))
		return fmt.Errorf("failed to create profile: %w", err)
	}
	if !applied {
		return repository.ErrProfileExists
	}

	r.logger.Info("Profile created", util.String("user_id", profile.UserID))
	return nil
}
