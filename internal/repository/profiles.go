package repository

import (
	"context"
	"errors"

	"festtix/internal/backend"
	"festtix/internal/models"
)

type ProfileRepository struct {
	ds backend.DataService
}

func NewProfileRepository(ds backend.DataService) *ProfileRepository {
	return &ProfileRepository{ds: ds}
}

func decodeProfile(row backend.Row) (*models.Profile, error) {
	r := readRow(backend.TableProfiles, row)
	profile := &models.Profile{
		ID:        r.String("id", true),
		Email:     r.String("email", false),
		Name:      r.String("name", false),
		Role:      r.String("role", false),
		CreatedAt: r.Time("created_at", false),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if profile.Role != models.RoleAdmin {
		profile.Role = models.RoleUser
	}
	return profile, nil
}

// GetByID returns nil, nil when the profile does not exist
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	rows, err := r.ds.Select(ctx, backend.TableProfiles, backend.Query{
		Filter: backend.Filter{"id": id},
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return decodeProfile(rows[0])
}

// Ensure returns the profile, creating it with role user on first sight
func (r *ProfileRepository) Ensure(ctx context.Context, id string) (*models.Profile, error) {
	profile, err := r.GetByID(ctx, id)
	if err != nil || profile != nil {
		return profile, err
	}

	row, err := r.ds.Insert(ctx, backend.TableProfiles, backend.Row{
		"id":   id,
		"name": "User",
		"role": models.RoleUser,
	})
	if backend.IsConstraint(err) {
		// created concurrently by another request
		return r.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeProfile(row)
}

// SetRole is used by the seeder to promote administrators
func (r *ProfileRepository) SetRole(ctx context.Context, id, role string) (*models.Profile, error) {
	if _, err := r.Ensure(ctx, id); err != nil {
		return nil, err
	}
	row, err := r.ds.Update(ctx, backend.TableProfiles, id, backend.Row{"role": role})
	if errors.Is(err, backend.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeProfile(row)
}

// ListIDs returns every profile id, for broadcasts
func (r *ProfileRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.ds.Select(ctx, backend.TableProfiles, backend.Query{
		Order: &backend.Order{Column: "id"},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		rr := readRow(backend.TableProfiles, row)
		id := rr.String("id", true)
		if err := rr.Err(); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
