package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"agency-chat/internal/models"
)

var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepository reads the shared profiles table.
type ProfileRepository interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	GetProfiles(ctx context.Context, ids []string) ([]models.Profile, error)
	SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]models.MentionCandidate, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

// ProfileRepo is a sqlx implementation of ProfileRepository.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// GetProfile fetches one profile.
func (r *ProfileRepo) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	var p models.Profile
	err := r.db.GetContext(ctx, &p, `SELECT id, display_name, avatar_url, locale, last_seen_at FROM profiles WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrProfileNotFound
	}
	return p, err
}

// GetProfiles fetches a batch of profiles. Unknown ids are skipped.
func (r *ProfileRepo) GetProfiles(ctx context.Context, ids []string) ([]models.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var profiles []models.Profile
	err := r.db.SelectContext(ctx, &profiles, `SELECT id, display_name, avatar_url, locale, last_seen_at FROM profiles WHERE id = ANY($1)`, pq.Array(ids))
	return profiles, err
}

// SearchProfiles does a case-insensitive substring match on display names.
// An empty query matches everyone.
func (r *ProfileRepo) SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]models.MentionCandidate, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	candidates := []models.MentionCandidate{}
	err := r.db.SelectContext(ctx, &candidates, `SELECT id, display_name, avatar_url FROM profiles
        WHERE id <> $1 AND lower(display_name) LIKE $2 ESCAPE '\'
        ORDER BY display_name ASC, id ASC
        LIMIT $3`, excludeID, pattern, limit)
	return candidates, err
}

// TouchLastSeen records when the profile was last connected.
func (r *ProfileRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE profiles SET last_seen_at=$2 WHERE id=$1`, id, at)
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
