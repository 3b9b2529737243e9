package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.TeamRepository = (*Repository)(nil)
	_ repository.PodRepository  = (*Repository)(nil)
)

// IsTeamMember reports whether the user belongs to the team. The users,
// teams, and team_members tables are populated by the dashboard; only this
// membership check reads them here.
func (r *Repository) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM team_members WHERE team_id = $1 AND user_id = $2)`
	row := r.pool.QueryRow(ctx, query, teamID, userID)
	var member bool
	if err := row.Scan(&member); err != nil {
		return false, err
	}
	return member, nil
}

// CreatePod inserts a pod record.
func (r *Repository) CreatePod(ctx context.Context, pod *domain.Pod) error {
	const query = `INSERT INTO pods (id, name, slug, owner_id, team_id, status, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`
	_, err := r.pool.Exec(ctx, query, pod.ID, pod.Name, pod.Slug, pod.OwnerID, pod.TeamID, pod.Status, pod.CreatedAt)
	return err
}

// GetPodByID fetches a pod by identifier.
func (r *Repository) GetPodByID(ctx context.Context, id string) (*domain.Pod, error) {
	const query = `SELECT id, name, slug, owner_id, COALESCE(team_id, ''), status, created_at
		FROM pods WHERE id = $1`
	return r.scanPod(r.pool.QueryRow(ctx, query, id))
}

// GetPodBySlug fetches a pod by its URL slug. Slugs are unique; the proxy
// resolves hostnames through this lookup.
func (r *Repository) GetPodBySlug(ctx context.Context, slug string) (*domain.Pod, error) {
	const query = `SELECT id, name, slug, owner_id, COALESCE(team_id, ''), status, created_at
		FROM pods WHERE slug = $1`
	return r.scanPod(r.pool.QueryRow(ctx, query, slug))
}

// ListPodsByOwner returns pods owned by the user, newest first.
func (r *Repository) ListPodsByOwner(ctx context.Context, ownerID string) ([]domain.Pod, error) {
	const query = `SELECT id, name, slug, owner_id, COALESCE(team_id, ''), status, created_at
		FROM pods WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pods := make([]domain.Pod, 0)
	for rows.Next() {
		var p domain.Pod
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.OwnerID, &p.TeamID, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		pods = append(pods, p)
	}
	return pods, rows.Err()
}

// UpdatePodStatus transitions a pod's lifecycle status.
func (r *Repository) UpdatePodStatus(ctx context.Context, id string, status domain.PodStatus) error {
	const query = `UPDATE pods SET status = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeletePod removes a pod record.
func (r *Repository) DeletePod(ctx context.Context, id string) error {
	const query = `DELETE FROM pods WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *Repository) scanPod(row pgx.Row) (*domain.Pod, error) {
	var p domain.Pod
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.OwnerID, &p.TeamID, &p.Status, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
