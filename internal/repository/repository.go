package repository

import (
	"context"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
)

// TeamRepository answers membership questions. Team and user records are
// written by the dashboard; this side only reads them for authorization.
type TeamRepository interface {
	IsTeamMember(ctx context.Context, teamID, userID string) (bool, error)
}

// PodRepository persists pod records and their lifecycle status.
type PodRepository interface {
	CreatePod(ctx context.Context, pod *domain.Pod) error
	GetPodByID(ctx context.Context, id string) (*domain.Pod, error)
	GetPodBySlug(ctx context.Context, slug string) (*domain.Pod, error)
	ListPodsByOwner(ctx context.Context, ownerID string) ([]domain.Pod, error)
	UpdatePodStatus(ctx context.Context, id string, status domain.PodStatus) error
	DeletePod(ctx context.Context, id string) error
}
