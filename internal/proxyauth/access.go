package proxyauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/repository"
)

// Decision is the outcome of one access check. Reason is user-presentable
// and deliberately does not distinguish a missing pod from a denied one
// beyond what the requester is allowed to learn.
type Decision struct {
	HasAccess bool
	Pod       *domain.Pod
	Reason    string
}

const (
	reasonNotFound = "Pod not found"
	reasonDenied   = "You don't have access to this pod"
)

// Checker decides whether a user may reach a pod's services. Decisions are
// evaluated on every request against current ownership and membership;
// nothing here is cached, so revoking access takes effect immediately.
type Checker struct {
	pods   repository.PodRepository
	teams  repository.TeamRepository
	logger *slog.Logger
}

// NewChecker constructs a Checker over the given repositories.
func NewChecker(pods repository.PodRepository, teams repository.TeamRepository, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{pods: pods, teams: teams, logger: logger}
}

// CheckPodAccess grants access to the pod's owner and to members of its
// team. The error return is reserved for infrastructure failures; a
// missing pod or a denied user is a normal Decision.
func (c *Checker) CheckPodAccess(ctx context.Context, userID, podSlug string) (Decision, error) {
	pod, err := c.pods.GetPodBySlug(ctx, podSlug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Decision{Reason: reasonNotFound}, nil
		}
		return Decision{}, fmt.Errorf("look up pod %s: %w", podSlug, err)
	}

	if pod.OwnerID == userID {
		return Decision{HasAccess: true, Pod: pod}, nil
	}

	if pod.TeamID != "" {
		member, err := c.teams.IsTeamMember(ctx, pod.TeamID, userID)
		if err != nil {
			return Decision{}, fmt.Errorf("check membership of %s in team %s: %w", userID, pod.TeamID, err)
		}
		if member {
			return Decision{HasAccess: true, Pod: pod}, nil
		}
	}

	c.logger.Info("pod access denied", "user_id", userID, "pod_slug", podSlug)
	return Decision{Pod: pod, Reason: reasonDenied}, nil
}
