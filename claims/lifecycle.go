package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/models"
	"github.com/lexdesk/claims_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// StatusView is the public projection returned for a tracking code.
type StatusView struct {
	TrackingCode string             `json:"trackingCode"`
	Status       models.ClaimStatus `json:"status"`
	CreatedAt    time.Time          `json:"createdAt"`
}

type Lifecycle struct {
	deps   Deps
	tasks  *TaskRunner
	logger *logrus.Logger
}

func NewLifecycle(deps Deps) *Lifecycle {
	logger := deps.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	tasks := deps.Tasks
	if tasks == nil {
		tasks = NewTaskRunner(logger, deps.Metrics, DefaultNotifyTimeout)
	}
	return &Lifecycle{deps: deps, tasks: tasks, logger: logger}
}

func (l *Lifecycle) Lookup(ctx context.Context, code string) (*StatusView, error) {
	ctx, span := tracer.Start(ctx, "claims.Lookup")
	defer span.End()

	code = NormalizeTrackingCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	claim, err := l.deps.Repo.FindByTrackingCode(ctx, code)
	if err != nil {
		return nil, repoError(err)
	}
	return &StatusView{
		TrackingCode: claim.TrackingCode,
		Status:       claim.Status,
		CreatedAt:    claim.CreatedAt,
	}, nil
}

// List returns claims newest first; a nil status lists everything.
func (l *Lifecycle) List(ctx context.Context, status *models.ClaimStatus) ([]*models.Claim, error) {
	ctx, span := tracer.Start(ctx, "claims.List")
	defer span.End()

	if status != nil && !status.IsValid() {
		return nil, newValidationError("status", "must be one of Received, InProgress, Finalized")
	}
	claims, err := l.deps.Repo.FindAll(ctx, status)
	if err != nil {
		return nil, repoError(err)
	}
	return claims, nil
}

func (l *Lifecycle) Get(ctx context.Context, id string) (*models.Claim, error) {
	ctx, span := tracer.Start(ctx, "claims.Get")
	defer span.End()

	claim, err := l.deps.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err)
	}
	return claim, nil
}

// UpdateStatus overwrites the status whatever the current value is and
// queues a status notification for the client.
func (l *Lifecycle) UpdateStatus(ctx context.Context, id string, status models.ClaimStatus) (*models.Claim, error) {
	ctx, span := tracer.Start(ctx, "claims.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("claim.id", id), attribute.String("claim.status", string(status)))

	if !status.IsValid() {
		return nil, newValidationError("status", "must be one of Received, InProgress, Finalized")
	}
	claim, err := l.deps.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err)
	}

	previous := claim.Status
	claim.Status = status
	if err := l.deps.Repo.Save(ctx, claim); err != nil {
		return nil, repoError(err)
	}
	l.deps.Metrics.RecordStatusUpdate(string(status))

	l.logger.WithFields(logrus.Fields{
		"claim_id":      claim.ID,
		"tracking_code": claim.TrackingCode,
		"from":          previous,
		"to":            status,
	}).Info("[claims.status]")

	if l.deps.Notifier != nil {
		email, name := claim.Email, claim.FullName
		l.tasks.Submit(ctx, "status_change", logrus.Fields{"claim_id": claim.ID, "status": status}, func(ctx context.Context) error {
			return l.deps.Notifier.NotifyStatusChange(ctx, email, name, status)
		})
	}
	return claim, nil
}

// ResolveFileURL returns a short-lived read URL for one of the claim's files.
func (l *Lifecycle) ResolveFileURL(ctx context.Context, id string, roleName string) (string, error) {
	ctx, span := tracer.Start(ctx, "claims.ResolveFileURL")
	defer span.End()

	claim, err := l.deps.Repo.FindByID(ctx, id)
	if err != nil {
		return "", repoError(err)
	}
	role, err := models.ParseFileRole(roleName)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileRole, roleName)
	}
	ref, ok := claim.FileRef(role)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotPresent, role.Key())
	}
	url, err := l.deps.Store.SignedURL(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%w: sign %s: %w", ErrUpstreamFailure, role, err)
	}
	return url, nil
}

func repoError(err error) error {
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
}
