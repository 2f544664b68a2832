package claims

import (
	"context"
	"io"
	"time"

	"github.com/lexdesk/claims_backend/metrics"
	"github.com/lexdesk/claims_backend/models"
	"github.com/sirupsen/logrus"
)

// BlobStore stores claim files and hands out short-lived read URLs.
type BlobStore interface {
	// Upload stores r under category/storageName and returns the reference.
	Upload(ctx context.Context, r io.Reader, contentType, category, storageName string) (string, error)
	SignedURL(ctx context.Context, ref string) (string, error)
}

// Repository is the persistence the workflow needs. *models.ClaimRepository satisfies it.
type Repository interface {
	Create(ctx context.Context, claim *models.Claim) error
	Save(ctx context.Context, claim *models.Claim) error
	FindByTrackingCode(ctx context.Context, code string) (*models.Claim, error)
	FindByID(ctx context.Context, id string) (*models.Claim, error)
	FindAll(ctx context.Context, status *models.ClaimStatus) ([]*models.Claim, error)
}

type IntakeDetails struct {
	FullName     string
	NationalID   string
	Email        string
	TrackingCode string
	CaseType     string
	CaseSubtype  string
}

// Notifier delivers client and staff messages. Calls are made from background tasks.
type Notifier interface {
	NotifyIntakeClient(ctx context.Context, email, fullName, trackingCode string) error
	NotifyIntakeStaff(ctx context.Context, details IntakeDetails) error
	NotifyStatusChange(ctx context.Context, email, fullName string, status models.ClaimStatus) error
}

type Deps struct {
	Store    BlobStore
	Repo     Repository
	Notifier Notifier
	Tasks    *TaskRunner
	Metrics  *metrics.Recorder
	Logger   *logrus.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
