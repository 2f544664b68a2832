package claims

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/lexdesk/claims_backend/claims")

const (
	DefaultUploadTimeout = 60 * time.Second
	DefaultCodeAttempts  = 3
)

// File is one submitted upload. Open may be called more than once.
type File struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

func (f *File) Header() FileHeader {
	return FileHeader{Filename: f.Filename, ContentType: f.ContentType, Size: f.Size}
}

type Submission struct {
	FullName    string `json:"fullName" validate:"required,min=3,max=255,personname"`
	NationalID  string `json:"nationalId" validate:"required,number,min=7,max=8"`
	Email       string `json:"email" validate:"required,email,max=255"`
	CaseType    string `json:"caseType" validate:"max=100"`
	CaseSubtype string `json:"caseSubtype" validate:"max=100"`

	Files map[models.FileRole]*File `json:"-" validate:"-"`
}

type SubmitResult struct {
	TrackingCode string `json:"trackingCode"`
}

type IntakeConfig struct {
	// UploadTimeout bounds each single upload.
	UploadTimeout time.Duration
	// CodeAttempts is how many tracking codes are tried before giving up on a
	// uniqueness conflict. 1 disables regeneration.
	CodeAttempts int
	SniffContent bool
}

type Intake struct {
	deps    Deps
	cfg     IntakeConfig
	fields  *validator.Validate
	files   FileValidator
	newCode func() (string, error)
	tasks   *TaskRunner
	logger  *logrus.Logger
}

func NewIntake(deps Deps, cfg IntakeConfig) *Intake {
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.CodeAttempts <= 0 {
		cfg.CodeAttempts = DefaultCodeAttempts
	}
	logger := deps.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	tasks := deps.Tasks
	if tasks == nil {
		tasks = NewTaskRunner(logger, deps.Metrics, DefaultNotifyTimeout)
	}
	return &Intake{
		deps:    deps,
		cfg:     cfg,
		fields:  newFieldValidator(),
		files:   FileValidator{SniffContent: cfg.SniffContent},
		newCode: NewTrackingCode,
		tasks:   tasks,
		logger:  logger,
	}
}

// Submit validates the submission, stores its files, persists the claim and
// queues the client and staff notifications. Nothing is uploaded unless every
// check passes; blobs stored before a later failure are left in place.
func (in *Intake) Submit(ctx context.Context, sub *Submission) (result *SubmitResult, err error) {
	ctx, span := tracer.Start(ctx, "claims.Submit")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		in.deps.Metrics.RecordIntake(err)
	}()

	if sub == nil {
		return nil, newValidationError("submission", "is required")
	}
	if err := validateFields(in.fields, sub); err != nil {
		return nil, err
	}
	for role := range sub.Files {
		if !role.IsValid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFileRole, role.Key())
		}
	}
	for _, role := range models.MandatoryFileRoles() {
		if f := sub.Files[role]; f == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequiredFile, role.Key())
		}
	}
	for _, role := range models.AllFileRoles() {
		f := sub.Files[role]
		if f == nil {
			continue
		}
		if err := in.files.Validate(f); err != nil {
			return nil, fmt.Errorf("%s: %w", role.Key(), err)
		}
	}

	code, err := in.newCode()
	if err != nil {
		return nil, fmt.Errorf("%w: tracking code: %w", ErrUpstreamFailure, err)
	}
	captured := in.deps.now().UnixMilli()

	claim := &models.Claim{
		ID:           uuid.NewString(),
		FullName:     sub.FullName,
		NationalID:   sub.NationalID,
		Email:        sub.Email,
		TrackingCode: code,
		Status:       models.ClaimStatusReceived,
		CaseType:     sub.CaseType,
		CaseSubtype:  sub.CaseSubtype,
	}
	span.SetAttributes(attribute.String("claim.id", claim.ID))

	mandatory := models.MandatoryFileRoles()
	refs := make([]string, len(mandatory))
	// A failed upload does not cancel its siblings; each one is bounded by
	// UploadTimeout and the first error wins.
	var g errgroup.Group
	for i, role := range mandatory {
		g.Go(func() error {
			ref, err := in.upload(ctx, sub.NationalID, role, sub.Files[role], captured)
			if err != nil {
				return err
			}
			refs[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, role := range mandatory {
		claim.SetFileRef(role, refs[i])
	}

	for _, role := range models.OptionalFileRoles() {
		f := sub.Files[role]
		if f == nil {
			continue
		}
		ref, err := in.upload(ctx, sub.NationalID, role, f, captured)
		if err != nil {
			return nil, err
		}
		claim.SetFileRef(role, ref)
	}

	if err := in.persist(ctx, claim); err != nil {
		return nil, err
	}

	in.logger.WithFields(logrus.Fields{
		"claim_id":      claim.ID,
		"tracking_code": claim.TrackingCode,
		"files":         len(claim.FileRefs()),
	}).Info("[claims.submit]")

	in.notifyIntake(ctx, claim)
	return &SubmitResult{TrackingCode: claim.TrackingCode}, nil
}

func (in *Intake) upload(ctx context.Context, nationalID string, role models.FileRole, f *File, captured int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, in.cfg.UploadTimeout)
	defer cancel()

	start := time.Now()
	name := StorageName(nationalID, role, captured, f.Filename, f.ContentType)

	rc, err := f.Open()
	if err != nil {
		in.deps.Metrics.RecordUpload(role.String(), time.Since(start), 0, err)
		return "", fmt.Errorf("%w: open %s: %w", ErrUpstreamFailure, role, err)
	}
	defer rc.Close()

	ref, err := in.deps.Store.Upload(ctx, rc, normalizeContentType(f.ContentType), role.String(), name)
	in.deps.Metrics.RecordUpload(role.String(), time.Since(start), f.Size, err)
	if err != nil {
		return "", fmt.Errorf("%w: upload %s: %w", ErrUpstreamFailure, role, err)
	}
	return ref, nil
}

// persist creates the record, regenerating the tracking code on a uniqueness
// conflict up to CodeAttempts times. Stored file names do not embed the code,
// so a retry never needs new uploads.
func (in *Intake) persist(ctx context.Context, claim *models.Claim) error {
	for attempt := 1; ; attempt++ {
		err := in.deps.Repo.Create(ctx, claim)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrDuplicateTrackingCode) {
			return fmt.Errorf("%w: persist claim: %w", ErrUpstreamFailure, err)
		}
		if attempt >= in.cfg.CodeAttempts {
			return fmt.Errorf("%w: tracking code collided %d times", ErrPersistenceConflict, attempt)
		}

		in.logger.WithFields(logrus.Fields{
			"claim_id":      claim.ID,
			"tracking_code": claim.TrackingCode,
			"attempt":       attempt,
		}).Warn("[claims.submit.code_collision]")

		code, err := in.newCode()
		if err != nil {
			return fmt.Errorf("%w: tracking code: %w", ErrUpstreamFailure, err)
		}
		claim.TrackingCode = code
	}
}

func (in *Intake) notifyIntake(ctx context.Context, claim *models.Claim) {
	if in.deps.Notifier == nil {
		return
	}
	fields := logrus.Fields{"claim_id": claim.ID, "tracking_code": claim.TrackingCode}
	email, name, code := claim.Email, claim.FullName, claim.TrackingCode
	details := IntakeDetails{
		FullName:     claim.FullName,
		NationalID:   claim.NationalID,
		Email:        claim.Email,
		TrackingCode: claim.TrackingCode,
		CaseType:     claim.CaseType,
		CaseSubtype:  claim.CaseSubtype,
	}

	in.tasks.Submit(ctx, "intake_client", fields, func(ctx context.Context) error {
		return in.deps.Notifier.NotifyIntakeClient(ctx, email, name, code)
	})
	in.tasks.Submit(ctx, "intake_staff", fields, func(ctx context.Context) error {
		return in.deps.Notifier.NotifyIntakeStaff(ctx, details)
	})
}
