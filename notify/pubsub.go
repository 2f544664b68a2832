package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lexdesk/claims_backend/claims"
	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/models"
	"github.com/lexdesk/claims_backend/utils"
)

type JobKind string

const (
	JobIntakeClient JobKind = "intake_client"
	JobIntakeStaff  JobKind = "intake_staff"
	JobStatusChange JobKind = "status_change"
)

var ErrMalformedJob = errors.New("malformed notification job")

// Job is the queued form of a notification.
type Job struct {
	Kind          JobKind            `json:"kind"`
	Email         string             `json:"email,omitempty"`
	FullName      string             `json:"full_name,omitempty"`
	NationalID    string             `json:"national_id,omitempty"`
	TrackingCode  string             `json:"tracking_code,omitempty"`
	CaseType      string             `json:"case_type,omitempty"`
	CaseSubtype   string             `json:"case_subtype,omitempty"`
	Status        models.ClaimStatus `json:"status,omitempty"`
	CorrelationId string             `json:"correlation_id,omitempty"`
}

func (j *Job) Validate() error {
	switch j.Kind {
	case JobIntakeClient:
		if j.Email == "" || j.TrackingCode == "" {
			return fmt.Errorf("%w: intake_client needs email and tracking_code", ErrMalformedJob)
		}
	case JobIntakeStaff:
		if j.TrackingCode == "" {
			return fmt.Errorf("%w: intake_staff needs tracking_code", ErrMalformedJob)
		}
	case JobStatusChange:
		if j.Email == "" || !j.Status.IsValid() {
			return fmt.Errorf("%w: status_change needs email and a valid status", ErrMalformedJob)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, j.Kind)
	}
	return nil
}

// DecodeJob parses and validates a queued job.
func DecodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Deliver hands a decoded job to a direct notifier (normally the Mailer).
func Deliver(ctx context.Context, n claims.Notifier, job *Job) error {
	switch job.Kind {
	case JobIntakeClient:
		return n.NotifyIntakeClient(ctx, job.Email, job.FullName, job.TrackingCode)
	case JobIntakeStaff:
		return n.NotifyIntakeStaff(ctx, claims.IntakeDetails{
			FullName:     job.FullName,
			NationalID:   job.NationalID,
			Email:        job.Email,
			TrackingCode: job.TrackingCode,
			CaseType:     job.CaseType,
			CaseSubtype:  job.CaseSubtype,
		})
	case JobStatusChange:
		return n.NotifyStatusChange(ctx, job.Email, job.FullName, job.Status)
	}
	return fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, job.Kind)
}

// PublishFunc matches config.PublishJSON.
type PublishFunc func(ctx context.Context, topic string, obj interface{}, attrs map[string]string) (string, error)

// PubSubNotifier queues notifications on a Pub/Sub topic; the push endpoint
// delivers them later, so SMTP outages are retried by Pub/Sub.
type PubSubNotifier struct {
	topic   string
	publish PublishFunc
}

func NewPubSubNotifier(topic string) (*PubSubNotifier, error) {
	if topic == "" {
		return nil, errors.New("NOTIFY_TOPIC is required")
	}
	return &PubSubNotifier{topic: topic, publish: config.PublishJSON}, nil
}

func (p *PubSubNotifier) enqueue(ctx context.Context, job *Job) error {
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		job.CorrelationId = cid
	}
	_, err := p.publish(ctx, p.topic, job, map[string]string{"kind": string(job.Kind)})
	return err
}

func (p *PubSubNotifier) NotifyIntakeClient(ctx context.Context, email, fullName, trackingCode string) error {
	return p.enqueue(ctx, &Job{Kind: JobIntakeClient, Email: email, FullName: fullName, TrackingCode: trackingCode})
}

func (p *PubSubNotifier) NotifyIntakeStaff(ctx context.Context, d claims.IntakeDetails) error {
	return p.enqueue(ctx, &Job{
		Kind:         JobIntakeStaff,
		Email:        d.Email,
		FullName:     d.FullName,
		NationalID:   d.NationalID,
		TrackingCode: d.TrackingCode,
		CaseType:     d.CaseType,
		CaseSubtype:  d.CaseSubtype,
	})
}

func (p *PubSubNotifier) NotifyStatusChange(ctx context.Context, email, fullName string, status models.ClaimStatus) error {
	return p.enqueue(ctx, &Job{Kind: JobStatusChange, Email: email, FullName: fullName, Status: status})
}
