package notify

import (
	"context"

	"github.com/lexdesk/claims_backend/claims"
	"github.com/lexdesk/claims_backend/models"
	"github.com/sirupsen/logrus"
)

// LogNotifier only logs; used in development when no SMTP server is around.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (l LogNotifier) NotifyIntakeClient(_ context.Context, email, fullName, trackingCode string) error {
	l.Logger.WithFields(logrus.Fields{"to": email, "name": fullName, "tracking_code": trackingCode}).Info("[notify.intake_client]")
	return nil
}

func (l LogNotifier) NotifyIntakeStaff(_ context.Context, d claims.IntakeDetails) error {
	l.Logger.WithFields(logrus.Fields{"name": d.FullName, "national_id": d.NationalID, "tracking_code": d.TrackingCode}).Info("[notify.intake_staff]")
	return nil
}

func (l LogNotifier) NotifyStatusChange(_ context.Context, email, fullName string, status models.ClaimStatus) error {
	l.Logger.WithFields(logrus.Fields{"to": email, "name": fullName, "status": status}).Info("[notify.status_change]")
	return nil
}
