package notify

import (
	"fmt"
	"os"
	"strings"

	"github.com/lexdesk/claims_backend/claims"
	"github.com/sirupsen/logrus"
)

const (
	ProviderSMTP   = "smtp"
	ProviderPubSub = "pubsub"
	ProviderLog    = "log"
)

func GetProvider() string {
	p := strings.ToLower(strings.TrimSpace(os.Getenv("NOTIFY_PROVIDER")))
	if p == "" {
		return ProviderSMTP
	}
	return p
}

// NewFromEnv returns the notifier the workflow calls and, when SMTP is
// configured, the Mailer that the Pub/Sub push endpoint delivers through.
func NewFromEnv(logger *logrus.Logger) (claims.Notifier, *Mailer, error) {
	var mailer *Mailer
	if os.Getenv("MAIL_HOST") != "" {
		m, err := NewMailer(MailConfigFromEnv(), logger)
		if err != nil {
			return nil, nil, err
		}
		mailer = m
	}

	switch GetProvider() {
	case ProviderSMTP:
		if mailer == nil {
			return nil, nil, fmt.Errorf("NOTIFY_PROVIDER=smtp requires MAIL_HOST")
		}
		return mailer, mailer, nil
	case ProviderPubSub:
		n, err := NewPubSubNotifier(strings.TrimSpace(os.Getenv("NOTIFY_TOPIC")))
		if err != nil {
			return nil, nil, err
		}
		return n, mailer, nil
	case ProviderLog:
		return LogNotifier{Logger: logger}, mailer, nil
	default:
		return nil, nil, fmt.Errorf("notify provider %q is not supported", GetProvider())
	}
}
