package notify

import (
	"bytes"
	"html/template"

	"github.com/lexdesk/claims_backend/claims"
	"github.com/lexdesk/claims_backend/models"
)

// Message is a rendered mail ready to send.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

var (
	intakeClientTmpl = template.Must(template.New("intake_client").Parse(`<h1>Hello {{.Name}},</h1>
<p>We confirm that your documents were received correctly.</p>
<p>Your tracking code is: <strong>{{.Code}}</strong></p>
<p>You can check the status of your claim on our website with this code.</p>
<br>
<p>Kind regards,<br>{{.Office}}</p>
`))

	intakeStaffTmpl = template.Must(template.New("intake_staff").Parse(`<h2>New claim submitted</h2>
<ul>
  <li><strong>Client:</strong> {{.FullName}}</li>
  <li><strong>National ID:</strong> {{.NationalID}}</li>
  <li><strong>Tracking code:</strong> {{.TrackingCode}}</li>
{{- if .CaseType}}
  <li><strong>Case:</strong> {{.CaseType}}{{if .CaseSubtype}} / {{.CaseSubtype}}{{end}}</li>
{{- end}}
</ul>
<p>Open the staff panel to review the files.</p>
`))

	statusChangeTmpl = template.Must(template.New("status_change").Parse(`<h1>Hello {{.Name}},</h1>
<p>The status of your claim has changed.</p>
<h3>New status: <span style="color: blue;">{{.Status}}</span></h3>
<p>We keep working on your case.</p>
`))
)

const (
	subjectIntakeClient = "We received your claim"
	subjectIntakeStaff  = "New claim received"
	subjectStatusChange = "Update on your claim"
)

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func IntakeClientMessage(office, email, name, code string) (*Message, error) {
	body, err := render(intakeClientTmpl, struct{ Name, Code, Office string }{name, code, office})
	if err != nil {
		return nil, err
	}
	return &Message{To: []string{email}, Subject: subjectIntakeClient, HTML: body}, nil
}

func IntakeStaffMessage(staff []string, d claims.IntakeDetails) (*Message, error) {
	body, err := render(intakeStaffTmpl, d)
	if err != nil {
		return nil, err
	}
	return &Message{To: staff, Subject: subjectIntakeStaff, HTML: body}, nil
}

func StatusChangeMessage(email, name string, status models.ClaimStatus) (*Message, error) {
	body, err := render(statusChangeTmpl, struct{ Name, Status string }{name, status.Label()})
	if err != nil {
		return nil, err
	}
	return &Message{To: []string{email}, Subject: subjectStatusChange, HTML: body}, nil
}
