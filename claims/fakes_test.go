package claims

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexdesk/claims_backend/models"
	"github.com/lexdesk/claims_backend/utils"
	"github.com/sirupsen/logrus"
)

type memRepo struct {
	mu      sync.Mutex
	byID    map[string]*models.Claim
	clock   time.Time
	creates int
	// createErrs are returned by successive Create calls before the real insert runs.
	createErrs []error
}

func newMemRepo() *memRepo {
	return &memRepo{byID: map[string]*models.Claim{}, clock: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (r *memRepo) Create(_ context.Context, c *models.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, existing := range r.byID {
		if existing.TrackingCode == c.TrackingCode {
			return models.ErrDuplicateTrackingCode
		}
	}
	r.clock = r.clock.Add(time.Minute)
	c.CreatedAt = r.clock
	c.UpdatedAt = r.clock
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *memRepo) Save(_ context.Context, c *models.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *memRepo) FindByTrackingCode(_ context.Context, code string) (*models.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.TrackingCode == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (r *memRepo) FindByID(_ context.Context, id string) (*models.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) FindAll(_ context.Context, status *models.ClaimStatus) ([]*models.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Claim
	for _, c := range r.byID {
		if status != nil && c.Status != *status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type uploadCall struct {
	Category    string
	StorageName string
	ContentType string
	Body        string
}

type memStore struct {
	mu      sync.Mutex
	uploads []uploadCall
	// failRole makes uploads for that category fail.
	failRole string
	signErr  error
	// onUpload runs before each upload; a non-nil error fails it.
	onUpload func(ctx context.Context, category string) error
}

func (s *memStore) Upload(ctx context.Context, r io.Reader, contentType, category, storageName string) (string, error) {
	if s.onUpload != nil {
		if err := s.onUpload(ctx, category); err != nil {
			return "", err
		}
	}
	if s.failRole != "" && category == s.failRole {
		return "", errors.New("bucket unavailable")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, uploadCall{Category: category, StorageName: storageName, ContentType: contentType, Body: string(b)})
	return category + "/" + storageName, nil
}

func (s *memStore) SignedURL(_ context.Context, ref string) (string, error) {
	if s.signErr != nil {
		return "", s.signErr
	}
	return "https://blobs.example.test/" + ref + "?sig=abc", nil
}

func (s *memStore) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

type notification struct {
	Kind   string
	Email  string
	Name   string
	Code   string
	Status models.ClaimStatus
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	fail bool
}

func (n *recordingNotifier) record(x notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, x)
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (n *recordingNotifier) NotifyIntakeClient(_ context.Context, email, name, code string) error {
	return n.record(notification{Kind: "client", Email: email, Name: name, Code: code})
}

func (n *recordingNotifier) NotifyIntakeStaff(_ context.Context, d IntakeDetails) error {
	return n.record(notification{Kind: "staff", Name: d.FullName, Code: d.TrackingCode})
}

func (n *recordingNotifier) NotifyStatusChange(_ context.Context, email, name string, status models.ClaimStatus) error {
	return n.record(notification{Kind: "status", Email: email, Name: name, Status: status})
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, x := range n.sent {
		out = append(out, x.Kind)
	}
	sort.Strings(out)
	return out
}

func memFile(name, contentType string, body []byte) *File {
	return &File{
		Filename:    name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
	}
}

var (
	pdfBody = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
	pngBody = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
)

func mandatoryFiles() map[models.FileRole]*File {
	return map[models.FileRole]*File{
		models.FileRoleIdentityDocument: memFile("dni.png", "image/png", pngBody),
		models.FileRoleReceipt:          memFile("receipt.pdf", "application/pdf", pdfBody),
		models.FileRoleForm1:            memFile("form1.pdf", "application/pdf", pdfBody),
		models.FileRoleForm2:            memFile("form2.pdf", "application/pdf", pdfBody),
	}
}

func anaSubmission() *Submission {
	return &Submission{
		FullName:   "Ana Gomez",
		NationalID: "30123456",
		Email:      "ana@example.com",
		Files:      mandatoryFiles(),
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type harness struct {
	repo      *memRepo
	store     *memStore
	notifier  *recordingNotifier
	tasks     *TaskRunner
	intake    *Intake
	lifecycle *Lifecycle
}

func newHarness(cfg IntakeConfig) *harness {
	h := &harness{
		repo:     newMemRepo(),
		store:    &memStore{},
		notifier: &recordingNotifier{},
	}
	logger := quietLogger()
	h.tasks = NewTaskRunner(logger, nil, time.Second)
	deps := Deps{
		Store:    h.store,
		Repo:     h.repo,
		Notifier: h.notifier,
		Tasks:    h.tasks,
		Logger:   logger,
		Now:      func() time.Time { return time.UnixMilli(1767258000123) },
	}
	h.intake = NewIntake(deps, cfg)
	h.lifecycle = NewLifecycle(deps)
	return h
}

func isUpperHex(s string) bool {
	return strings.Trim(s, "0123456789ABCDEF") == ""
}
