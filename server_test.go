package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexdesk/claims_backend/claims"
	"github.com/lexdesk/claims_backend/metrics"
	"github.com/lexdesk/claims_backend/models"
	"github.com/lexdesk/claims_backend/models/reports"
	"github.com/lexdesk/claims_backend/notify"
	"github.com/lexdesk/claims_backend/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const staffToken = "staff-token"

type fakeRepo struct {
	mu   sync.Mutex
	byID map[string]*models.Claim
	tick time.Time
}

func (r *fakeRepo) Create(_ context.Context, c *models.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.TrackingCode == c.TrackingCode {
			return models.ErrDuplicateTrackingCode
		}
	}
	r.tick = r.tick.Add(time.Minute)
	c.CreatedAt = r.tick
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *fakeRepo) Save(_ context.Context, c *models.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *fakeRepo) FindByTrackingCode(_ context.Context, code string) (*models.Claim, error) {
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

func (r *fakeRepo) FindByID(_ context.Context, id string) (*models.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, utils.ErrorRecordNotFound
}

func (r *fakeRepo) FindAll(_ context.Context, status *models.ClaimStatus) ([]*models.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Claim
	for _, c := range r.byID {
		if status == nil || c.Status == *status {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type fakeStore struct {
	mu   sync.Mutex
	refs []string
	fail bool
}

func (s *fakeStore) Upload(_ context.Context, r io.Reader, _, category, storageName string) (string, error) {
	if s.fail {
		return "", errors.New("bucket unavailable")
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	ref := category + "/" + storageName
	s.mu.Lock()
	s.refs = append(s.refs, ref)
	s.mu.Unlock()
	return ref, nil
}

func (s *fakeStore) SignedURL(_ context.Context, ref string) (string, error) {
	return "https://blobs.example.test/" + ref, nil
}

type sentNotice struct {
	kind string
	code string
}

type noticeLog struct {
	mu   sync.Mutex
	sent []sentNotice
	err  error
}

func (n *noticeLog) add(kind, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{kind: kind, code: code})
	return n.err
}

func (n *noticeLog) NotifyIntakeClient(_ context.Context, _, _, code string) error {
	return n.add("client", code)
}

func (n *noticeLog) NotifyIntakeStaff(_ context.Context, d claims.IntakeDetails) error {
	return n.add("staff", d.TrackingCode)
}

func (n *noticeLog) NotifyStatusChange(_ context.Context, _, _ string, status models.ClaimStatus) error {
	return n.add("status", string(status))
}

func (n *noticeLog) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	sort.Strings(out)
	return out
}

type testServer struct {
	router    *gin.Engine
	app       *application
	repo      *fakeRepo
	store     *fakeStore
	notices   *noticeLog
	delivered *noticeLog
	tasks     *claims.TaskRunner
	ready     bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	rec, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	ts := &testServer{
		repo:      &fakeRepo{byID: map[string]*models.Claim{}, tick: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
		store:     &fakeStore{},
		notices:   &noticeLog{},
		delivered: &noticeLog{},
		ready:     true,
	}
	ts.tasks = claims.NewTaskRunner(logger, rec, time.Second)
	deps := claims.Deps{
		Store:    ts.store,
		Repo:     ts.repo,
		Notifier: ts.notices,
		Tasks:    ts.tasks,
		Metrics:  rec,
		Logger:   logger,
	}
	ts.app = &application{
		intake:    claims.NewIntake(deps, claims.IntakeConfig{}),
		lifecycle: claims.NewLifecycle(deps),
		deliverer: ts.delivered,
		metrics:   rec,
		logger:    logger,
		location:  time.UTC,
		tokens: func(_ context.Context, token string) (string, bool, error) {
			return "lucia", token == staffToken, nil
		},
		ready: func() bool { return ts.ready },
	}
	ts.router = newRouter(ts.app)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) staff(method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("token", staffToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.do(req)
}

type formFile struct {
	field, name, contentType string
	body                     []byte
}

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF\n")

func mandatoryFormFiles() []formFile {
	return []formFile{
		{"identityDocument", "dni.pdf", "application/pdf", pdfBytes},
		{"receipt", "recibo.pdf", "application/pdf", pdfBytes},
		{"form1", "f1.pdf", "application/pdf", pdfBytes},
		{"form2", "f2.pdf", "application/pdf", pdfBytes},
	}
}

func claimRequest(t *testing.T, fields map[string]string, files []formFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/claims", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func validFields() map[string]string {
	return map[string]string{
		"fullName":   "Ana María Gómez",
		"nationalId": "30123456",
		"email":      "ana@example.com",
		"caseType":   "labour",
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (ts *testServer) submit(t *testing.T, files []formFile) string {
	t.Helper()
	w := ts.do(claimRequest(t, validFields(), files))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	code, _ := decode(t, w)["trackingCode"].(string)
	require.Len(t, code, 6)
	return code
}

func (ts *testServer) claimByCode(t *testing.T, code string) *models.Claim {
	t.Helper()
	c, err := ts.repo.FindByTrackingCode(context.Background(), code)
	require.NoError(t, err)
	return c
}

func TestSubmitClaim(t *testing.T) {
	ts := newTestServer(t)
	files := append(mandatoryFormFiles(), formFile{"medicalLeaveForm", "baja.png", "image/png", []byte("\x89PNG\r\n\x1a\nrest")})

	code := ts.submit(t, files)
	assert.Equal(t, strings.ToUpper(code), code)

	claim := ts.claimByCode(t, code)
	assert.Equal(t, models.ClaimStatusReceived, claim.Status)
	assert.Equal(t, "labour", claim.CaseType)
	assert.Len(t, claim.FileRefs(), 5)
	ref, ok := claim.FileRef(models.FileRoleMedicalLeave)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(ref, "medical_leave/30123456-medical_leave-"))
	assert.True(t, strings.HasSuffix(ref, ".png"))

	ts.tasks.Wait()
	assert.Equal(t, []string{"client", "staff"}, ts.notices.kinds())
}

func TestSubmitClaimRejections(t *testing.T) {
	cases := []struct {
		name    string
		fields  map[string]string
		files   []formFile
		wantErr string
	}{
		{
			name:    "missing mandatory file",
			fields:  validFields(),
			files:   mandatoryFormFiles()[:3],
			wantErr: "missing required file",
		},
		{
			name:    "unsupported type",
			fields:  validFields(),
			files:   append(mandatoryFormFiles()[:3], formFile{"form2", "f2.docx", "application/msword", []byte("doc")}),
			wantErr: "invalid file type",
		},
		{
			name:    "too large",
			fields:  validFields(),
			files:   append(mandatoryFormFiles()[:3], formFile{"form2", "f2.pdf", "application/pdf", bytes.Repeat([]byte("a"), int(claims.MaxFileSizeBytes)+1)}),
			wantErr: "file too large",
		},
		{
			name:    "unknown file field",
			fields:  validFields(),
			files:   append(mandatoryFormFiles(), formFile{"passport", "p.pdf", "application/pdf", pdfBytes}),
			wantErr: "invalid file role",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(claimRequest(t, tc.fields, tc.files))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode(t, w)["error"], tc.wantErr)
			assert.Empty(t, ts.store.refs)
			assert.Empty(t, ts.repo.byID)
		})
	}
}

func TestSubmitClaimFieldErrors(t *testing.T) {
	ts := newTestServer(t)
	fields := validFields()
	fields["nationalId"] = "12ab"
	fields["email"] = "nope"

	w := ts.do(claimRequest(t, fields, mandatoryFormFiles()))
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	errs, ok := body["fields"].(map[string]any)
	require.True(t, ok, w.Body.String())
	assert.Contains(t, errs, "nationalId")
	assert.Contains(t, errs, "email")
}

func TestSubmitClaimUpstreamFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.store.fail = true
	w := ts.do(claimRequest(t, validFields(), mandatoryFormFiles()))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Empty(t, ts.repo.byID)
}

func TestTrackClaim(t *testing.T) {
	ts := newTestServer(t)
	code := ts.submit(t, mandatoryFormFiles())

	w := ts.do(httptest.NewRequest(http.MethodGet, "/claims/track/"+strings.ToLower(code), nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, code, body["trackingCode"])
	assert.Equal(t, "Received", body["status"])
	assert.NotContains(t, body, "email")

	w = ts.do(httptest.NewRequest(http.MethodGet, "/claims/track/ZZZZZZ", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaffRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/claims", "/claims/export", "/claims/abc", "/claims/abc/files/receipt"} {
		w := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	req := httptest.NewRequest(http.MethodGet, "/claims", nil)
	req.Header.Set("token", "expired")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)
}

func TestListAndUpdateClaims(t *testing.T) {
	ts := newTestServer(t)
	first := ts.submit(t, mandatoryFormFiles())
	second := ts.submit(t, mandatoryFormFiles())
	ts.tasks.Wait()

	w := ts.staff(http.MethodGet, "/claims", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Claim
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].TrackingCode)
	assert.Equal(t, first, list[1].TrackingCode)

	id := ts.claimByCode(t, first).ID
	w = ts.staff(http.MethodPatch, "/claims/"+id, strings.NewReader(`{"status":"Archived"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.staff(http.MethodPatch, "/claims/"+id, strings.NewReader(`{"status":"in progress"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ClaimStatusInProgress, ts.claimByCode(t, first).Status)

	w = ts.staff(http.MethodPatch, "/claims/missing", strings.NewReader(`{"status":"Finalized"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.staff(http.MethodGet, "/claims?status=InProgress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, first, list[0].TrackingCode)

	w = ts.staff(http.MethodGet, "/claims?status=Archived", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.staff(http.MethodGet, "/claims/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ana@example.com", decode(t, w)["email"])

	ts.tasks.Wait()
	assert.Contains(t, ts.notices.kinds(), "status")
}

func TestClaimFileURL(t *testing.T) {
	ts := newTestServer(t)
	code := ts.submit(t, mandatoryFormFiles())
	id := ts.claimByCode(t, code).ID

	w := ts.staff(http.MethodGet, "/claims/"+id+"/files/receipt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["url"], "https://blobs.example.test/receipt/30123456-receipt-")

	w = ts.staff(http.MethodGet, "/claims/"+id+"/files/identityDocument", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["url"], "identity_document/30123456-identity_document-")

	w = ts.staff(http.MethodGet, "/claims/"+id+"/files/passport", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.staff(http.MethodGet, "/claims/"+id+"/files/medicalLeaveForm", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.staff(http.MethodGet, "/claims/"+id+"/files/medical_leave", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.staff(http.MethodGet, "/claims/unknown/files/receipt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportClaims(t *testing.T) {
	ts := newTestServer(t)
	ts.submit(t, mandatoryFormFiles())

	w := ts.staff(http.MethodGet, "/claims/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reports.XLSXContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "claims-")
	assert.NotZero(t, w.Body.Len())
}

func TestReadinessGate(t *testing.T) {
	ts := newTestServer(t)
	ts.ready = false

	w := ts.do(httptest.NewRequest(http.MethodGet, "/claims/track/ABCDEF", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/claims/track/ABCDEF"} {
		w := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"), path)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"), path)
		assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"), path)
		assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'", path)
	}
}

func TestNotFoundRoute(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func pushRequest(t *testing.T, data []byte, id string) *http.Request {
	t.Helper()
	var env PubSubPushEnvelope
	env.Message.Data = data
	env.Message.ID = id
	env.Subscription = "projects/p/subscriptions/claims-notify-push"
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, "/pubsub/notifications", bytes.NewReader(body))
}

func TestNotifyPushHandler(t *testing.T) {
	ts := newTestServer(t)
	job, err := json.Marshal(notify.Job{Kind: notify.JobIntakeClient, Email: "ana@example.com", FullName: "Ana", TrackingCode: "A4F8B1"})
	require.NoError(t, err)

	w := ts.do(pushRequest(t, job, "m-1"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"client"}, ts.delivered.kinds())

	w = ts.do(pushRequest(t, []byte(`{"kind":"fax"}`), "m-2"))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodPost, "/pubsub/notifications", strings.NewReader("garbage")))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, ts.delivered.kinds(), 1)

	ts.delivered.err = errors.New("smtp down")
	w = ts.do(pushRequest(t, job, "m-3"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	ts.app.deliverer = nil
	w = ts.do(pushRequest(t, job, "m-4"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWriteClaimErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", claims.ErrPersistenceConflict), http.StatusConflict},
		{fmt.Errorf("%w: x", claims.ErrUpstreamFailure), http.StatusBadGateway},
		{fmt.Errorf("%w: receipt", claims.ErrFileNotPresent), http.StatusNotFound},
		{fmt.Errorf("%w: receipt", claims.ErrMissingRequiredFile), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		writeClaimError(c, tc.err)
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}
}
