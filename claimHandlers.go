package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexdesk/claims_backend/claims"
	"github.com/lexdesk/claims_backend/models"
	"github.com/lexdesk/claims_backend/models/reports"
)

const (
	multipartMemory = 8 << 20
	// maxIntakeBody caps the whole multipart request: every role at the file limit plus form fields.
	maxIntakeBody = 7*claims.MaxFileSizeBytes + 1<<20
)

// intakeFileFields maps each multipart file field to its role.
var intakeFileFields = func() map[string]models.FileRole {
	fields := make(map[string]models.FileRole)
	for _, role := range models.AllFileRoles() {
		fields[role.Key()] = role
	}
	return fields
}()

type updateStatusRequest struct {
	Status models.ClaimStatus `json:"status" binding:"required"`
}

func submitClaimHandler(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxIntakeBody)
		if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeClaimError(c, fmt.Errorf("%w: request body exceeds %d bytes", claims.ErrFileTooLarge, maxIntakeBody))
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form expected"})
			return
		}
		defer func() {
			_ = c.Request.MultipartForm.RemoveAll()
		}()

		sub, err := submissionFromForm(c.Request.MultipartForm)
		if err != nil {
			writeClaimError(c, err)
			return
		}

		result, err := app.intake.Submit(c.Request.Context(), sub)
		if err != nil {
			writeClaimError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"message":      "claim received",
			"trackingCode": result.TrackingCode,
		})
	}
}

func submissionFromForm(form *multipart.Form) (*claims.Submission, error) {
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	sub := &claims.Submission{
		FullName:    value("fullName"),
		NationalID:  value("nationalId"),
		Email:       value("email"),
		CaseType:    value("caseType"),
		CaseSubtype: value("caseSubtype"),
		Files:       make(map[models.FileRole]*claims.File),
	}
	for field, headers := range form.File {
		role, ok := intakeFileFields[field]
		if !ok {
			return nil, fmt.Errorf("%w: unexpected file field %q", claims.ErrInvalidFileRole, field)
		}
		if len(headers) != 1 {
			return nil, &claims.ValidationError{Fields: map[string]string{field: "exactly one file expected"}}
		}
		fh := headers[0]
		sub.Files[role] = &claims.File{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		}
	}
	return sub, nil
}

func trackClaimHandler(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := app.lifecycle.Lookup(c.Request.Context(), c.Param("code"))
		if err != nil {
			writeClaimError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// statusFilter reads ?status=; an unparseable value is passed through so the
// lifecycle reports it as a validation error.
func statusFilter(c *gin.Context) *models.ClaimStatus {
	raw, ok := c.GetQuery("status")
	if !ok || raw == "" {
		return nil
	}
	status, err := models.ParseClaimStatus(raw)
	if err != nil {
		status = models.ClaimStatus(raw)
	}
	return &status
}

func listClaimsHandler(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := app.lifecycle.List(c.Request.Context(), statusFilter(c))
		if err != nil {
			writeClaimError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func exportClaimsHandler(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := app.lifecycle.List(c.Request.Context(), statusFilter(c))
		if err != nil {
			writeClaimError(c, err)
			return
		}
		var buf bytes.Buffer
		if err := reports.ExportClaims(&buf, list, app.location); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build export"})
			return
		}
		filename := fmt.Sprintf("claims-%s.xlsx", time.Now().In(app.location).Format("20060102"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, reports.XLSXContentType, buf.Bytes())
	}
}

func getClaimHandler(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		claim, err := app.lifecycle.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeClaimError(c, err)
			return
		}
		c.JSON(http.StatusOK, claim)
	}
}

func updateClaimStatusHandler(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of Received, InProgress, Finalized"})
			return
		}
		claim, err := app.lifecycle.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
		if err != nil {
			writeClaimError(c, err)
			return
		}
		c.JSON(http.StatusOK, claim)
	}
}

func claimFileURLHandler(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		url, err := app.lifecycle.ResolveFileURL(c.Request.Context(), c.Param("id"), c.Param("role"))
		if err != nil {
			writeClaimError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

// writeClaimError maps workflow errors onto HTTP statuses. Upstream and
// unknown errors are logged and answered with a generic message.
func writeClaimError(c *gin.Context, err error) {
	var ve *claims.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": claims.ErrValidation.Error(), "fields": ve.Fields})
	case errors.Is(err, claims.ErrValidation),
		errors.Is(err, claims.ErrInvalidFileType),
		errors.Is(err, claims.ErrFileTooLarge),
		errors.Is(err, claims.ErrMissingRequiredFile),
		errors.Is(err, claims.ErrInvalidFileRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, claims.ErrNotFound),
		errors.Is(err, claims.ErrFileNotPresent):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, claims.ErrPersistenceConflict):
		_ = c.Error(err)
		c.JSON(http.StatusConflict, gin.H{"error": "could not allocate a tracking code, please retry"})
	case errors.Is(err, claims.ErrUpstreamFailure):
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "a dependent service failed, please retry"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
