package reports

import (
	"fmt"
	"io"
	"time"

	"github.com/lexdesk/claims_backend/models"
	"github.com/xuri/excelize/v2"
)

const (
	ClaimsSheet     = "Claims"
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var claimsHeader = []interface{}{
	"TrackingCode", "Status", "FullName", "NationalID", "Email", "CaseType", "CaseSubtype", "CreatedAt", "OptionalFiles",
}

// ExportClaims writes one row per claim, in the given order, as an xlsx workbook.
func ExportClaims(w io.Writer, claims []*models.Claim, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ClaimsSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(ClaimsSheet, "A1", &claimsHeader); err != nil {
		return err
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(ClaimsSheet, 1, 1, style)
	}

	for i, c := range claims {
		row := []interface{}{
			c.TrackingCode,
			c.Status.Label(),
			c.FullName,
			c.NationalID,
			c.Email,
			c.CaseType,
			c.CaseSubtype,
			c.CreatedAt.In(loc).Format("2006-01-02 15:04:05"),
			optionalFileCount(c),
		}
		if err := f.SetSheetRow(ClaimsSheet, "A"+fmt.Sprint(i+2), &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(ClaimsSheet, "A", "I", 18)

	return f.Write(w)
}

func optionalFileCount(c *models.Claim) int {
	n := 0
	for _, role := range models.OptionalFileRoles() {
		if _, ok := c.FileRef(role); ok {
			n++
		}
	}
	return n
}
