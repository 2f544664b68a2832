package models

import (
	"time"

	"github.com/lexdesk/claims_backend/utils"
)

type Claim struct {
	ID           string      `gorm:"primaryKey;size:36" json:"id"`
	FullName     string      `gorm:"size:255;not null" json:"fullName"`
	NationalID   string      `gorm:"size:16;not null;index" json:"nationalId"`
	Email        string      `gorm:"size:255;not null" json:"email"`
	TrackingCode string      `gorm:"size:16;not null;uniqueIndex" json:"trackingCode"`
	Status       ClaimStatus `gorm:"size:20;not null;default:'Received';index" json:"status"`
	CaseType     string      `gorm:"size:100" json:"caseType,omitempty"`
	CaseSubtype  string      `gorm:"size:100" json:"caseSubtype,omitempty"`

	IdentityDocumentRef       string  `gorm:"size:512;not null" json:"identityDocument"`
	ReceiptRef                string  `gorm:"size:512;not null" json:"receipt"`
	Form1Ref                  string  `gorm:"size:512;not null" json:"form1"`
	Form2Ref                  string  `gorm:"size:512;not null" json:"form2"`
	MedicalLeaveRef           *string `gorm:"size:512" json:"medicalLeaveForm,omitempty"`
	TerminationLetterRef      *string `gorm:"size:512" json:"terminationLetter,omitempty"`
	WaiverOfRepresentationRef *string `gorm:"size:512" json:"waiverOfRepresentation,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// FileRef returns the stored reference for role; ok is false when the slot is empty.
func (c *Claim) FileRef(role FileRole) (string, bool) {
	var ref string
	switch role {
	case FileRoleIdentityDocument:
		ref = c.IdentityDocumentRef
	case FileRoleReceipt:
		ref = c.ReceiptRef
	case FileRoleForm1:
		ref = c.Form1Ref
	case FileRoleForm2:
		ref = c.Form2Ref
	case FileRoleMedicalLeave:
		ref = utils.DereferencePtr(c.MedicalLeaveRef)
	case FileRoleTerminationLetter:
		ref = utils.DereferencePtr(c.TerminationLetterRef)
	case FileRoleWaiverOfRepresentation:
		ref = utils.DereferencePtr(c.WaiverOfRepresentationRef)
	}
	return ref, ref != ""
}

// SetFileRef records ref for role. Empty refs on optional roles clear the slot.
func (c *Claim) SetFileRef(role FileRole, ref string) {
	switch role {
	case FileRoleIdentityDocument:
		c.IdentityDocumentRef = ref
	case FileRoleReceipt:
		c.ReceiptRef = ref
	case FileRoleForm1:
		c.Form1Ref = ref
	case FileRoleForm2:
		c.Form2Ref = ref
	case FileRoleMedicalLeave:
		c.MedicalLeaveRef = utils.NilIfEmpty(ref)
	case FileRoleTerminationLetter:
		c.TerminationLetterRef = utils.NilIfEmpty(ref)
	case FileRoleWaiverOfRepresentation:
		c.WaiverOfRepresentationRef = utils.NilIfEmpty(ref)
	}
}

// FileRefs lists every present reference keyed by role.
func (c *Claim) FileRefs() map[FileRole]string {
	refs := make(map[FileRole]string)
	for _, role := range AllFileRoles() {
		if ref, ok := c.FileRef(role); ok {
			refs[role] = ref
		}
	}
	return refs
}
