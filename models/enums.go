package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type ClaimStatus string

const (
	ClaimStatusReceived   ClaimStatus = "Received"
	ClaimStatusInProgress ClaimStatus = "InProgress"
	ClaimStatusFinalized  ClaimStatus = "Finalized"
)

var ErrInvalidClaimStatus = errors.New("invalid claim status")

// AllClaimStatuses lists statuses in workflow order.
func AllClaimStatuses() []ClaimStatus {
	return []ClaimStatus{ClaimStatusReceived, ClaimStatusInProgress, ClaimStatusFinalized}
}

func (s ClaimStatus) IsValid() bool {
	switch s {
	case ClaimStatusReceived, ClaimStatusInProgress, ClaimStatusFinalized:
		return true
	}
	return false
}

// Label is the client-facing wording used in mails and exports.
func (s ClaimStatus) Label() string {
	switch s {
	case ClaimStatusReceived:
		return "Received"
	case ClaimStatusInProgress:
		return "In Progress"
	case ClaimStatusFinalized:
		return "Finalized"
	}
	return string(s)
}

// ParseClaimStatus accepts the canonical names as well as their labels,
// ignoring case, spaces, dashes and underscores ("in progress", "IN_PROGRESS").
func ParseClaimStatus(raw string) (ClaimStatus, error) {
	norm := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(raw)))
	switch norm {
	case "received":
		return ClaimStatusReceived, nil
	case "inprogress":
		return ClaimStatusInProgress, nil
	case "finalized", "finalised":
		return ClaimStatusFinalized, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidClaimStatus, raw)
}

func (s *ClaimStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("claim status must be string")
	}
	parsed, err := ParseClaimStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// FileRole names one document slot of a claim. The set is closed.
type FileRole int

const (
	FileRoleIdentityDocument FileRole = iota + 1
	FileRoleReceipt
	FileRoleForm1
	FileRoleForm2
	FileRoleMedicalLeave
	FileRoleTerminationLetter
	FileRoleWaiverOfRepresentation
)

var ErrUnknownFileRole = errors.New("unknown file role")

// fileRoleKeys are the external names used in multipart fields, claim JSON
// and file URLs.
var fileRoleKeys = map[FileRole]string{
	FileRoleIdentityDocument:       "identityDocument",
	FileRoleReceipt:                "receipt",
	FileRoleForm1:                  "form1",
	FileRoleForm2:                  "form2",
	FileRoleMedicalLeave:           "medicalLeaveForm",
	FileRoleTerminationLetter:      "terminationLetter",
	FileRoleWaiverOfRepresentation: "waiverOfRepresentation",
}

// fileRoleCategories name the blob category each role is stored under.
var fileRoleCategories = map[FileRole]string{
	FileRoleIdentityDocument:       "identity_document",
	FileRoleReceipt:                "receipt",
	FileRoleForm1:                  "form1",
	FileRoleForm2:                  "form2",
	FileRoleMedicalLeave:           "medical_leave",
	FileRoleTerminationLetter:      "termination_letter",
	FileRoleWaiverOfRepresentation: "waiver_of_representation",
}

// MandatoryFileRoles must all be present for an intake to proceed.
func MandatoryFileRoles() []FileRole {
	return []FileRole{FileRoleIdentityDocument, FileRoleReceipt, FileRoleForm1, FileRoleForm2}
}

func OptionalFileRoles() []FileRole {
	return []FileRole{FileRoleMedicalLeave, FileRoleTerminationLetter, FileRoleWaiverOfRepresentation}
}

func AllFileRoles() []FileRole {
	return append(MandatoryFileRoles(), OptionalFileRoles()...)
}

// String returns the storage category, e.g. "medical_leave".
func (r FileRole) String() string {
	if k, ok := fileRoleCategories[r]; ok {
		return k
	}
	return fmt.Sprintf("FileRole(%d)", int(r))
}

// Key returns the external name, e.g. "medicalLeaveForm".
func (r FileRole) Key() string {
	if k, ok := fileRoleKeys[r]; ok {
		return k
	}
	return r.String()
}

func (r FileRole) IsMandatory() bool {
	return r >= FileRoleIdentityDocument && r <= FileRoleForm2
}

func (r FileRole) IsValid() bool {
	_, ok := fileRoleKeys[r]
	return ok
}

// ParseFileRole accepts the external key or the storage category of a role,
// case-insensitively.
func ParseFileRole(raw string) (FileRole, error) {
	key := strings.TrimSpace(raw)
	for _, role := range AllFileRoles() {
		if strings.EqualFold(key, fileRoleKeys[role]) || strings.EqualFold(key, fileRoleCategories[role]) {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFileRole, raw)
}
