// Package validation provides local checks on agent records before they are
// sent to the remote resource
package validation

import (
	"regexp"
	"strings"

	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/types"
)

// Field messages shown next to the offending input
const (
	MsgNameRequired  = "Name is required"
	MsgEmailRequired = "Email is required"
	MsgEmailInvalid  = "Please enter a valid email address"
	MsgStatusInvalid = "Status must be Active or Inactive"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether email has the local@domain.tld shape
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidateDraft checks the required fields and the email shape. It returns a
// *errors.ValidationError listing every failing field, or nil.
func ValidateDraft(draft types.AgentDraft) error {
	verr := rerrors.NewValidationError()

	if strings.TrimSpace(draft.Name) == "" {
		verr.Add("name", MsgNameRequired)
	}

	switch {
	case strings.TrimSpace(draft.Email) == "":
		verr.Add("email", MsgEmailRequired)
	case !ValidEmail(draft.Email):
		verr.Add("email", MsgEmailInvalid)
	}

	if !draft.Status.Valid() {
		verr.Add("status", MsgStatusInvalid)
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

// ValidateAgent checks an existing record. The id must be present.
func ValidateAgent(agent types.Agent) error {
	err := ValidateDraft(agent.Draft())
	if strings.TrimSpace(agent.ID) != "" {
		return err
	}

	verr, ok := err.(*rerrors.ValidationError)
	if !ok {
		verr = rerrors.NewValidationError()
	}
	verr.Add("id", "ID is required")
	return verr
}
