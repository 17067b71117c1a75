package validation

import (
	"errors"
	"fmt"
	"strings"

	"chatrelay/pkg/models"
)

// Rules controls submission validation. Zero values disable the
// corresponding check.
type Rules struct {
	// MaxQuestionBytes rejects questions longer than this many bytes.
	MaxQuestionBytes int
	// MaxIDBytes bounds client-generated identifiers.
	MaxIDBytes int
}

var rules Rules

func SetRules(r Rules) { rules = r }

// ValidateSubmission checks the fields a client must supply when submitting
// a question. Identifier and session id are caller-generated and required;
// the question must be non-empty.
func ValidateSubmission(m models.Message) error {
	var errs []string
	if strings.TrimSpace(m.ID) == "" {
		errs = append(errs, "id is required")
	}
	if strings.TrimSpace(m.SessionID) == "" {
		errs = append(errs, "sessionId is required")
	}
	if strings.TrimSpace(m.Question) == "" {
		errs = append(errs, "question is required")
	}
	if m.Answer != "" {
		errs = append(errs, "answer must not be set at submission")
	}
	if rules.MaxQuestionBytes > 0 && len(m.Question) > rules.MaxQuestionBytes {
		errs = append(errs, fmt.Sprintf("question exceeds max length: %d > %d", len(m.Question), rules.MaxQuestionBytes))
	}
	if rules.MaxIDBytes > 0 {
		if len(m.ID) > rules.MaxIDBytes {
			errs = append(errs, fmt.Sprintf("id exceeds max length: %d > %d", len(m.ID), rules.MaxIDBytes))
		}
		if len(m.SessionID) > rules.MaxIDBytes {
			errs = append(errs, fmt.Sprintf("sessionId exceeds max length: %d > %d", len(m.SessionID), rules.MaxIDBytes))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
