package validation

import (
	"strings"
	"testing"

	"chatrelay/pkg/models"
)

func TestValidSubmission(t *testing.T) {
	SetRules(Rules{})
	m := models.Message{ID: "m1", SessionID: "s1", Question: "hello"}
	if err := ValidateSubmission(m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMissingFields(t *testing.T) {
	SetRules(Rules{})
	err := ValidateSubmission(models.Message{})
	if err == nil {
		t.Fatalf("expected error for empty submission")
	}
	for _, want := range []string{"id is required", "sessionId is required", "question is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestAnswerMustBeAbsent(t *testing.T) {
	SetRules(Rules{})
	m := models.Message{ID: "m1", SessionID: "s1", Question: "q", Answer: "preset"}
	if err := ValidateSubmission(m); err == nil {
		t.Fatalf("expected rejection of preset answer")
	}
}

func TestLengthCaps(t *testing.T) {
	SetRules(Rules{MaxQuestionBytes: 5, MaxIDBytes: 8})
	defer SetRules(Rules{})

	m := models.Message{ID: "m1", SessionID: "s1", Question: "too long question"}
	if err := ValidateSubmission(m); err == nil || !strings.Contains(err.Error(), "question exceeds max length") {
		t.Fatalf("expected question length rejection, got %v", err)
	}
	m = models.Message{ID: "an-identifier-way-too-long", SessionID: "s1", Question: "ok"}
	if err := ValidateSubmission(m); err == nil || !strings.Contains(err.Error(), "id exceeds max length") {
		t.Fatalf("expected id length rejection, got %v", err)
	}
}
