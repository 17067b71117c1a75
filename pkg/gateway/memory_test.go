package gateway

import "testing"

func TestMapTranscriptStore(t *testing.T) {
	s := NewMapTranscriptStore()

	turns, err := s.Load("unknown")
	if err != nil {
		t.Fatalf("Load unknown: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("unknown token must yield an empty transcript, got %v", turns)
	}

	in := []Turn{{Role: "user", Text: "hi"}, {Role: "assistant", Text: "hello"}}
	if err := s.Save("tok", in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := s.Load("tok")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 || out[1].Text != "hello" {
		t.Fatalf("unexpected transcript: %v", out)
	}

	// stored slices are copies, not aliases
	out[0].Text = "mutated"
	again, _ := s.Load("tok")
	if again[0].Text != "hi" {
		t.Fatalf("transcript aliased caller slice: %v", again)
	}
}
