package ingress

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestWriteModelListDedupesAndSorts(t *testing.T) {
	rec := httptest.NewRecorder()
	writeModelList(rec, []string{"gpt-4", "", "claude-3", "gpt-4", "ada"})

	var out modelListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out.Object != "list" {
		t.Errorf("expected object=list, got %q", out.Object)
	}
	got := make([]string, len(out.Data))
	for i, e := range out.Data {
		got[i] = e.ID
		if e.Object != "model" {
			t.Errorf("entry %q: expected object=model, got %q", e.ID, e.Object)
		}
	}
	want := []string{"ada", "claude-3", "gpt-4"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestModelFromBodyEmptyOnInvalidJSON(t *testing.T) {
	if m := modelFromBody([]byte("not json")); m != "" {
		t.Errorf("expected empty model for invalid JSON, got %q", m)
	}
	if m := modelFromBody(nil); m != "" {
		t.Errorf("expected empty model for empty body, got %q", m)
	}
}

func TestModelFromBodyReadsTopLevelModel(t *testing.T) {
	if m := modelFromBody([]byte(`{"model":"gpt-4-turbo"}`)); m != "gpt-4-turbo" {
		t.Errorf("expected gpt-4-turbo, got %q", m)
	}
}
