package providers

import (
	"testing"

	"github.com/aviv90/tasker-server-sub010/internal/config"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

func newTestSuno(t *testing.T) *Suno {
	t.Helper()
	s, err := NewSuno(config.SunoConfig{APIKey: "test-key"}, "https://example.com/callbacks/suno")
	if err != nil {
		t.Fatalf("NewSuno failed: %v", err)
	}
	return s
}

func TestNewSunoRequiresKeyAndCallback(t *testing.T) {
	if _, err := NewSuno(config.SunoConfig{}, "https://example.com/cb"); err == nil {
		t.Error("expected an error without an API key")
	}
	if _, err := NewSuno(config.SunoConfig{APIKey: "k"}, ""); err == nil {
		t.Error("expected an error without a callback URL")
	}
}

func TestParseCallbackComplete(t *testing.T) {
	s := newTestSuno(t)

	body := []byte(`{
		"code": 200,
		"msg": "success",
		"data": {
			"callbackType": "complete",
			"task_id": "task-abc",
			"data": [
				{"id": "tr-1", "audio_url": "https://cdn.example.com/a.mp3", "image_url": "https://cdn.example.com/a.jpg", "title": "First Track"},
				{"id": "tr-2", "audio_url": "", "source_audio_url": "https://cdn.example.com/b.mp3", "title": "Second Track"}
			]
		}
	}`)

	notice, err := s.ParseCallback(body)
	if err != nil {
		t.Fatalf("ParseCallback failed: %v", err)
	}

	if notice.SubmissionID != "task-abc" {
		t.Errorf("submission id = %q, want %q", notice.SubmissionID, "task-abc")
	}
	if notice.Stage != types.StageComplete {
		t.Errorf("stage = %q, want %q", notice.Stage, types.StageComplete)
	}
	if len(notice.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(notice.Candidates))
	}

	// Track order is preserved as the API reported it.
	first := notice.Candidates[0]
	if first.URL != "https://cdn.example.com/a.mp3" {
		t.Errorf("first track url = %q", first.URL)
	}
	if first.ResultID != "tr-1" {
		t.Errorf("first track id = %q, want tr-1", first.ResultID)
	}
	if first.CoverURL != "https://cdn.example.com/a.jpg" {
		t.Errorf("first track cover = %q", first.CoverURL)
	}
	if first.Caption != "First Track" {
		t.Errorf("first track caption = %q", first.Caption)
	}

	// Empty audio_url falls back to source_audio_url.
	if notice.Candidates[1].URL != "https://cdn.example.com/b.mp3" {
		t.Errorf("second track url = %q, want the source audio url", notice.Candidates[1].URL)
	}
}

func TestParseCallbackIntermediateStages(t *testing.T) {
	s := newTestSuno(t)

	tests := []struct {
		callbackType string
		want         types.NoticeStage
	}{
		{"text", types.StageTextReady},
		{"first", types.StageFirstCandidate},
	}

	for _, tt := range tests {
		t.Run(tt.callbackType, func(t *testing.T) {
			body := []byte(`{"code": 200, "data": {"callbackType": "` + tt.callbackType + `", "task_id": "task-1", "data": []}}`)
			notice, err := s.ParseCallback(body)
			if err != nil {
				t.Fatalf("ParseCallback failed: %v", err)
			}
			if notice.Stage != tt.want {
				t.Errorf("stage = %q, want %q", notice.Stage, tt.want)
			}
			if notice.Stage.Terminal() {
				t.Errorf("%q must not be terminal", notice.Stage)
			}
		})
	}
}

func TestParseCallbackFailure(t *testing.T) {
	s := newTestSuno(t)

	body := []byte(`{"code": 400, "msg": "prompt rejected", "data": {"callbackType": "error", "task_id": "task-9"}}`)
	notice, err := s.ParseCallback(body)
	if err != nil {
		t.Fatalf("ParseCallback failed: %v", err)
	}

	if notice.Stage != types.StageFailed {
		t.Errorf("stage = %q, want %q", notice.Stage, types.StageFailed)
	}
	if notice.Err != "prompt rejected" {
		t.Errorf("err = %q, want the provider message", notice.Err)
	}
}

func TestParseCallbackErrors(t *testing.T) {
	s := newTestSuno(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing task id", `{"code": 200, "data": {"callbackType": "complete", "data": []}}`},
		{"unknown callback type", `{"code": 200, "data": {"callbackType": "partial", "task_id": "t1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ParseCallback([]byte(tt.body)); err == nil {
				t.Error("expected a parse error")
			}
		})
	}
}
