package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aviv90/tasker-server-sub010/internal/config"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

const sunoID = "suno"

// Suno generates music through the sunoapi.org REST API. Generation is
// asynchronous: submission returns a task id and the API reports progress
// by POSTing staged callbacks (text, first track, complete) to the
// callback URL supplied at submission time.
type Suno struct {
	apiKey      string
	baseURL     string
	model       string
	callbackURL string
	client      *http.Client
}

// NewSuno creates the Suno music provider. callbackURL is the absolute
// URL the API will POST completion notices to.
func NewSuno(cfg config.SunoConfig, callbackURL string) (*Suno, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("suno: API key required")
	}
	if callbackURL == "" {
		return nil, fmt.Errorf("suno: callback URL required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.sunoapi.org"
	}
	model := cfg.Model
	if model == "" {
		model = "V4_5"
	}
	return &Suno{
		apiKey:      cfg.APIKey,
		baseURL:     base,
		model:       model,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (s *Suno) ID() string    { return sunoID }
func (s *Suno) Label() string { return "Suno" }

func (s *Suno) Kinds() []types.MediaKind {
	return []types.MediaKind{types.KindMusic}
}

type sunoGenerateRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
	CallBackURL  string `json:"callBackUrl"`
}

type sunoGenerateResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

func (s *Suno) Generate(ctx context.Context, req types.GenRequest) (*Outcome, error) {
	if req.Kind != types.KindMusic {
		return nil, Errf(sunoID, FailUnknown, "unsupported media kind %s", req.Kind)
	}

	model := s.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	body := sunoGenerateRequest{
		Prompt:       req.Prompt,
		Instrumental: req.Options.Instrumental,
		Model:        model,
		CallBackURL:  s.callbackURL,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Errf(sunoID, FailUnknown, "failed to encode request: %v", err)
	}

	L_debug("suno: submitting generation", "model", model, "instrumental", body.Instrumental)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/api/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, Errf(sunoID, FailUnknown, "failed to create request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, Errf(sunoID, FailTransport, "request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Errf(sunoID, FailTransport, "failed to read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return nil, Wrap(sunoID, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw)))
	}

	var sResp sunoGenerateResponse
	if err := json.Unmarshal(raw, &sResp); err != nil {
		return nil, Errf(sunoID, FailTransport, "failed to decode response: %v", err)
	}
	if sResp.Code != 200 {
		return nil, Wrap(sunoID, fmt.Errorf("code=%d msg=%s", sResp.Code, sResp.Msg))
	}
	if sResp.Data.TaskID == "" {
		return nil, Errf(sunoID, FailTransport, "submission accepted without task id")
	}

	L_info("suno: task submitted", "taskId", sResp.Data.TaskID)

	return &Outcome{Submission: &Submission{
		ID:   sResp.Data.TaskID,
		Mode: WaitCallback,
	}}, nil
}

// sunoCallback is the wire shape of the staged callbacks POSTed by the API.
type sunoCallback struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		CallbackType string      `json:"callbackType"`
		TaskID       string      `json:"task_id"`
		Data         []sunoTrack `json:"data"`
	} `json:"data"`
}

type sunoTrack struct {
	ID             string  `json:"id"`
	AudioURL       string  `json:"audio_url"`
	SourceAudioURL string  `json:"source_audio_url"`
	StreamAudioURL string  `json:"stream_audio_url"`
	ImageURL       string  `json:"image_url"`
	Title          string  `json:"title"`
	Duration       float64 `json:"duration"`
	Tags           string  `json:"tags"`
}

// ParseCallback normalizes a raw callback body into a Notice. Track order
// is preserved as the API reported it. A non-200 code maps to a failed
// stage regardless of callbackType.
func (s *Suno) ParseCallback(body []byte) (*types.Notice, error) {
	var cb sunoCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("suno: invalid callback body: %w", err)
	}
	if cb.Data.TaskID == "" {
		return nil, fmt.Errorf("suno: callback missing task id")
	}

	notice := &types.Notice{SubmissionID: cb.Data.TaskID}

	if cb.Code != 200 {
		notice.Stage = types.StageFailed
		notice.Err = cb.Msg
		if notice.Err == "" {
			notice.Err = fmt.Sprintf("generation failed with code %d", cb.Code)
		}
		return notice, nil
	}

	switch cb.Data.CallbackType {
	case "text":
		notice.Stage = types.StageTextReady
	case "first":
		notice.Stage = types.StageFirstCandidate
	case "complete":
		notice.Stage = types.StageComplete
	default:
		return nil, fmt.Errorf("suno: unknown callback type %q", cb.Data.CallbackType)
	}

	for _, track := range cb.Data.Data {
		url := track.AudioURL
		if url == "" {
			url = track.SourceAudioURL
		}
		notice.Candidates = append(notice.Candidates, types.GenResult{
			Provider: sunoID,
			Kind:     types.KindMusic,
			URL:      url,
			MIME:     "audio/mpeg",
			Caption:  track.Title,
			ResultID: track.ID,
			CoverURL: track.ImageURL,
		})
	}

	return notice, nil
}
