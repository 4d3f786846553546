package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// Client talks to the Media Relay Service, the component that actually
// carries media. The coordinator only asks it for a recording handle and
// forwards quality hints; media bytes never pass through here.
type Client interface {
	StartRecording(ctx context.Context, roomID string, quality domain.RecordingQuality) (string, error)
	StopRecording(ctx context.Context, roomID, recordingID string) error
	SetQualityHint(ctx context.Context, roomID string, quality domain.RecordingQuality) error
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

type startRecordingRequest struct {
	Quality string `json:"quality"`
}

type startRecordingResponse struct {
	RecordingID string `json:"recording_id"`
}

func (c *HTTPClient) StartRecording(ctx context.Context, roomID string, quality domain.RecordingQuality) (string, error) {
	var resp startRecordingResponse
	err := c.post(ctx,
		fmt.Sprintf("/rooms/%s/recordings", url.PathEscape(roomID)),
		startRecordingRequest{Quality: string(quality)}, &resp)
	if err != nil {
		return "", err
	}
	if resp.RecordingID == "" {
		return "", fmt.Errorf("relay returned empty recording id for room %s", roomID)
	}
	return resp.RecordingID, nil
}

func (c *HTTPClient) StopRecording(ctx context.Context, roomID, recordingID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+fmt.Sprintf("/rooms/%s/recordings/%s", url.PathEscape(roomID), url.PathEscape(recordingID)), nil)
	if err != nil {
		return err
	}
	return c.send(req, nil)
}

func (c *HTTPClient) SetQualityHint(ctx context.Context, roomID string, quality domain.RecordingQuality) error {
	return c.post(ctx,
		fmt.Sprintf("/rooms/%s/quality-hint", url.PathEscape(roomID)),
		startRecordingRequest{Quality: string(quality)}, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *HTTPClient) send(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Noop issues synthetic handles when no relay is configured, keeping the
// recording state machine usable in dev.
type Noop struct{}

func (Noop) StartRecording(_ context.Context, roomID string, _ domain.RecordingQuality) (string, error) {
	return "local-" + roomID, nil
}

func (Noop) StopRecording(context.Context, string, string) error { return nil }

func (Noop) SetQualityHint(context.Context, string, domain.RecordingQuality) error { return nil }
