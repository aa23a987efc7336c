package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"civicsync-dispatch/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/m-mizutani/goerr/v2"
)

// Remote calls an HTTP inference service exposing
//
//	POST {base}/classify/image     raw image body
//	POST {base}/classify/severity  {"text": "..."}
//
// Both answer {"label": "...", "confidence": 0.0-1.0}.
type Remote struct {
	baseURL string
	client  *http.Client
}

func NewRemote(baseURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

func (r *Remote) ClassifyImage(ctx context.Context, image []byte) (models.IssueCategory, float64, error) {
	if len(image) == 0 {
		return "", 0, goerr.New("empty image")
	}
	contentType := mimetype.Detect(image).String()
	p, err := r.post(ctx, "/classify/image", contentType, image)
	if err != nil {
		return "", 0, err
	}
	return models.IssueCategory(p.Label), p.Confidence, nil
}

func (r *Remote) ClassifySeverity(ctx context.Context, text string) (models.IssueSeverity, float64, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", 0, goerr.Wrap(err, "failed to encode severity request")
	}
	p, err := r.post(ctx, "/classify/severity", "application/json", body)
	if err != nil {
		return "", 0, err
	}
	return models.IssueSeverity(p.Label), p.Confidence, nil
}

func (r *Remote) post(ctx context.Context, path, contentType string, body []byte) (*prediction, error) {
	url := r.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build classifier request", goerr.V("url", url))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "classifier request failed", goerr.V("url", url))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, goerr.New("classifier returned non-200 status",
			goerr.V("url", url),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(msg)),
		)
	}

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, goerr.Wrap(err, "failed to decode classifier response", goerr.V("url", url))
	}
	return &p, nil
}
