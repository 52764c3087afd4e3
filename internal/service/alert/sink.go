package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrSinkRejected is returned when the sink answers with anything but 200.
	ErrSinkRejected = errors.New("alert sink rejected request")
	// ErrNoSink is returned when no webhook URL is configured.
	ErrNoSink = errors.New("alert sink not configured")
)

// Payload is the multipart body of one alert.
type Payload struct {
	Image       []byte
	Filename    string
	Latitude    string
	Longitude   string
	ObjectType  string
	CaseDetails string
	Severity    string
}

// Sink delivers a payload to the external receiver.
type Sink interface {
	Send(ctx context.Context, p Payload) error
}

// WebhookSink posts payloads as multipart/form-data to a fixed URL.
type WebhookSink struct {
	url       string
	secret    string
	authToken string
	client    *http.Client
}

// NewWebhookSink creates a sink. timeout bounds every request.
func NewWebhookSink(url, secret, authToken string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{
		url:       url,
		secret:    secret,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// Send posts the payload once.
func (s *WebhookSink) Send(ctx context.Context, p Payload) error {
	if s.url == "" {
		return ErrNoSink
	}
	body, contentType, err := encodePayload(p)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if s.secret != "" {
		req.Header.Set("x-webhook-secret", s.secret)
	}
	if s.authToken != "" {
		req.Header.Set("authorization", s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return &RejectedError{StatusCode: resp.StatusCode}
	}
	return nil
}

// RejectedError carries the status code of a refused alert.
type RejectedError struct {
	StatusCode int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: status %d", ErrSinkRejected, e.StatusCode)
}

func (e *RejectedError) Unwrap() error {
	return ErrSinkRejected
}

func encodePayload(p Payload) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, p.Filename))
	h.Set("Content-Type", mimeType(p.Filename))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(p.Image); err != nil {
		return nil, "", fmt.Errorf("failed to write image part: %w", err)
	}

	fields := [][2]string{
		{"latitude", p.Latitude},
		{"longitude", p.Longitude},
		{"objectType", p.ObjectType},
		{"caseDetails", p.CaseDetails},
		{"severity", p.Severity},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return body, w.FormDataContentType(), nil
}

func mimeType(filename string) string {
	if strings.EqualFold(filepath.Ext(filename), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}
