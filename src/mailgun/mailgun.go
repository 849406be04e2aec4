// Package mailgun is a minimal client for Mailgun's message-send API:
// one multipart POST per message, basic auth, no retries.
package mailgun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Region selects the Mailgun API cluster.
type Region int

const (
	RegionEU Region = iota
	RegionUS
)

// BaseURL returns the API root for the region.
func (r Region) BaseURL() string {
	switch r {
	case RegionUS:
		return "https://api.mailgun.net/v3"
	default:
		return "https://api.eu.mailgun.net/v3"
	}
}

// ParseRegion maps a config string to a Region.
func ParseRegion(s string) (Region, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eu":
		return RegionEU, nil
	case "us":
		return RegionUS, nil
	}
	return RegionEU, fmt.Errorf("unknown mailgun region %q (want eu or us)", s)
}

// AttachmentType controls whether an attachment is inline (referencable
// from HTML bodies) or a regular attachment.
type AttachmentType int

const (
	AttachmentInline AttachmentType = iota
	AttachmentFile
)

func (t AttachmentType) fieldName() string {
	if t == AttachmentInline {
		return "inline"
	}
	return "attachment"
}

// Attachment is one file sent with a message.
type Attachment struct {
	Type     AttachmentType
	Name     string
	MIMEType string
	Bytes    []byte
}

// SendRequest is one outbound message.
type SendRequest struct {
	FromName    string
	FromEmail   string
	To          []string
	Subject     string
	Text        string
	HTML        string // optional
	Attachments []Attachment
}

// SendResponse is Mailgun's acknowledgement.
type SendResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// Client sends messages for one Mailgun domain.
type Client struct {
	// BaseURL overrides the region endpoint; tests point it at a local
	// server. Empty means the region's production API.
	BaseURL    string
	Region     Region
	Domain     string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient returns a client for the given domain and key.
func NewClient(region Region, domain, apiKey string) *Client {
	return &Client{
		Region:     region,
		Domain:     domain,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts the message and returns Mailgun's response. A non-2xx status
// is an error; the body is included for diagnosis.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	fields := map[string]string{
		"from":    fmt.Sprintf("%s <%s>", req.FromName, req.FromEmail),
		"to":      strings.Join(req.To, ","),
		"subject": req.Subject,
		"text":    req.Text,
	}
	if req.HTML != "" {
		fields["html"] = req.HTML
	}
	for _, name := range []string{"from", "to", "subject", "text", "html"} {
		v, ok := fields[name]
		if !ok {
			continue
		}
		if err := form.WriteField(name, v); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", name, err)
		}
	}
	for _, att := range req.Attachments {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, att.Type.fieldName(), att.Name))
		header.Set("Content-Type", att.MIMEType)
		part, err := form.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("create attachment part: %w", err)
		}
		if _, err := part.Write(att.Bytes); err != nil {
			return nil, fmt.Errorf("write attachment: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}

	base := c.BaseURL
	if base == "" {
		base = c.Region.BaseURL()
	}
	url := fmt.Sprintf("%s/%s/messages", base, c.Domain)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.SetBasicAuth("api", c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send mailgun request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mailgun returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var parsed SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode mailgun response: %w", err)
	}
	return &parsed, nil
}
