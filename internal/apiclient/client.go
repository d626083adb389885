package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "go-analysis-console/internal/errors"
	"go-analysis-console/internal/request"
	"go-analysis-console/pkg/models"
)

const maxErrorBody = 64 * 1024

// Service is the remote analysis API as the orchestration core sees it.
type Service interface {
	Execute(ctx context.Context, d request.Descriptor) (*models.AnalysisResult, error)
	ListModels(ctx context.Context) (*models.ModelCatalog, error)
	Predictions(ctx context.Context, limit int) ([]models.HistoryRecord, error)
	Stats(ctx context.Context) (*models.StatsSnapshot, error)
	FetchImage(ctx context.Context, id string) (*Image, error)
}

// Image is a streamed binary image; the caller closes Body.
type Image struct {
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}

// StatusError is a non-2xx answer. ServiceMessage holds the "error" field
// of the body when the service sent one.
type StatusError struct {
	StatusCode     int
	ServiceMessage string
}

func (e *StatusError) Error() string {
	if e.ServiceMessage != "" {
		return fmt.Sprintf("service returned status %d: %s", e.StatusCode, e.ServiceMessage)
	}
	return fmt.Sprintf("service returned status %d", e.StatusCode)
}

// ServiceMessage extracts the service's own error text from err, if any.
func ServiceMessage(err error) (string, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.ServiceMessage != "" {
		return se.ServiceMessage, true
	}
	return "", false
}

// Client talks to the analysis service over HTTP. The base URL is fixed at
// construction.
type Client struct {
	baseURL string
	client  *http.Client
}

// New builds a client for baseURL (already validated, no trailing slash).
func New(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,

		// one service host, a handful of concurrent calls at most
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 16 << 10,
	}

	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
}

// Execute sends one analysis request and normalizes the answer into the
// tagged result for the descriptor's mode.
func (c *Client) Execute(ctx context.Context, d request.Descriptor) (*models.AnalysisResult, error) {
	if d.File == nil {
		return nil, apperrors.NewValidationError("Please select an image first", nil)
	}

	body, contentType, err := encodeMultipart(d)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, c.baseURL+d.Path, body)
	if err != nil {
		return nil, apperrors.NewInternalError("invalid request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result *models.AnalysisResult
	switch d.Mode {
	case models.ModeClassify:
		result, err = decodeClassification(raw)
	case models.ModeSegment:
		result, err = decodeSegmentation(raw)
	case models.ModeCompare:
		result, err = decodeComparison(raw)
	default:
		err = fmt.Errorf("no decoder for mode %q", d.Mode)
	}
	if err != nil {
		return nil, apperrors.NewTransportError("malformed response from the analysis service", err)
	}
	return result, nil
}

// ListModels returns the models the service offers.
func (c *Client) ListModels(ctx context.Context) (*models.ModelCatalog, error) {
	var wire modelsResponse
	if err := c.getJSON(ctx, "/models", nil, &wire); err != nil {
		return nil, err
	}
	return &models.ModelCatalog{
		Classification: nonNilModels(wire.Classification),
		Segmentation:   nonNilModels(wire.Segmentation),
	}, nil
}

// Predictions returns up to limit stored analyses.
func (c *Client) Predictions(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var wire predictionsResponse
	if err := c.getJSON(ctx, "/predictions", q, &wire); err != nil {
		return nil, err
	}
	records := make([]models.HistoryRecord, 0, len(wire.Predictions))
	for _, p := range wire.Predictions {
		records = append(records, p.toModel())
	}
	return records, nil
}

// Stats returns the service counters.
func (c *Client) Stats(ctx context.Context) (*models.StatsSnapshot, error) {
	var wire statsResponse
	if err := c.getJSON(ctx, "/stats", nil, &wire); err != nil {
		return nil, err
	}
	return wire.toModel(), nil
}

// FetchImage streams a stored image, e.g. a segmentation overlay.
func (c *Client) FetchImage(ctx context.Context, id string) (*Image, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidationError("image reference is empty", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/image/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, apperrors.NewInternalError("invalid request", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyNetworkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		serr := statusError(resp)
		if resp.StatusCode == http.StatusNotFound {
			return nil, apperrors.NewNotFoundError("image not found", serr)
		}
		return nil, apperrors.NewTransportError(userMessage(serr), serr)
	}

	return &Image{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return apperrors.NewInternalError("invalid request", err)
	}
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NewTransportError("malformed response from the analysis service", err)
	}
	return nil
}

// do runs req once; this client never retries.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := statusError(resp)
		return nil, apperrors.NewTransportError(userMessage(serr), serr)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyNetworkError(err)
	}
	return raw, nil
}

func statusError(resp *http.Response) *StatusError {
	serr := &StatusError{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return serr
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		serr.ServiceMessage = strings.TrimSpace(body.Error)
	}
	return serr
}

func userMessage(serr *StatusError) string {
	if serr.ServiceMessage != "" {
		return serr.ServiceMessage
	}
	return fmt.Sprintf("the analysis service answered with status %d", serr.StatusCode)
}

func classifyNetworkError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("the analysis service did not answer in time", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return apperrors.NewTimeoutError("the analysis service did not answer in time", err)
	}
	return apperrors.NewTransportError("could not reach the analysis service", err)
}

func encodeMultipart(d request.Descriptor) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range d.Fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", err
		}
	}

	name := d.File.Name
	if name == "" {
		name = "upload"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	h.Set("Content-Type", d.File.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(d.File.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
