package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/zkceremony/contributor/x/ceremony"
)

// Client implements Store reads and Callables over the coordination
// service's REST API. Subscriptions are delegated to a Watcher.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	watcher    *Watcher
	log        zerolog.Logger
}

// NewClient constructs a coordination client for the given base URL. The
// watcher is optional; without one, Subscribe returns an error.
func NewClient(rawURL string, httpClient *http.Client, watcher *Watcher, log zerolog.Logger) (*Client, error) {
	if rawURL == "" {
		return nil, errors.New("coordination: base URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("coordination: invalid base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    parsed,
		httpClient: httpClient,
		watcher:    watcher,
		log:        log.With().Str("component", "coordination-client").Logger(),
	}, nil
}

// GetDocument fetches one document. A missing document yields an empty
// snapshot, not an error.
func (c *Client) GetDocument(ctx context.Context, ref string) (Snapshot, error) {
	var res documentResponse
	if err := c.get(ctx, path.Join("v1", "documents", ref), &res); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Ref: ref, ID: res.ID, Exists: res.Exists, Data: res.Data}, nil
}

// ListDocuments fetches every document of a collection in commit order.
func (c *Client) ListDocuments(ctx context.Context, ref string) ([]Snapshot, error) {
	var res collectionResponse
	if err := c.get(ctx, path.Join("v1", "collections", ref), &res); err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(res.Documents))
	for _, doc := range res.Documents {
		out = append(out, Snapshot{
			Ref:    fmt.Sprintf("%s/%s", ref, doc.ID),
			ID:     doc.ID,
			Exists: true,
			Data:   doc.Data,
		})
	}
	return out, nil
}

// Subscribe attaches a per-ref change listener through the watcher.
func (c *Client) Subscribe(ctx context.Context, ref string, fn func(Snapshot)) (Unsubscribe, error) {
	if c.watcher == nil {
		return nil, errors.New("coordination: no watcher configured")
	}
	return c.watcher.Subscribe(ctx, ref, fn)
}

// CheckParticipantForCeremony asks the server whether the authenticated
// participant may join (or rejoin) the ceremony.
func (c *Client) CheckParticipantForCeremony(ctx context.Context, ceremonyID string) (bool, error) {
	var out struct {
		CanParticipate bool `json:"canParticipate"`
	}
	err := c.call(ctx, "checkParticipantForCeremony", map[string]any{"ceremonyId": ceremonyID}, &out)
	if err != nil {
		return false, err
	}
	return out.CanParticipate, nil
}

// ProgressToNextCircuitForContribution moves the participant to the next
// circuit's waiting queue.
func (c *Client) ProgressToNextCircuitForContribution(ctx context.Context, ceremonyID string) error {
	return c.call(ctx, "progressToNextCircuitForContribution", map[string]any{"ceremonyId": ceremonyID}, nil)
}

// ProgressToNextContributionStep advances the participant's step.
func (c *Client) ProgressToNextContributionStep(ctx context.Context, ceremonyID string) error {
	return c.call(ctx, "progressToNextContributionStep", map[string]any{"ceremonyId": ceremonyID}, nil)
}

// PermanentlyStoreCurrentContributionTimeAndHash records the computation
// result on the participant record.
func (c *Client) PermanentlyStoreCurrentContributionTimeAndHash(ctx context.Context, ceremonyID string, timeMs int64, hash string) error {
	return c.call(ctx, "permanentlyStoreCurrentContributionTimeAndHash", map[string]any{
		"ceremonyId":          ceremonyID,
		"contributionTimeMs":  timeMs,
		"contributionHash":    hash,
	}, nil)
}

// VerifyContribution asks the remote verifier to validate the uploaded zkey.
func (c *Client) VerifyContribution(ctx context.Context, ceremonyID, circuitID, bucket, contributorID, verifyURL string) error {
	return c.call(ctx, "verifyContribution", map[string]any{
		"ceremonyId":            ceremonyID,
		"circuitId":             circuitID,
		"bucketName":            bucket,
		"contributorOrCoordinatorIdentifier": contributorID,
		"verifyContributionURL": verifyURL,
	}, nil)
}

// ResumeContributionAfterTimeoutExpiration rejoins the current circuit once
// a cool-down has elapsed.
func (c *Client) ResumeContributionAfterTimeoutExpiration(ctx context.Context, ceremonyID string) error {
	return c.call(ctx, "resumeContributionAfterTimeoutExpiration", map[string]any{"ceremonyId": ceremonyID}, nil)
}

// TemporaryStoreCurrentContributionMultipartUploadID persists the multipart
// upload id so a later session can resume the same upload.
func (c *Client) TemporaryStoreCurrentContributionMultipartUploadID(ctx context.Context, ceremonyID, uploadID string) error {
	return c.call(ctx, "temporaryStoreCurrentContributionMultiPartUploadId", map[string]any{
		"ceremonyId": ceremonyID,
		"uploadId":   uploadID,
	}, nil)
}

// TemporaryStoreCurrentContributionUploadedChunk acknowledges one uploaded
// part on the participant's scratch data.
func (c *Client) TemporaryStoreCurrentContributionUploadedChunk(ctx context.Context, ceremonyID string, chunk ceremony.ETagPart) error {
	return c.call(ctx, "temporaryStoreCurrentContributionUploadedChunkData", map[string]any{
		"ceremonyId": ceremonyID,
		"chunk":      chunk,
	}, nil)
}

func (c *Client) get(ctx context.Context, p string, out any) error {
	endpoint := c.buildURL(p)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("coordination: prepare request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) call(ctx context.Context, name string, args map[string]any, out any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("coordination: marshal %s args: %w", name, err)
	}

	endpoint := c.buildURL(path.Join("v1", "functions", name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("coordination: prepare %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug().Str("callable", name).Msg("invoking server callable")
	if err := c.do(req, out); err != nil {
		return fmt.Errorf("coordination: %s: %w", name, err)
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("server returned %s: %s", res.Status, string(msg))
	}

	var envelope struct {
		Success bool            `json:"success"`
		Error   *string         `json:"error"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return errors.New(*envelope.Error)
		}
		return errors.New("server reported failure")
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

func (c *Client) buildURL(elem ...string) string {
	clone := *c.baseURL
	clone.Path = path.Join(append([]string{c.baseURL.Path}, elem...)...)
	return clone.String()
}

type documentResponse struct {
	ID     string          `json:"id"`
	Exists bool            `json:"exists"`
	Data   json.RawMessage `json:"data"`
}

type collectionResponse struct {
	Documents []documentResponse `json:"documents"`
}

var (
	_ Store     = (*Client)(nil)
	_ Callables = (*Client)(nil)
)
