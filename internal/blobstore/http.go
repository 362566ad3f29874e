package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sealgate/internal/errs"
	"sealgate/internal/models"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 4 << 10
)

// HTTPTransport talks to a publisher (uploads) and an aggregator (reads).
type HTTPTransport struct {
	publisher  string
	aggregator string
	http       *http.Client
	authToken  string
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport builds a transport. A nil client uses a default with a
// 60s timeout.
func NewHTTPTransport(publisher, aggregator string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPTransport{
		publisher:  strings.TrimRight(publisher, "/"),
		aggregator: strings.TrimRight(aggregator, "/"),
		http:       client,
	}
}

// SetAuthToken sends token as a bearer credential on uploads. Reads from the
// aggregator stay anonymous.
func (t *HTTPTransport) SetAuthToken(token string) {
	t.authToken = strings.TrimSpace(token)
}

// StoreResponse is the publisher's union: exactly one member is set.
type StoreResponse struct {
	AlreadyCertified *AlreadyCertified `json:"alreadyCertified,omitempty"`
	NewlyCreated     *NewlyCreated     `json:"newlyCreated,omitempty"`
}

// AlreadyCertified reports content the store already held.
type AlreadyCertified struct {
	BlobID   string `json:"blobId"`
	EndEpoch uint64 `json:"endEpoch"`
	Event    struct {
		TxDigest string `json:"txDigest"`
	} `json:"event"`
}

// NewlyCreated reports a fresh storage object.
type NewlyCreated struct {
	BlobObject struct {
		BlobID  string `json:"blobId"`
		ID      string `json:"id"`
		Storage struct {
			EndEpoch uint64 `json:"endEpoch"`
		} `json:"storage"`
	} `json:"blobObject"`
}

// NewStoreResponse renders r in the publisher's wire format.
func NewStoreResponse(r models.BlobResult) StoreResponse {
	if r.Status == models.BlobAlreadyStored {
		ac := &AlreadyCertified{BlobID: r.BlobID, EndEpoch: r.EndEpoch}
		ac.Event.TxDigest = r.CertifyingRef
		return StoreResponse{AlreadyCertified: ac}
	}
	nc := &NewlyCreated{}
	nc.BlobObject.BlobID = r.BlobID
	nc.BlobObject.ID = r.CertifyingRef
	nc.BlobObject.Storage.EndEpoch = r.EndEpoch
	return StoreResponse{NewlyCreated: nc}
}

// normalize folds the union into a BlobResult.
func (r StoreResponse) normalize() (models.BlobResult, error) {
	switch {
	case r.AlreadyCertified != nil && r.NewlyCreated != nil:
		return models.BlobResult{}, errs.New(errs.TransportError, "store response has both alreadyCertified and newlyCreated")
	case r.AlreadyCertified != nil:
		if r.AlreadyCertified.BlobID == "" {
			return models.BlobResult{}, errs.New(errs.TransportError, "store response missing blobId")
		}
		return models.BlobResult{
			Status:        models.BlobAlreadyStored,
			BlobID:        r.AlreadyCertified.BlobID,
			CertifyingRef: r.AlreadyCertified.Event.TxDigest,
			EndEpoch:      r.AlreadyCertified.EndEpoch,
		}, nil
	case r.NewlyCreated != nil:
		obj := r.NewlyCreated.BlobObject
		if obj.BlobID == "" {
			return models.BlobResult{}, errs.New(errs.TransportError, "store response missing blobId")
		}
		return models.BlobResult{
			Status:        models.BlobNewlyStored,
			BlobID:        obj.BlobID,
			CertifyingRef: obj.ID,
			EndEpoch:      obj.Storage.EndEpoch,
		}, nil
	default:
		return models.BlobResult{}, errs.New(errs.TransportError, "store response has neither alreadyCertified nor newlyCreated")
	}
}

// Store uploads data for the given number of epochs.
func (t *HTTPTransport) Store(ctx context.Context, data []byte, epochs int) (models.BlobResult, error) {
	if epochs < 1 {
		epochs = DefaultEpochs
	}
	endpoint := t.publisher + blobsPath + "?epochs=" + strconv.Itoa(epochs)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return models.BlobResult{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		blobOps.WithLabelValues("store", "error").Inc()
		return models.BlobResult{}, transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		blobOps.WithLabelValues("store", "error").Inc()
		return models.BlobResult{}, statusError("store", resp)
	}

	var decoded StoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		blobOps.WithLabelValues("store", "error").Inc()
		return models.BlobResult{}, errs.New(errs.TransportError, "decode store response: %v", err)
	}
	result, err := decoded.normalize()
	if err != nil {
		blobOps.WithLabelValues("store", "error").Inc()
		return models.BlobResult{}, err
	}
	blobOps.WithLabelValues("store", string(result.Status)).Inc()
	return result, nil
}

// Fetch downloads a blob from the aggregator.
func (t *HTTPTransport) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	if strings.TrimSpace(blobID) == "" {
		return nil, errs.New(errs.InvalidInput, "blob id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL(blobID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		blobOps.WithLabelValues("fetch", "error").Inc()
		return nil, transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		blobOps.WithLabelValues("fetch", "not_found").Inc()
		return nil, errs.New(errs.NotFound, "blob %s not found", blobID)
	case http.StatusGone:
		blobOps.WithLabelValues("fetch", "expired").Inc()
		return nil, errs.New(errs.Expired, "blob %s has expired", blobID)
	default:
		blobOps.WithLabelValues("fetch", "error").Inc()
		return nil, statusError("fetch", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		blobOps.WithLabelValues("fetch", "error").Inc()
		return nil, transportFailure(ctx, err)
	}
	blobOps.WithLabelValues("fetch", "ok").Inc()
	return data, nil
}

// URL returns the aggregator URL of blobID.
func (t *HTTPTransport) URL(blobID string) string {
	return BlobURL(t.aggregator, blobID)
}

func transportFailure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errs.Wrap(errs.TransportError, err)
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	err := fmt.Errorf("blob %s: status %d: %s", op, resp.StatusCode, msg)
	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return errs.WithReason(errs.InvalidInput, errs.ReasonPayloadTooLarge, err)
	}
	return errs.Wrap(errs.TransportError, err)
}
