package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"sealgate/internal/blobstore"
	"sealgate/internal/errs"
)

func (s *Server) handleStoreBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		s.writeDomainError(w, r, errs.New(errs.ServiceUnavailable, "blob store is not configured"))
		return
	}
	epochs := blobstore.DefaultEpochs
	if raw := strings.TrimSpace(r.URL.Query().Get("epochs")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeDomainError(w, r, badRequestCode(fmt.Errorf("epochs must be a positive integer"), ErrCodeInvalidQuery))
			return
		}
		epochs = parsed
	}

	if !s.acquireLimiter(s.uploadLimiter, w, r, "upload") {
		return
	}
	defer s.releaseLimiter(s.uploadLimiter)

	body := http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeErrorReq(w, r, http.StatusRequestEntityTooLarge, makeAPIError(http.StatusRequestEntityTooLarge,
				string(errs.InvalidInput), ErrCodeRequestTooLarge,
				errs.WithReason(errs.InvalidInput, errs.ReasonPayloadTooLarge, fmt.Errorf("blob exceeds %d bytes", s.maxUploadBytes))))
			return
		}
		s.writeDomainError(w, r, badRequestCode(err, ErrCodeInvalidArgument))
		return
	}
	if len(data) == 0 {
		s.writeDomainError(w, r, badRequestCode(fmt.Errorf("blob body is empty"), ErrCodeInvalidArgument))
		return
	}

	result, err := s.blobs.Store(r.Context(), data, epochs)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError, makeAPIError(http.StatusInternalServerError, "internal", ErrCodeBlobStoreFailure, err))
		return
	}
	s.log().Debug("blob stored", "blob_id", result.BlobID, "status", result.Label(), "end_epoch", result.EndEpoch, "request_id", requestIDFrom(r))
	s.writeJSON(w, http.StatusOK, blobstore.NewStoreResponse(result))
}

func (s *Server) handleFetchBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		s.writeDomainError(w, r, errs.New(errs.ServiceUnavailable, "blob store is not configured"))
		return
	}
	id, err := requirePathValue(r, "id")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	rc, meta, err := s.blobs.Open(r.Context(), id)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.NotFound:
			s.writeErrorReq(w, r, http.StatusNotFound, makeAPIError(http.StatusNotFound, string(errs.NotFound), ErrCodeBlobNotFound, err))
		case errs.Expired:
			s.writeErrorReq(w, r, http.StatusGone, makeAPIError(http.StatusGone, string(errs.Expired), ErrCodeBlobExpired, err))
		default:
			s.writeErrorReq(w, r, http.StatusInternalServerError, makeAPIError(http.StatusInternalServerError, "internal", ErrCodeBlobStoreFailure, err))
		}
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(meta.SizeBytes, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.log().Warn("stream blob", "blob_id", id, "error", err)
	}
}
