package server

import (
	"net/http"

	"sealgate/internal/api"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.ledger.Info(r.Context())
	if err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError, makeAPIError(http.StatusInternalServerError, "internal", ErrCodeStoreFailure, err))
		return
	}
	keyServers, err := s.ledger.ListObjectsByType(r.Context(), s.ledger.KeyServerType())
	if err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError, makeAPIError(http.StatusInternalServerError, "internal", ErrCodeStoreFailure, err))
		return
	}

	resp := api.InfoResponse{
		Network:       s.network,
		PackageID:     s.ledger.PackageID(),
		DBPath:        s.dbPath,
		SchemaVersion: info.SchemaVersion,
		ObjectCounts:  info.ObjectCounts,
		Transactions:  info.Transactions,
		KeyServers:    len(keyServers),
	}
	if s.blobs != nil {
		resp.BlobEpoch = s.blobs.CurrentEpoch()
	}
	s.writeJSON(w, http.StatusOK, resp)
}
