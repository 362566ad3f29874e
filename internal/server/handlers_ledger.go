package server

import (
	"net/http"
	"strings"

	"sealgate/internal/errs"
	"sealgate/internal/ledger"
	"sealgate/internal/models"
)

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	id, err := requirePathValue(r, "id")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	obj, err := s.ledger.GetObject(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, obj)
}

func (s *Server) handleOwnedObjects(w http.ResponseWriter, r *http.Request) {
	rawOwner, err := requirePathValue(r, "owner")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	owner, err := models.ParseAddress(rawOwner)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	typ := ledger.TypeTag(strings.TrimSpace(r.URL.Query().Get("type")))
	if _, _, _, ok := typ.Parts(); !ok {
		s.writeDomainError(w, r, badRequestCode(errs.New(errs.InvalidInput, "type must be <package>::<module>::<struct>"), ErrCodeInvalidQuery))
		return
	}
	objs, err := s.ledger.GetOwnedObjectsByType(r.Context(), owner.String(), typ)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if objs == nil {
		objs = []ledger.Object{}
	}
	s.writeJSON(w, http.StatusOK, objs)
}

func (s *Server) handleKeyServers(w http.ResponseWriter, r *http.Request) {
	objs, err := s.ledger.ListObjectsByType(r.Context(), s.ledger.KeyServerType())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if objs == nil {
		objs = []ledger.Object{}
	}
	s.writeJSON(w, http.StatusOK, objs)
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx ledger.Transaction
	if !s.decodeJSONReq(w, r, &tx) {
		return
	}
	effects, err := s.ledger.SubmitTransaction(r.Context(), tx)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.log().Debug("transaction executed", "digest", effects.Digest, "sender", tx.Sender, "calls", len(tx.Calls), "request_id", requestIDFrom(r))
	s.writeJSON(w, http.StatusOK, effects)
}
