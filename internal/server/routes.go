package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check, info and metrics.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/info", s.handleInfo)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Ledger reads.
	mux.HandleFunc("GET /v1/objects/{id}", s.handleGetObject)
	mux.HandleFunc("GET /v1/owners/{owner}/objects", s.handleOwnedObjects)
	mux.HandleFunc("GET /v1/keyservers", s.handleKeyServers)

	// Ledger writes.
	mux.HandleFunc("POST /v1/transactions", s.handleSubmitTransaction)

	// Blob publisher and aggregator.
	mux.HandleFunc("PUT /v1/blobs", s.handleStoreBlob)
	mux.HandleFunc("GET /v1/blobs/{id}", s.handleFetchBlob)

	return mux
}
