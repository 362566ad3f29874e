package api

import "sealgate/internal/ledger"

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error     string             `json:"error"`
	Code      string             `json:"code,omitempty"`
	ErrorCode int                `json:"error_code,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Abort     *ledger.AbortError `json:"abort,omitempty"`
}

// InfoResponse describes the ledger and blob store behind a server.
type InfoResponse struct {
	Network       string         `json:"network" yaml:"network"`
	PackageID     string         `json:"package_id" yaml:"package_id"`
	DBPath        string         `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	SchemaVersion int            `json:"schema_version" yaml:"schema_version"`
	ObjectCounts  map[string]int `json:"object_counts" yaml:"object_counts"`
	Transactions  int            `json:"transactions" yaml:"transactions"`
	KeyServers    int            `json:"key_servers" yaml:"key_servers"`
	BlobEpoch     uint64         `json:"blob_epoch" yaml:"blob_epoch"`
}
