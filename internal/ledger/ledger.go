// Package ledger describes the object ledger sealgate coordinates with and
// provides a single-node SQLite implementation of it for local use.
//
// The orchestrator only relies on three calls: GetObject,
// GetOwnedObjectsByType and SubmitTransaction. Writes are not assumed to be
// visible to reads that follow them.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Ledger is the interface the orchestrator needs from the chain.
type Ledger interface {
	GetObject(ctx context.Context, id string) (Object, error)
	GetOwnedObjectsByType(ctx context.Context, owner string, typ TypeTag) ([]Object, error)
	SubmitTransaction(ctx context.Context, tx Transaction) (Effects, error)
}

// TypeTag is a fully qualified struct type: <package>::<module>::<name>.
// Tags are compared as exact strings.
type TypeTag string

// StructTag builds a type tag.
func StructTag(pkg, module, name string) TypeTag {
	return TypeTag(pkg + "::" + module + "::" + name)
}

// Parts splits the tag into package, module and struct name.
func (t TypeTag) Parts() (pkg, module, name string, ok bool) {
	parts := strings.Split(string(t), "::")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Object is one ledger object. Shared objects have an empty Owner.
type Object struct {
	ID      string          `json:"id"`
	Type    TypeTag         `json:"type"`
	Owner   string          `json:"owner,omitempty"`
	Version uint64          `json:"version"`
	Fields  json.RawMessage `json:"fields"`
}

// Decode unmarshals the object's fields into dst.
func (o Object) Decode(dst any) error {
	if len(o.Fields) == 0 {
		return fmt.Errorf("object %s has no fields", o.ID)
	}
	if err := json.Unmarshal(o.Fields, dst); err != nil {
		return fmt.Errorf("decode %s fields: %w", o.Type, err)
	}
	return nil
}

// Call invokes one contract function. Args are positional and rendered as
// strings: object ids, addresses, decimal integers or UTF-8 text.
type Call struct {
	Target string   `json:"target"`
	Args   []string `json:"args"`
}

// MoveCall builds a Call for <pkg>::<module>::<function>.
func MoveCall(pkg, module, function string, args ...string) Call {
	return Call{Target: pkg + "::" + module + "::" + function, Args: args}
}

// Transaction is a batch of calls executed atomically on behalf of Sender.
type Transaction struct {
	Sender    string `json:"sender"`
	Calls     []Call `json:"calls"`
	GasBudget uint64 `json:"gas_budget,omitempty"`
}

// ObjectRef identifies an object touched by a transaction.
type ObjectRef struct {
	ID      string  `json:"id"`
	Type    TypeTag `json:"type"`
	Owner   string  `json:"owner,omitempty"`
	Version uint64  `json:"version"`
}

// Effects summarizes an executed transaction.
type Effects struct {
	Digest      string      `json:"digest"`
	Status      string      `json:"status"`
	TimestampMs int64       `json:"timestamp_ms"`
	Created     []ObjectRef `json:"created,omitempty"`
	Mutated     []ObjectRef `json:"mutated,omitempty"`
}

// CreatedOfType returns the first created object with the given struct name.
func (e Effects) CreatedOfType(module, name string) (ObjectRef, bool) {
	for _, ref := range e.Created {
		_, m, n, ok := ref.Type.Parts()
		if ok && m == module && n == name {
			return ref, true
		}
	}
	return ObjectRef{}, false
}

// AbortError is a contract-level failure raised while executing a call.
type AbortError struct {
	Function string `json:"function"`
	Code     uint64 `json:"code"`
	Message  string `json:"message,omitempty"`
}

func (e *AbortError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("abort in %s (code %d): %s", e.Function, e.Code, e.Message)
	}
	return fmt.Sprintf("abort in %s (code %d)", e.Function, e.Code)
}
