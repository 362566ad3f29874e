package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sealgate/internal/errs"
	"sealgate/internal/models"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// SubmitTransaction executes every call of tx atomically. A contract abort
// rolls the whole transaction back and is returned as a Rejected error
// wrapping *AbortError; the failed attempt is still recorded in the log.
func (s *Store) SubmitTransaction(ctx context.Context, tx Transaction) (Effects, error) {
	if err := ctx.Err(); err != nil {
		return Effects{}, err
	}
	sender, err := models.ParseAddress(tx.Sender)
	if err != nil {
		return Effects{}, err
	}
	tx.Sender = sender.String()
	if len(tx.Calls) == 0 {
		return Effects{}, errs.New(errs.InvalidInput, "transaction has no calls")
	}
	budget := tx.GasBudget
	if budget == 0 {
		budget = DefaultGasBudget
	}
	if need := gasPerCall * uint64(len(tx.Calls)); budget < need {
		return Effects{}, errs.New(errs.Rejected, "insufficient gas: budget %d, need %d", budget, need)
	}

	// Serialize execution so object versions advance one transaction at a time.
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()

	digest, err := transactionDigest(tx, now.UnixMilli())
	if err != nil {
		return Effects{}, err
	}

	effects, execErr := s.execute(ctx, tx, digest, now)
	if execErr != nil {
		var abort *AbortError
		if !errors.As(execErr, &abort) {
			return Effects{}, execErr
		}
		if err := recordTransaction(ctx, s.db, digest, tx, StatusFailure, abort.Error(), now); err != nil {
			return Effects{}, err
		}
		return Effects{}, errs.Wrap(errs.Rejected, fmt.Errorf("transaction %s: %w", digest, abort))
	}

	effects.Digest = digest
	effects.Status = StatusSuccess
	effects.TimestampMs = now.UnixMilli()
	return effects, nil
}

func (s *Store) execute(ctx context.Context, tx Transaction, digest string, now time.Time) (effects Effects, err error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Effects{}, err
	}
	defer func() {
		if err != nil {
			_ = dbtx.Rollback()
		}
	}()

	ex := &executor{
		q:         dbtx,
		packageID: s.packageID,
		sender:    tx.Sender,
		now:       now,
	}
	for _, call := range tx.Calls {
		if err = ex.run(ctx, call); err != nil {
			return Effects{}, err
		}
	}

	if err = recordTransaction(ctx, dbtx, digest, tx, StatusSuccess, "", now); err != nil {
		return Effects{}, err
	}
	if err = dbtx.Commit(); err != nil {
		return Effects{}, err
	}
	return ex.effects(), nil
}

func recordTransaction(ctx context.Context, q queryer, digest string, tx Transaction, status, reason string, at time.Time) error {
	calls, err := json.Marshal(tx.Calls)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO transactions (digest, sender, calls, status, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, digest, tx.Sender, string(calls), status, nullIfEmpty(reason), formatTime(at))
	return err
}

// executor applies calls against one open SQL transaction.
type executor struct {
	q         queryer
	packageID string
	sender    string
	now       time.Time

	created []ObjectRef
	mutated map[string]ObjectRef
	order   []string
}

func (ex *executor) run(ctx context.Context, call Call) error {
	pkg, module, fn, ok := TypeTag(call.Target).Parts()
	if !ok || pkg != ex.packageID {
		return &AbortError{Function: call.Target, Code: AbortUnknownFunction, Message: "unknown package"}
	}

	switch module + "::" + fn {
	case ModuleAllowlist + "::" + FnCreateAllowlistEntry:
		return ex.createAllowlist(ctx, call)
	case ModuleAllowlist + "::" + FnAdd:
		return ex.updateMembers(ctx, call, true)
	case ModuleAllowlist + "::" + FnRemove:
		return ex.updateMembers(ctx, call, false)
	case ModuleAllowlist + "::" + FnPublish:
		return ex.publish(ctx, call, ModuleAllowlist)
	case ModuleSubscription + "::" + FnCreateServiceEntry:
		return ex.createService(ctx, call)
	case ModuleSubscription + "::" + FnPublish:
		return ex.publish(ctx, call, ModuleSubscription)
	case ModuleSubscription + "::" + FnSubscribe:
		return ex.subscribe(ctx, call)
	default:
		return &AbortError{Function: call.Target, Code: AbortUnknownFunction, Message: "unknown function"}
	}
}

// create_allowlist_entry(name)
func (ex *executor) createAllowlist(ctx context.Context, call Call) error {
	if err := wantArgs(call, 1); err != nil {
		return err
	}
	name := strings.TrimSpace(call.Args[0])
	if name == "" {
		return badArgument(call, "name is required")
	}
	list, err := ex.create(ctx, StructAllowlist, ModuleAllowlist, "", AllowlistFields{Name: name, List: []string{}, Blobs: []string{}})
	if err != nil {
		return err
	}
	_, err = ex.create(ctx, StructCap, ModuleAllowlist, ex.sender, AllowlistCapFields{AllowlistID: list.ID})
	return err
}

// create_service_entry(fee, ttl, name)
func (ex *executor) createService(ctx context.Context, call Call) error {
	if err := wantArgs(call, 3); err != nil {
		return err
	}
	fee, err := strconv.ParseUint(call.Args[0], 10, 64)
	if err != nil {
		return badArgument(call, "fee must be an unsigned integer")
	}
	ttl, err := strconv.ParseInt(call.Args[1], 10, 64)
	if err != nil || ttl < 0 {
		return badArgument(call, "ttl must be a non-negative integer")
	}
	name := strings.TrimSpace(call.Args[2])
	if name == "" {
		return badArgument(call, "name is required")
	}
	service, err := ex.create(ctx, StructService, ModuleSubscription, "", ServiceFields{
		Fee:   fee,
		TTL:   ttl,
		Owner: ex.sender,
		Name:  name,
		Blobs: []string{},
	})
	if err != nil {
		return err
	}
	_, err = ex.create(ctx, StructCap, ModuleSubscription, ex.sender, ServiceCapFields{ServiceID: service.ID})
	return err
}

// add(allowlist, cap, account) / remove(allowlist, cap, account)
//
// Both are idempotent: adding a present member or removing an absent one
// succeeds without mutating the object.
func (ex *executor) updateMembers(ctx context.Context, call Call, add bool) error {
	if err := wantArgs(call, 3); err != nil {
		return err
	}
	listID, capID := call.Args[0], call.Args[1]
	account, err := models.ParseAddress(call.Args[2])
	if err != nil {
		return badArgument(call, err.Error())
	}

	list, err := ex.load(ctx, call, listID, StructAllowlist, ModuleAllowlist)
	if err != nil {
		return err
	}
	if err := ex.checkCap(ctx, call, ModuleAllowlist, listID, capID); err != nil {
		return err
	}

	var fields AllowlistFields
	if err := list.Decode(&fields); err != nil {
		return err
	}
	idx := indexOf(fields.List, account.String())
	switch {
	case add && idx < 0:
		fields.List = append(fields.List, account.String())
	case !add && idx >= 0:
		fields.List = append(fields.List[:idx], fields.List[idx+1:]...)
	default:
		return nil
	}
	return ex.update(ctx, list, fields)
}

// publish(policy, cap, blob_url)
//
// The asset list is write-once per entry: recording an already present URL
// is a no-op.
func (ex *executor) publish(ctx context.Context, call Call, module string) error {
	if err := wantArgs(call, 3); err != nil {
		return err
	}
	policyID, capID, blobURL := call.Args[0], call.Args[1], strings.TrimSpace(call.Args[2])
	if blobURL == "" {
		return badArgument(call, "blob url is required")
	}

	name := StructAllowlist
	if module == ModuleSubscription {
		name = StructService
	}
	obj, err := ex.load(ctx, call, policyID, name, module)
	if err != nil {
		return err
	}
	if err := ex.checkCap(ctx, call, module, policyID, capID); err != nil {
		return err
	}

	if module == ModuleSubscription {
		var fields ServiceFields
		if err := obj.Decode(&fields); err != nil {
			return err
		}
		if indexOf(fields.Blobs, blobURL) >= 0 {
			return nil
		}
		fields.Blobs = append(fields.Blobs, blobURL)
		return ex.update(ctx, obj, fields)
	}

	var fields AllowlistFields
	if err := obj.Decode(&fields); err != nil {
		return err
	}
	if indexOf(fields.Blobs, blobURL) >= 0 {
		return nil
	}
	fields.Blobs = append(fields.Blobs, blobURL)
	return ex.update(ctx, obj, fields)
}

// subscribe(service, payment)
func (ex *executor) subscribe(ctx context.Context, call Call) error {
	if err := wantArgs(call, 2); err != nil {
		return err
	}
	serviceID := call.Args[0]
	payment, err := strconv.ParseUint(call.Args[1], 10, 64)
	if err != nil {
		return badArgument(call, "payment must be an unsigned integer")
	}
	service, err := ex.load(ctx, call, serviceID, StructService, ModuleSubscription)
	if err != nil {
		return err
	}
	var fields ServiceFields
	if err := service.Decode(&fields); err != nil {
		return err
	}
	if payment != fields.Fee {
		return &AbortError{
			Function: call.Target,
			Code:     AbortInvalidFee,
			Message:  fmt.Sprintf("payment %d does not match fee %d", payment, fields.Fee),
		}
	}
	_, err = ex.create(ctx, StructSubscription, ModuleSubscription, ex.sender, SubscriptionFields{
		ServiceID: serviceID,
		CreatedAt: ex.now.UnixMilli(),
	})
	return err
}

// checkCap verifies that capID is a capability of the module's Cap type,
// owned by the sender and bound to policyID.
func (ex *executor) checkCap(ctx context.Context, call Call, module, policyID, capID string) error {
	invalid := &AbortError{Function: call.Target, Code: AbortInvalidCap, Message: "capability does not match policy"}

	capObj, err := getObject(ctx, ex.q, capID)
	if errors.Is(err, sql.ErrNoRows) {
		return invalid
	}
	if err != nil {
		return err
	}
	if capObj.Type != StructTag(ex.packageID, module, StructCap) || capObj.Owner != ex.sender {
		return invalid
	}

	bound := ""
	if module == ModuleSubscription {
		var fields ServiceCapFields
		if err := capObj.Decode(&fields); err != nil {
			return err
		}
		bound = fields.ServiceID
	} else {
		var fields AllowlistCapFields
		if err := capObj.Decode(&fields); err != nil {
			return err
		}
		bound = fields.AllowlistID
	}
	if bound != policyID {
		return invalid
	}
	return nil
}

func (ex *executor) load(ctx context.Context, call Call, id, name, module string) (Object, error) {
	obj, err := getObject(ctx, ex.q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Object{}, &AbortError{Function: call.Target, Code: AbortObjectNotFound, Message: "object " + id + " not found"}
	}
	if err != nil {
		return Object{}, err
	}
	if obj.Type != StructTag(ex.packageID, module, name) {
		return Object{}, badArgument(call, fmt.Sprintf("object %s is not a %s", id, name))
	}
	return obj, nil
}

func (ex *executor) create(ctx context.Context, name, module, owner string, fields any) (ObjectRef, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return ObjectRef{}, err
	}
	id, err := GenerateObjectID(func(candidate string) (bool, error) {
		return objectExists(ctx, ex.q, candidate)
	})
	if err != nil {
		return ObjectRef{}, err
	}
	ref := ObjectRef{ID: id, Type: StructTag(ex.packageID, module, name), Owner: owner, Version: 1}
	stamp := formatTime(ex.now)
	_, err = ex.q.ExecContext(ctx, `
		INSERT INTO objects (id, type, owner, version, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ref.ID, string(ref.Type), ref.Owner, ref.Version, string(raw), stamp, stamp)
	if err != nil {
		return ObjectRef{}, err
	}
	ex.created = append(ex.created, ref)
	return ref, nil
}

func (ex *executor) update(ctx context.Context, obj Object, fields any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = ex.q.ExecContext(ctx, `
		UPDATE objects SET fields = ?, version = version + 1, updated_at = ? WHERE id = ?
	`, string(raw), formatTime(ex.now), obj.ID)
	if err != nil {
		return err
	}

	if ex.mutated == nil {
		ex.mutated = map[string]ObjectRef{}
	}
	if _, ok := ex.mutated[obj.ID]; !ok {
		ex.order = append(ex.order, obj.ID)
	}
	ex.mutated[obj.ID] = ObjectRef{ID: obj.ID, Type: obj.Type, Owner: obj.Owner, Version: obj.Version + 1}
	return nil
}

func (ex *executor) effects() Effects {
	out := Effects{Created: ex.created}
	for _, id := range ex.order {
		ref := ex.mutated[id]
		if isCreated(ex.created, id) {
			continue
		}
		out.Mutated = append(out.Mutated, ref)
	}
	return out
}

func isCreated(created []ObjectRef, id string) bool {
	for _, ref := range created {
		if ref.ID == id {
			return true
		}
	}
	return false
}

func wantArgs(call Call, n int) error {
	if len(call.Args) != n {
		return badArgument(call, fmt.Sprintf("expected %d arguments, got %d", n, len(call.Args)))
	}
	return nil
}

func badArgument(call Call, msg string) error {
	return &AbortError{Function: call.Target, Code: AbortBadArgument, Message: msg}
}

func indexOf(values []string, v string) int {
	for i, existing := range values {
		if existing == v {
			return i
		}
	}
	return -1
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
