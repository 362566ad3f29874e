package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// KeyServerRecord is a registered key server together with the secret key
// the local committee uses to open its shares.
type KeyServerRecord struct {
	Object     Object
	Fields     KeyServerFields
	PrivateKey []byte
}

// KeyServerType is the type tag of key server registrations.
func (s *Store) KeyServerType() TypeTag {
	return StructTag(s.packageID, ModuleKeyServer, StructKeyServer)
}

// RegisterKeyServer records a shared KeyServer object and its secret key.
func (s *Store) RegisterKeyServer(ctx context.Context, fields KeyServerFields, privateKey []byte) (Object, error) {
	if strings.TrimSpace(fields.Name) == "" {
		return Object{}, fmt.Errorf("key server name is required")
	}
	if len(fields.PublicKey) == 0 || len(privateKey) == 0 {
		return Object{}, fmt.Errorf("key server %s: key pair is required", fields.Name)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return Object{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := formatTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Object{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id, err := GenerateObjectID(func(candidate string) (bool, error) {
		return objectExists(ctx, tx, candidate)
	})
	if err != nil {
		return Object{}, err
	}
	obj := Object{ID: id, Type: s.KeyServerType(), Version: 1, Fields: raw}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO objects (id, type, owner, version, fields, created_at, updated_at)
		VALUES (?, ?, '', 1, ?, ?, ?)
	`, obj.ID, string(obj.Type), string(raw), now, now); err != nil {
		return Object{}, err
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO key_server_secrets (object_id, private_key, created_at) VALUES (?, ?, ?)
	`, obj.ID, privateKey, now); err != nil {
		return Object{}, err
	}
	if err = tx.Commit(); err != nil {
		return Object{}, err
	}
	return obj, nil
}

// KeyServers lists registered key servers in registration order.
func (s *Store) KeyServers(ctx context.Context) ([]KeyServerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.type, o.owner, o.version, o.fields, k.private_key
		FROM objects o
		JOIN key_server_secrets k ON k.object_id = o.id
		WHERE o.type = ?
		ORDER BY o.seq
	`, string(s.KeyServerType()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []KeyServerRecord{}
	for rows.Next() {
		var (
			rec    KeyServerRecord
			typ    string
			fields string
		)
		if err := rows.Scan(&rec.Object.ID, &typ, &rec.Object.Owner, &rec.Object.Version, &fields, &rec.PrivateKey); err != nil {
			return nil, err
		}
		rec.Object.Type = TypeTag(typ)
		rec.Object.Fields = []byte(fields)
		if err := rec.Object.Decode(&rec.Fields); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
