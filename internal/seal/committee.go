package seal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"

	"sealgate/internal/ledger"
)

// DefaultCommitteeSize is the number of key servers a fresh ledger gets.
const DefaultCommitteeSize = 3

// KeyRegistry stores key server registrations and their secrets.
type KeyRegistry interface {
	KeyServers(ctx context.Context) ([]ledger.KeyServerRecord, error)
	RegisterKeyServer(ctx context.Context, fields ledger.KeyServerFields, privateKey []byte) (ledger.Object, error)
}

// LocalCommittee loads the registered key servers, registering new ones
// until at least count exist, and returns them in registration order.
func LocalCommittee(ctx context.Context, reg KeyRegistry, count int, url, packageID string, approver Approver, logger *slog.Logger) ([]*LocalKeyServer, error) {
	if count < 1 {
		return nil, fmt.Errorf("key server count must be positive, got %d", count)
	}
	records, err := reg.KeyServers(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(records); i < count; i++ {
		kp, err := GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		fields := ledger.KeyServerFields{Name: fmt.Sprintf("ks-%d", i), URL: url, PublicKey: kp.Public[:]}
		obj, err := reg.RegisterKeyServer(ctx, fields, kp.Private[:])
		if err != nil {
			return nil, fmt.Errorf("register key server %s: %w", fields.Name, err)
		}
		records = append(records, ledger.KeyServerRecord{Object: obj, Fields: fields, PrivateKey: kp.Private[:]})
	}

	out := make([]*LocalKeyServer, 0, count)
	for _, rec := range records[:count] {
		kp, err := KeyPairFromBytes(rec.Fields.PublicKey, rec.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("key server %s: %w", rec.Fields.Name, err)
		}
		info := ServerInfo{ID: rec.Object.ID, Name: rec.Fields.Name, URL: rec.Fields.URL}
		out = append(out, NewLocalKeyServer(info, kp, packageID, approver, logger))
	}
	return out, nil
}

// LocalServers adapts in-process key servers for a Gateway.
func LocalServers(locals []*LocalKeyServer) []Server {
	out := make([]Server, 0, len(locals))
	for _, ks := range locals {
		out = append(out, Server{Info: ks.Info(), Client: ks})
	}
	return out
}

// RemoteServers addresses each key server through one gRPC connection. A
// positive timeout bounds every share request so one stalled server cannot
// hold up a decryption.
func RemoteServers(cc grpc.ClientConnInterface, infos []ServerInfo, timeout time.Duration) []Server {
	out := make([]Server, 0, len(infos))
	for _, info := range infos {
		ks := NewRemoteKeyServer(cc, info.ID)
		ks.Timeout = timeout
		out = append(out, Server{Info: info, Client: ks})
	}
	return out
}

// InfoFromObject decodes a KeyServer ledger object into its public info.
func InfoFromObject(obj ledger.Object) (ServerInfo, error) {
	var fields ledger.KeyServerFields
	if err := obj.Decode(&fields); err != nil {
		return ServerInfo{}, err
	}
	if len(fields.PublicKey) != 32 {
		return ServerInfo{}, fmt.Errorf("key server %s has a %d byte public key", obj.ID, len(fields.PublicKey))
	}
	info := ServerInfo{ID: obj.ID, Name: fields.Name, URL: fields.URL}
	copy(info.PublicKey[:], fields.PublicKey)
	return info, nil
}
