package ledger

// Contract modules, structs and entry functions understood by the ledger.
const (
	ModuleAllowlist    = "allowlist"
	ModuleSubscription = "subscription"
	ModuleKeyServer    = "key_server"

	StructAllowlist    = "Allowlist"
	StructService      = "Service"
	StructSubscription = "Subscription"
	StructCap          = "Cap"
	StructKeyServer    = "KeyServer"

	FnCreateAllowlistEntry = "create_allowlist_entry"
	FnCreateServiceEntry   = "create_service_entry"
	FnAdd                  = "add"
	FnRemove               = "remove"
	FnPublish              = "publish"
	FnSubscribe            = "subscribe"
)

// Abort codes raised by the contract functions.
const (
	AbortInvalidCap uint64 = iota
	AbortInvalidFee
	AbortObjectNotFound
	AbortBadArgument
	AbortUnknownFunction
)

// DefaultGasBudget matches what the publishing client attaches to each
// transaction.
const DefaultGasBudget uint64 = 10_000_000

// gasPerCall is charged for every call in a transaction.
const gasPerCall uint64 = 1_000_000

// AllowlistFields is the on-ledger layout of an allowlist.
type AllowlistFields struct {
	Name  string   `json:"name"`
	List  []string `json:"list"`
	Blobs []string `json:"blobs"`
}

// AllowlistCapFields is the on-ledger layout of an allowlist capability.
type AllowlistCapFields struct {
	AllowlistID string `json:"allowlist_id"`
}

// ServiceFields is the on-ledger layout of a subscription service.
type ServiceFields struct {
	Fee   uint64   `json:"fee"`
	TTL   int64    `json:"ttl"`
	Owner string   `json:"owner"`
	Name  string   `json:"name"`
	Blobs []string `json:"blobs"`
}

// ServiceCapFields is the on-ledger layout of a service capability.
type ServiceCapFields struct {
	ServiceID string `json:"service_id"`
}

// SubscriptionFields is the on-ledger layout of a purchased subscription.
type SubscriptionFields struct {
	ServiceID string `json:"service_id"`
	CreatedAt int64  `json:"created_at"`
}

// KeyServerFields is the public on-ledger registration of a key server.
type KeyServerFields struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	PublicKey []byte `json:"pk"`
}
