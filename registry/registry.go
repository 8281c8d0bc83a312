package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"crossrelay/types"
)

var ErrDuplicateChain = errors.New("chain already registered")

// Payout is the argument set of a vault payout call
type Payout struct {
	DestAddress string
	TargetAsset string
	Amount      *big.Int
	SourceAsset string
	AssetLabel  string // only passed to the token entry point
	Memo        string
	Expiry      int64
}

// PayoutFunc sends one payout and waits for its receipt
type PayoutFunc func(ctx context.Context, p Payout) (*types.Receipt, error)

// ChainDescriptor is everything the relay needs to know about a chain.
// It is never mutated after registration.
type ChainDescriptor struct {
	Name        string
	Ledger      types.Ledger
	NativeAsset string
	Signer      string
	Vault       types.Contract
	RelayDelay  time.Duration // injected latency before each payout sent to this chain

	PayoutNative PayoutFunc
	PayoutToken  PayoutFunc
}

// Payout returns the entry point serving the given asset kind
func (d *ChainDescriptor) Payout(kind types.AssetKind) PayoutFunc {
	if kind == types.AssetNative {
		return d.PayoutNative
	}
	return d.PayoutToken
}

// Registry maps chain names to descriptors, append only
type Registry struct {
	mu     sync.RWMutex
	chains map[string]*ChainDescriptor
}

func New() *Registry {
	return &Registry{chains: make(map[string]*ChainDescriptor)}
}

func (r *Registry) Register(d *ChainDescriptor) error {
	if d == nil || d.Name == "" {
		return errors.New("chain descriptor without name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chains[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateChain, d.Name)
	}
	r.chains[d.Name] = d
	return nil
}

// Lookup returns nil, false for unknown chains; that is a normal outcome
func (r *Registry) Lookup(name string) (*ChainDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.chains[name]
	return d, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
