package types

import "context"

// Contract is a handle to a deployed contract
type Contract interface {
	Name() string
	Address() string
}

// EventStream is an infinite, non-restartable sequence of contract events.
// Err receives at most one value, after which Events is closed.
type EventStream interface {
	Events() <-chan Event
	Err() <-chan error
	Close()
}

// Ledger is the chain client the relay talks to
type Ledger interface {
	Deploy(ctx context.Context, artifact Artifact, env EnvInfo, args ...interface{}) (Contract, error)
	Send(ctx context.Context, contract Contract, method string, opts CallOpts, args ...interface{}) (*Receipt, error)
	SubscribeAllEvents(ctx context.Context, contract Contract) (EventStream, error)
}
