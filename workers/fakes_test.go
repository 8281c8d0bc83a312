package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"crossrelay/compiler"
	"crossrelay/types"
)

type fakeContract struct {
	name    string
	address string
}

func (c *fakeContract) Name() string    { return c.name }
func (c *fakeContract) Address() string { return c.address }

type deployCall struct {
	name string
	args []interface{}
}

type sendCall struct {
	contract string
	method   string
	opts     types.CallOpts
	args     []interface{}
}

type fakeStream struct {
	events chan types.Event
	errC   chan error
	once   sync.Once
	closed chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan types.Event, 16),
		errC:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Events() <-chan types.Event { return s.events }
func (s *fakeStream) Err() <-chan error          { return s.errC }
func (s *fakeStream) Close()                     { s.once.Do(func() { close(s.closed) }) }

// fail ends the stream with err the way a dropped subscription does
func (s *fakeStream) fail(err error) {
	s.errC <- err
	close(s.events)
}

// fakeLedger records deploys and sends; every send succeeds unless told otherwise
type fakeLedger struct {
	mu      sync.Mutex
	deploys []deployCall
	sends   []sendCall
	streams map[string]*fakeStream
	next    int

	failDeploy    string
	failSubscribe bool
	sendErr       error
	revert        bool
	onSend        func(call sendCall)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{streams: make(map[string]*fakeStream)}
}

func (l *fakeLedger) Deploy(ctx context.Context, artifact types.Artifact, env types.EnvInfo, args ...interface{}) (types.Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if artifact.Name == l.failDeploy {
		return nil, errors.New("out of gas")
	}
	l.deploys = append(l.deploys, deployCall{name: artifact.Name, args: args})
	l.next++
	return &fakeContract{name: artifact.Name, address: fmt.Sprintf("0x%040x", l.next)}, nil
}

func (l *fakeLedger) Send(ctx context.Context, contract types.Contract, method string, opts types.CallOpts, args ...interface{}) (*types.Receipt, error) {
	call := sendCall{contract: contract.Name(), method: method, opts: opts, args: args}
	if l.onSend != nil {
		l.onSend(call)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends = append(l.sends, call)
	if l.sendErr != nil {
		return nil, l.sendErr
	}
	return &types.Receipt{Status: !l.revert, TxHash: fmt.Sprintf("0x%064x", len(l.sends)), BlockNumber: 1}, nil
}

func (l *fakeLedger) SubscribeAllEvents(ctx context.Context, contract types.Contract) (types.EventStream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failSubscribe {
		return nil, errors.New("subscriptions need a websocket endpoint")
	}
	s := newFakeStream()
	l.streams[contract.Name()] = s
	return s, nil
}

func (l *fakeLedger) sent() []sendCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sendCall(nil), l.sends...)
}

func (l *fakeLedger) stream(contract string) *fakeStream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streams[contract]
}

type fakeCompiler struct {
	failCompile string
}

func (c *fakeCompiler) ExtractVersion(source string) (*compiler.VersionSpec, error) {
	return compiler.ExtractVersion(source)
}

func (c *fakeCompiler) Compile(ctx context.Context, source, declaredName, deployName string, version *compiler.VersionSpec) (*types.Artifact, error) {
	if declaredName == c.failCompile {
		return nil, fmt.Errorf("%w: ParserError in %s", compiler.ErrCompilation, declaredName)
	}
	return &types.Artifact{Name: deployName, ABI: "[]", Bytecode: "0x00"}, nil
}

type mapSources map[string]string

func (m mapSources) Source(name string) (string, error) {
	s, ok := m[name]
	if !ok {
		return "", fmt.Errorf("no source for %s", name)
	}
	return s, nil
}

func bridgeSources() mapSources {
	src := "pragma solidity ^0.8.0;\ncontract C {}\n"
	return mapSources{"CrossToken": src, "Oracle": src, "Router": src, "Vault": src}
}

// memJournal keeps journal writes in memory
type memJournal struct {
	mu      sync.Mutex
	history []string
	ops     map[string]types.RelayOperation
	fail    bool
}

func newMemJournal() *memJournal {
	return &memJournal{ops: make(map[string]types.RelayOperation)}
}

func (j *memJournal) UpsertRelayOperation(op *types.RelayOperation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("redis down")
	}
	if op.ID == "" {
		op.ID = fmt.Sprintf("op-%d", len(j.ops)+1)
	}
	j.history = append(j.history, op.Status)
	j.ops[op.ID] = *op
	return nil
}

func (j *memJournal) ChangeRelayOperationStatus(op *types.RelayOperation, prevStatus string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("redis down")
	}
	if prev, ok := j.ops[op.ID]; !ok || prev.Status != prevStatus {
		return fmt.Errorf("operation %s not in status %s", op.ID, prevStatus)
	}
	j.history = append(j.history, op.Status)
	j.ops[op.ID] = *op
	return nil
}
