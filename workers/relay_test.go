package workers

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crossrelay/registry"
	"crossrelay/types"
)

const destAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

// countingLock wraps a lock and records how many holders it ever had at once
type countingLock struct {
	inner    RelayLock
	held     int32
	max      int32
	acquires int32
	releases int32
}

func (l *countingLock) Acquire(ctx context.Context) error {
	if err := l.inner.Acquire(ctx); err != nil {
		return err
	}
	atomic.AddInt32(&l.acquires, 1)
	n := atomic.AddInt32(&l.held, 1)
	for {
		m := atomic.LoadInt32(&l.max)
		if n <= m || atomic.CompareAndSwapInt32(&l.max, m, n) {
			break
		}
	}
	return nil
}

func (l *countingLock) Release() {
	atomic.AddInt32(&l.held, -1)
	atomic.AddInt32(&l.releases, 1)
	l.inner.Release()
}

type testChain struct {
	name   string
	native string
	ledger *fakeLedger
	delay  time.Duration
}

func registerChains(t *testing.T, chains ...*testChain) *registry.Registry {
	reg := registry.New()
	for _, c := range chains {
		if c.ledger == nil {
			c.ledger = newFakeLedger()
		}
		vault := &fakeContract{name: "Vault", address: "0x00000000000000000000000000000000000000" + c.name + c.name}
		opts := types.CallOpts{From: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", GasLimit: 300000}
		require.NoError(t, reg.Register(&registry.ChainDescriptor{
			Name:         c.name,
			Ledger:       c.ledger,
			NativeAsset:  c.native,
			Signer:       opts.From,
			Vault:        vault,
			RelayDelay:   c.delay,
			PayoutNative: bindPayout(c.ledger, vault, "payNative", types.AssetNative, opts),
			PayoutToken:  bindPayout(c.ledger, vault, "payToken", types.AssetToken, opts),
		}))
	}
	return reg
}

func deposit(source, memoText string) types.DepositEvent {
	return types.DepositEvent{
		SourceChain: source,
		Asset:       types.NativeAssetAddress,
		Amount:      big.NewInt(100),
		Memo:        memoText,
		TxHash:      "0xsource",
	}
}

func TestSourceAssetID(t *testing.T) {
	assert.Equal(t, "ETH.ETH", SourceAssetID("ETH", "ETH", types.NativeAssetAddress))
	assert.Equal(t, "A.NativeA", SourceAssetID("A", "NativeA", types.NativeAssetAddress))
	assert.Equal(t, "A.0x5FbDB2315678afecb367f032d93F642f64180aa3",
		SourceAssetID("A", "NativeA", "0x5FbDB2315678afecb367f032d93F642f64180aa3"))
}

func TestTargetAssetID(t *testing.T) {
	assert.Equal(t, types.NativeAssetAddress, TargetAssetID("NativeB", "NativeB"))
	assert.Equal(t, "0x5FbDB2315678afecb367f032d93F642f64180aa3", TargetAssetID("0x5FbDB2315678afecb367f032d93F642f64180aa3", "NativeB"))
	assert.Equal(t, "nativeb", TargetAssetID("nativeb", "NativeB"))
	assert.Equal(t, "USDC", TargetAssetID("USDC", "NativeB"))
}

func TestRelayNativeSwap(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	b := &testChain{name: "B", native: "NativeB"}
	reg := registerChains(t, a, b)
	journal := newMemJournal()
	r := NewRelayer(reg, NewRelayLock(), journal, zap.NewNop())

	before := time.Now().Unix()
	outcome := r.RelayDeposit(context.Background(), deposit("A", "=:B.NativeB:"+destAddress))
	require.Equal(t, OutcomeRelayed, outcome)

	assert.Empty(t, a.ledger.sent())
	sends := b.ledger.sent()
	require.Len(t, sends, 1)
	call := sends[0]
	assert.Equal(t, "Vault", call.contract)
	assert.Equal(t, "payNative", call.method)
	assert.Equal(t, uint64(300000), call.opts.GasLimit)
	require.Len(t, call.args, 6)
	assert.Equal(t, destAddress, call.args[0])
	assert.Equal(t, types.NativeAssetAddress, call.args[1])
	assert.Equal(t, big.NewInt(100), call.args[2])
	assert.Equal(t, "A.NativeA", call.args[3])
	assert.Equal(t, "OUT:"+destAddress, call.args[4])

	expiry := call.args[5].(int64)
	assert.GreaterOrEqual(t, expiry, before+9)
	assert.LessOrEqual(t, expiry, time.Now().Unix()+11)

	assert.Equal(t, []string{types.StatusPending, types.StatusSuccess}, journal.history)
	for _, op := range journal.ops {
		assert.Equal(t, "A.NativeA", op.SourceAsset)
		assert.Equal(t, types.NativeAssetAddress, op.TargetAsset)
		assert.Equal(t, "100", op.Amount)
		assert.NotEmpty(t, op.DestTxHash)
	}
}

func TestRelayTokenSwap(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	b := &testChain{name: "B", native: "NativeB"}
	reg := registerChains(t, a, b)
	r := NewRelayer(reg, NewRelayLock(), nil, zap.NewNop())

	token := "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	ev := deposit("A", "SWAP:B."+token+":"+destAddress)
	ev.Asset = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	require.Equal(t, OutcomeRelayed, r.RelayDeposit(context.Background(), ev))

	sends := b.ledger.sent()
	require.Len(t, sends, 1)
	call := sends[0]
	assert.Equal(t, "payToken", call.method)
	require.Len(t, call.args, 7)
	assert.Equal(t, destAddress, call.args[0])
	assert.Equal(t, token, call.args[1])
	assert.Equal(t, "A.0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512", call.args[3])
	assert.Equal(t, "B."+token, call.args[4])
	assert.Equal(t, "OUT:"+destAddress, call.args[5])
}

func TestRelayToSameChain(t *testing.T) {
	eth := &testChain{name: "ETH", native: "ETH"}
	reg := registerChains(t, eth)
	r := NewRelayer(reg, NewRelayLock(), nil, zap.NewNop())

	require.Equal(t, OutcomeRelayed, r.RelayDeposit(context.Background(), deposit("ETH", "SWAP:ETH.ETH:"+destAddress)))
	sends := eth.ledger.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, "ETH.ETH", sends[0].args[3])
	assert.Equal(t, types.NativeAssetAddress, sends[0].args[1])
}

func TestRelayUnknownDestination(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	reg := registerChains(t, a)
	lock := &countingLock{inner: NewRelayLock()}
	journal := newMemJournal()
	r := NewRelayer(reg, lock, journal, zap.NewNop())

	assert.Equal(t, OutcomeUnknownChain, r.RelayDeposit(context.Background(), deposit("A", "SWAP:C.NativeC:"+destAddress)))
	assert.Empty(t, a.ledger.sent())
	assert.Zero(t, lock.acquires)
	assert.Empty(t, journal.history)
}

func TestRelayMalformedMemo(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	reg := registerChains(t, a)
	lock := &countingLock{inner: NewRelayLock()}
	r := NewRelayer(reg, lock, nil, zap.NewNop())

	for _, text := range []string{"SWAP:A.NativeA", "SWAP:ANativeA:0xdest", "hello"} {
		assert.Equal(t, OutcomeMalformed, r.RelayDeposit(context.Background(), deposit("A", text)))
	}
	assert.Empty(t, a.ledger.sent())
	assert.Zero(t, lock.acquires)
}

func TestRelayAddAndUnknownOperation(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	b := &testChain{name: "B", native: "NativeB"}
	reg := registerChains(t, a, b)
	lock := &countingLock{inner: NewRelayLock()}
	journal := newMemJournal()
	r := NewRelayer(reg, lock, journal, zap.NewNop())

	assert.Equal(t, OutcomeSkipped, r.RelayDeposit(context.Background(), deposit("A", "ADD:B.NativeB:"+destAddress)))
	assert.Equal(t, OutcomeSkipped, r.RelayDeposit(context.Background(), deposit("A", "BURN:B.NativeB:"+destAddress)))
	assert.Empty(t, b.ledger.sent())
	assert.Equal(t, int32(2), lock.acquires)
	assert.Equal(t, int32(2), lock.releases)
	assert.Equal(t, []string{types.StatusSkipped, types.StatusSkipped}, journal.history)
}

func TestRelayRevertedReceipt(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	b := &testChain{name: "B", native: "NativeB", ledger: newFakeLedger()}
	b.ledger.revert = true
	reg := registerChains(t, a, b)
	lock := &countingLock{inner: NewRelayLock()}
	journal := newMemJournal()
	r := NewRelayer(reg, lock, journal, zap.NewNop())

	assert.Equal(t, OutcomeFailed, r.RelayDeposit(context.Background(), deposit("A", "=:B.NativeB:"+destAddress)))
	// one attempt, no retry and no refund on the source chain
	assert.Len(t, b.ledger.sent(), 1)
	assert.Empty(t, a.ledger.sent())
	assert.Equal(t, int32(1), lock.releases)
	assert.Zero(t, lock.held)

	assert.Equal(t, []string{types.StatusPending, types.StatusFailed}, journal.history)
	for _, op := range journal.ops {
		assert.Contains(t, op.Message, ErrPayoutFailed.Error())
	}
}

func TestRelaySendError(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	b := &testChain{name: "B", native: "NativeB", ledger: newFakeLedger()}
	b.ledger.sendErr = errors.New("connection refused")
	reg := registerChains(t, a, b)
	lock := &countingLock{inner: NewRelayLock()}
	r := NewRelayer(reg, lock, nil, zap.NewNop())

	assert.Equal(t, OutcomeFailed, r.RelayDeposit(context.Background(), deposit("A", "=:B.NativeB:"+destAddress)))
	assert.Len(t, b.ledger.sent(), 1)
	assert.Equal(t, lock.acquires, lock.releases)

	// the lock is free again
	b.ledger.sendErr = nil
	assert.Equal(t, OutcomeRelayed, r.RelayDeposit(context.Background(), deposit("A", "=:B.NativeB:"+destAddress)))
}

func TestRelayUnregisteredSourceFails(t *testing.T) {
	b := &testChain{name: "B", native: "NativeB"}
	reg := registerChains(t, b)
	r := NewRelayer(reg, NewRelayLock(), nil, zap.NewNop())

	assert.Equal(t, OutcomeFailed, r.RelayDeposit(context.Background(), deposit("Z", "=:B.NativeB:"+destAddress)))
	assert.Empty(t, b.ledger.sent())
}

func TestRelayJournalFailureDoesNotChangeOutcome(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	b := &testChain{name: "B", native: "NativeB"}
	reg := registerChains(t, a, b)
	journal := newMemJournal()
	journal.fail = true
	r := NewRelayer(reg, NewRelayLock(), journal, zap.NewNop())

	assert.Equal(t, OutcomeRelayed, r.RelayDeposit(context.Background(), deposit("A", "=:B.NativeB:"+destAddress)))
	assert.Len(t, b.ledger.sent(), 1)
}

func TestRelayDelay(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	b := &testChain{name: "B", native: "NativeB", delay: 50 * time.Millisecond}
	reg := registerChains(t, a, b)
	r := NewRelayer(reg, NewRelayLock(), nil, zap.NewNop())

	start := time.Now()
	require.Equal(t, OutcomeRelayed, r.RelayDeposit(context.Background(), deposit("A", "=:B.NativeB:"+destAddress)))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// the delay of B does not apply to payouts sent to A
	start = time.Now()
	require.Equal(t, OutcomeRelayed, r.RelayDeposit(context.Background(), deposit("B", "=:A.NativeA:"+destAddress)))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRelayDelayCancelled(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	b := &testChain{name: "B", native: "NativeB", delay: time.Hour}
	reg := registerChains(t, a, b)
	lock := &countingLock{inner: NewRelayLock()}
	r := NewRelayer(reg, lock, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, OutcomeFailed, r.RelayDeposit(ctx, deposit("A", "=:B.NativeB:"+destAddress)))
	assert.Empty(t, b.ledger.sent())
	assert.Zero(t, lock.held)
}

func TestRelayLockWaitCancelled(t *testing.T) {
	a := &testChain{name: "A", native: "NativeA"}
	b := &testChain{name: "B", native: "NativeB"}
	reg := registerChains(t, a, b)
	lock := NewRelayLock()
	r := NewRelayer(reg, lock, nil, zap.NewNop())

	require.NoError(t, lock.Acquire(context.Background()))
	defer lock.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, OutcomeCancelled, r.RelayDeposit(ctx, deposit("A", "=:B.NativeB:"+destAddress)))
	assert.Empty(t, b.ledger.sent())
}

func TestRelaySerializesAcrossChains(t *testing.T) {
	var inFlight, maxInFlight int32
	slowSend := func(call sendCall) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}

	a := &testChain{name: "A", native: "NativeA", ledger: newFakeLedger(), delay: 5 * time.Millisecond}
	b := &testChain{name: "B", native: "NativeB", ledger: newFakeLedger(), delay: 5 * time.Millisecond}
	a.ledger.onSend = slowSend
	b.ledger.onSend = slowSend
	reg := registerChains(t, a, b)
	lock := &countingLock{inner: NewRelayLock()}
	r := NewRelayer(reg, lock, nil, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.Equal(t, OutcomeRelayed, r.RelayDeposit(context.Background(), deposit("A", "=:B.NativeB:"+destAddress)))
		}()
		go func() {
			defer wg.Done()
			assert.Equal(t, OutcomeRelayed, r.RelayDeposit(context.Background(), deposit("B", "=:A.NativeA:"+destAddress)))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), lock.max)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Equal(t, int32(8), lock.acquires)
	assert.Equal(t, int32(8), lock.releases)
	assert.Len(t, a.ledger.sent(), 4)
	assert.Len(t, b.ledger.sent(), 4)
}

func TestNoopLockLetsPayoutsOverlap(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()
	barrier := func(call sendCall) {
		arrived.Done()
		select {
		case <-both:
		case <-time.After(5 * time.Second):
		}
	}

	a := &testChain{name: "A", native: "NativeA", ledger: newFakeLedger()}
	b := &testChain{name: "B", native: "NativeB", ledger: newFakeLedger()}
	a.ledger.onSend = barrier
	b.ledger.onSend = barrier
	reg := registerChains(t, a, b)
	r := NewRelayer(reg, NoopLock{}, nil, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.RelayDeposit(context.Background(), deposit("A", "=:B.NativeB:"+destAddress))
	}()
	go func() {
		defer wg.Done()
		r.RelayDeposit(context.Background(), deposit("B", "=:A.NativeA:"+destAddress))
	}()
	wg.Wait()

	select {
	case <-both:
	default:
		t.Fatal("payouts did not overlap")
	}
}
