package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gagliardetto/solana-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ghreward/core/events"
	"ghreward/core/genesis"
	"ghreward/core/state"
	"ghreward/core/types"
	"ghreward/crypto"
	nativecommon "ghreward/native/common"
	"ghreward/native/reward"
	"ghreward/observability"
	"ghreward/storage"
	"ghreward/storage/trie"
)

var (
	headKey       = []byte("ghr/head")
	receiptPrefix = []byte("ghr/receipt/")
)

type head struct {
	Root   common.Hash
	Height uint64
}

// Options configures a Node.
type Options struct {
	ChainID   uint64
	ProgramID solana.PublicKey
	// Genesis seeds an empty database. It is ignored once a head exists.
	Genesis *genesis.Spec
	Pauses  nativecommon.PauseView
	Logger  *slog.Logger
}

// Node owns the ledger state and applies transactions one at a time. Each
// transaction either commits completely, producing a new state root, or
// leaves state untouched.
type Node struct {
	mu      sync.Mutex
	db      storage.Database
	state   *state.Manager
	engine  *reward.Engine
	chainID *big.Int
	height  uint64
	emitter *events.Fanout
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.RewardMetrics
	pauses  nativecommon.PauseView
}

// NewNode opens the ledger stored in db, building genesis first when the
// database is empty.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: nil database")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	current, err := loadHead(db)
	if err != nil {
		return nil, err
	}
	chainID := opts.ChainID
	if current == nil {
		if opts.Genesis == nil {
			return nil, ErrNoGenesis
		}
		root, err := genesis.Build(opts.Genesis, db)
		if err != nil {
			return nil, fmt.Errorf("build genesis: %w", err)
		}
		current = &head{Root: root}
		if err := storeHead(db, current); err != nil {
			return nil, err
		}
		if chainID == 0 {
			chainID = opts.Genesis.ChainID
		}
		logger.Info("genesis committed", "root", root.Hex(), "chain_id", chainID)
	}
	if chainID == 0 {
		return nil, fmt.Errorf("core: chain id must be configured")
	}
	stateTrie, err := trie.NewTrie(db, current.Root.Bytes())
	if err != nil {
		return nil, fmt.Errorf("open state at %s: %w", current.Root.Hex(), err)
	}
	manager := state.NewManager(stateTrie)
	engine := reward.NewEngine(opts.ProgramID)
	engine.SetState(manager)
	engine.SetPauses(opts.Pauses)

	metrics := observability.Reward()
	metrics.SetHeight(current.Height)

	return &Node{
		db:      db,
		state:   manager,
		engine:  engine,
		chainID: new(big.Int).SetUint64(chainID),
		height:  current.Height,
		emitter: events.NewFanout(),
		logger:  logger.With("component", "ledger"),
		tracer:  otel.Tracer("ghreward/core"),
		metrics: metrics,
		pauses:  opts.Pauses,
	}, nil
}

// Subscribe registers an emitter that receives events of committed
// transactions, in commit order.
func (n *Node) Subscribe(e events.Emitter) { n.emitter.Add(e) }

// ChainID returns the chain id transactions must carry.
func (n *Node) ChainID() *big.Int { return new(big.Int).Set(n.chainID) }

// ProgramID returns the reward program id.
func (n *Node) ProgramID() solana.PublicKey { return n.engine.ProgramID() }

// Height returns the number of committed transactions.
func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

// StateRoot returns the last committed state root.
func (n *Node) StateRoot() common.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Trie().Root()
}

// ApplyTransaction validates, executes and commits tx. Transactions are
// serialised so concurrent callers observe each other's effects.
func (n *Node) ApplyTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, ErrInvalidPayload
	}
	ctx, span := n.tracer.Start(ctx, "ledger.apply", trace.WithAttributes(attribute.String("tx.type", tx.Type.String())))
	defer span.End()
	started := time.Now()

	receipt, err := n.apply(ctx, tx)
	outcome := "ok"
	if err != nil {
		outcome = errorOutcome(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		n.logger.Debug("transaction rejected", "type", tx.Type.String(), "reason", outcome, "error", err)
	}
	n.metrics.RecordInstruction(tx.Type.String(), outcome, time.Since(started))
	return receipt, err
}

func (n *Node) apply(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if !tx.Type.Valid() {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownTxType, byte(tx.Type))
	}
	if tx.ChainID == nil || tx.ChainID.Cmp(n.chainID) != 0 {
		return nil, fmt.Errorf("%w: got %v want %v", ErrChainIDMismatch, tx.ChainID, n.chainID)
	}
	sender, err := tx.From()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	txHash, err := tx.Hash()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	expected, err := n.state.Nonce(sender)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != expected {
		return nil, fmt.Errorf("%w: got %d want %d", ErrNonceMismatch, tx.Nonce, expected)
	}

	snapshot := n.state.Snapshot()
	buffer := &events.Buffer{}
	n.engine.SetEmitter(buffer)
	defer n.engine.SetEmitter(nil)

	if err := n.dispatch(sender, tx, buffer); err != nil {
		n.state.Revert(snapshot)
		return nil, err
	}
	if err := n.state.SetNonce(sender, expected+1); err != nil {
		n.state.Revert(snapshot)
		return nil, err
	}

	parent := n.state.Trie().Root()
	root, err := n.state.Trie().Commit(parent, n.height+1)
	if err != nil {
		n.state.Revert(snapshot)
		return nil, fmt.Errorf("commit state: %w", err)
	}
	if err := storeHead(n.db, &head{Root: root, Height: n.height + 1}); err != nil {
		n.state.Revert(snapshot)
		return nil, fmt.Errorf("persist head: %w", err)
	}
	n.height++

	committed := buffer.Events()
	receipt := &types.Receipt{
		TxHash:    txHash,
		Type:      tx.Type.String(),
		Height:    n.height,
		StateRoot: root,
		Events:    events.Render(committed),
	}
	if err := n.storeReceipt(receipt); err != nil {
		n.logger.Warn("persist receipt failed", "tx", txHash.Hex(), "error", err)
	}
	n.publishMetrics(committed)
	n.metrics.SetHeight(n.height)
	for i, evt := range committed {
		n.emitter.Emit(events.Committed{Inner: evt, Height: n.height, Index: i})
	}
	n.logger.Info("transaction committed",
		"tx", txHash.Hex(),
		"type", tx.Type.String(),
		"sender", sender.String(),
		"height", n.height,
		"root", root.Hex())
	return receipt, nil
}

func (n *Node) dispatch(sender crypto.Address, tx *types.Transaction, buffer *events.Buffer) error {
	switch tx.Type {
	case types.TxTypeTransfer:
		var p types.TransferPayload
		if err := decodePayload(tx, &p); err != nil {
			return err
		}
		return n.transfer(sender, &p, buffer)
	case types.TxTypeInitialize:
		var p types.InitializePayload
		if err := decodePayload(tx, &p); err != nil {
			return err
		}
		_, err := n.engine.Initialize(sender, p.AuthorizationSigner, p.PrivilegedAccount)
		return err
	case types.TxTypeLockReward:
		var p types.LockRewardPayload
		if err := decodePayload(tx, &p); err != nil {
			return err
		}
		_, err := n.engine.LockReward(sender, p.RepositoryName, p.IssueID, p.Reward, p.TokenMint)
		return err
	case types.TxTypeRegisterAndCompleteIssue:
		var p types.CompleteIssuePayload
		if err := decodePayload(tx, &p); err != nil {
			return err
		}
		_, err := n.engine.RegisterAndCompleteIssue(sender, p.RepositoryName, p.IssueID, p.Contributors, p.ContributorPercentages)
		return err
	case types.TxTypeClaimReward:
		var p types.ClaimRewardPayload
		if err := decodePayload(tx, &p); err != nil {
			return err
		}
		_, err := n.engine.ClaimReward(sender, p.RepositoryName, p.IssueID, p.GithubID, p.Signature)
		return err
	case types.TxTypeLinkIdentity:
		var p types.LinkIdentityPayload
		if err := decodePayload(tx, &p); err != nil {
			return err
		}
		_, err := n.engine.LinkIdentity(sender, p.GithubID, p.Signature)
		return err
	case types.TxTypeUpdateAuthorities:
		var p types.UpdateAuthoritiesPayload
		if err := decodePayload(tx, &p); err != nil {
			return err
		}
		_, err := n.engine.UpdateAuthorities(sender, p.Owner, p.AuthorizationSigner, p.PrivilegedAccount)
		return err
	default:
		return fmt.Errorf("%w: %#x", ErrUnknownTxType, byte(tx.Type))
	}
}

func decodePayload(tx *types.Transaction, out interface{}) error {
	if err := tx.DecodePayload(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (n *Node) publishMetrics(committed []events.Event) {
	touched := make(map[crypto.Address]struct{})
	for _, evt := range committed {
		switch e := evt.(type) {
		case events.RewardClaimed:
			n.metrics.RecordPayout(e.Mint.String(), e.Amount)
			touched[e.Mint] = struct{}{}
		case events.RewardLocked:
			touched[e.Mint] = struct{}{}
		}
	}
	for mint := range touched {
		liability, err := n.state.VaultLiability(mint)
		if err == nil {
			n.metrics.SetLiability(mint.String(), liability)
		}
	}
}

func errorOutcome(err error) string {
	if code := reward.ErrorCode(err); code != "" {
		return code
	}
	switch {
	case errors.Is(err, ErrNonceMismatch):
		return "NonceMismatch"
	case errors.Is(err, ErrChainIDMismatch):
		return "ChainIDMismatch"
	case errors.Is(err, ErrUnknownTxType):
		return "UnknownTxType"
	case errors.Is(err, ErrInvalidPayload):
		return "InvalidPayload"
	case errors.Is(err, ErrInvalidSender):
		return "InvalidSender"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "ModulePaused"
	}
	return "Internal"
}

// ErrorOutcome maps ledger errors to the stable codes used in metrics and
// API responses.
func ErrorOutcome(err error) string { return errorOutcome(err) }

func loadHead(db storage.Database) (*head, error) {
	raw, err := db.Get(headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load head: %w", err)
	}
	h := new(head)
	if err := rlp.DecodeBytes(raw, h); err != nil {
		return nil, fmt.Errorf("decode head: %w", err)
	}
	return h, nil
}

func storeHead(db storage.Database, h *head) error {
	encoded, err := rlp.EncodeToBytes(h)
	if err != nil {
		return err
	}
	return db.Put(headKey, encoded)
}

func (n *Node) storeReceipt(r *types.Receipt) error {
	encoded, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return n.db.Put(append(append([]byte(nil), receiptPrefix...), r.TxHash.Bytes()...), encoded)
}

// Receipt returns the receipt of a committed transaction.
func (n *Node) Receipt(hash common.Hash) (*types.Receipt, error) {
	raw, err := n.db.Get(append(append([]byte(nil), receiptPrefix...), hash.Bytes()...))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	receipt := new(types.Receipt)
	if err := json.Unmarshal(raw, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}
