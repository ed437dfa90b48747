// Package simulation drives the compute keeper with a population of
// simulated workers and task creators, checking the module invariants and
// the event-derived network statistics as blocks advance.
package simulation

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	abci "github.com/cometbft/cometbft/abci/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	simtypes "github.com/cosmos/cosmos-sdk/types/simulation"

	keepertest "github.com/gpunet/gpunet/testutil/keeper"
	"github.com/gpunet/gpunet/x/compute/keeper"
	"github.com/gpunet/gpunet/x/compute/netstats"
	"github.com/gpunet/gpunet/x/compute/types"
)

// Network is an in-memory compute chain with simulated participants.
type Network struct {
	cfg    Config
	keeper *keeper.Keeper
	bank   *keepertest.MockBankKeeper
	ctx    sdk.Context
	r      *rand.Rand
	logger log.Logger

	tracker   *netstats.Tracker
	invariant sdk.Invariant

	creator simtypes.Account
	workers []*Worker
	byAddr  map[string]*Worker

	report Report
}

// NewNetwork builds the chain at height 1 with every worker joined.
func NewNetwork(cfg Config, logger log.Logger) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k, ctx, bank, err := keepertest.NewInMemory(cfg.ChainID, logger)
	if err != nil {
		return nil, err
	}
	gs := types.DefaultGenesis()
	gs.Params = cfg.Params
	if err := k.InitGenesis(ctx, *gs); err != nil {
		return nil, fmt.Errorf("init genesis: %w", err)
	}

	r := rand.New(rand.NewSource(cfg.Seed)) // #nosec G404 - deterministic simulation
	accs := simtypes.RandomAccounts(r, cfg.Workers()+1)

	n := &Network{
		cfg:       cfg,
		keeper:    k,
		bank:      bank,
		r:         r,
		logger:    logger.With("module", "simulation"),
		tracker:   netstats.NewTracker(),
		invariant: keeper.AllInvariants(*k),
		creator:   accs[0],
		byAddr:    make(map[string]*Worker, cfg.Workers()),
		report:    newReport(),
	}
	n.ctx = n.blockContext(ctx, 1)

	behaviors := []struct {
		behavior Behavior
		count    int
	}{
		{BehaviorHonest, cfg.Honest},
		{BehaviorCheater, cfg.Cheaters},
		{BehaviorFlaky, cfg.Flaky},
		{BehaviorIdle, cfg.Idle},
	}
	next := 1
	for _, b := range behaviors {
		for i := 0; i < b.count; i++ {
			gpu := cfg.GPUs[r.Intn(len(cfg.GPUs))]
			w := newWorker(accs[next], b.behavior, gpu)
			next++
			n.workers = append(n.workers, w)
			n.byAddr[w.Address().String()] = w
			n.bank.Fund(w.Address(), n.coins(cfg.Params.MinStake))
			if err := n.join(w); err != nil {
				return nil, fmt.Errorf("join %s worker: %w", b.behavior, err)
			}
		}
	}

	if err := n.endBlock(); err != nil {
		return nil, err
	}
	return n, nil
}

// Keeper returns the simulated chain's keeper.
func (n *Network) Keeper() *keeper.Keeper {
	return n.keeper
}

// Context returns the context of the last block.
func (n *Network) Context() sdk.Context {
	return n.ctx
}

// Workers returns the simulated workers.
func (n *Network) Workers() []*Worker {
	return n.workers
}

// Tracker returns the event-fed statistics tracker.
func (n *Network) Tracker() *netstats.Tracker {
	return n.tracker
}

// Run advances cfg.Blocks blocks, stopping early when ctx is done.
func (n *Network) Run(ctx context.Context) (Report, error) {
	for i := 0; i < n.cfg.Blocks; i++ {
		if err := ctx.Err(); err != nil {
			return n.Report(), err
		}
		if err := n.Step(); err != nil {
			return n.Report(), err
		}
	}
	return n.Report(), nil
}

// Step executes one block: stray workers rejoin, new tasks arrive, every
// live task advances one phase, then the block ends.
func (n *Network) Step() error {
	n.ctx = n.blockContext(n.ctx, n.ctx.BlockHeight()+1)

	n.rejoin()
	n.submitTasks()
	if err := n.advanceTasks(); err != nil {
		return err
	}
	return n.endBlock()
}

func (n *Network) blockContext(ctx sdk.Context, height int64) sdk.Context {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(n.cfg.Seed))
	binary.BigEndian.PutUint64(buf[8:], uint64(height))

	blockTime := keepertest.GenesisTime.Add(time.Duration(height-1) * n.cfg.BlockTime)
	return ctx.
		WithBlockHeight(height).
		WithBlockTime(blockTime).
		WithHeaderHash(types.Keccak256(buf[:])).
		WithEventManager(sdk.NewEventManager())
}

func (n *Network) coins(amount math.Int) sdk.Coins {
	return sdk.NewCoins(sdk.NewCoin(n.cfg.Params.Denom, amount))
}

func (n *Network) join(w *Worker) error {
	if err := n.keeper.Join(n.ctx, w.Address(), w.GPU.Name, w.GPU.Vram); err != nil {
		return err
	}
	w.Joins++
	return nil
}

// rejoin brings back workers that quit while they can still afford the stake.
func (n *Network) rejoin() {
	for _, w := range n.workers {
		status, err := n.keeper.GetNodeStatus(n.ctx, w.Address())
		if err != nil || status != types.NodeStatusQuit {
			continue
		}
		if n.bank.Balance(w.Address(), n.cfg.Params.Denom).LT(n.cfg.Params.MinStake) {
			continue
		}
		n.reject("join", n.join(w))
	}
}

func (n *Network) submitTasks() {
	for i := 0; i < n.cfg.TasksPerBlock; i++ {
		spec := n.randomTask()
		n.bank.Fund(n.creator.Address, n.coins(spec.Fee))
		_, err := n.keeper.CreateTask(n.ctx, n.creator.Address, spec)
		n.reject("create_task", err)
	}
}

func (n *Network) randomTask() types.TaskSpec {
	taskType := types.TaskTypeSD
	if n.r.Float64() < n.cfg.LLMShare {
		taskType = types.TaskTypeLLM
	}
	gpu := n.cfg.GPUs[n.r.Intn(len(n.cfg.GPUs))]
	fee := n.cfg.FeeMin
	if n.cfg.FeeMax > n.cfg.FeeMin {
		fee += n.r.Int63n(n.cfg.FeeMax - n.cfg.FeeMin + 1)
	}
	model := n.r.Intn(16)
	return types.TaskSpec{
		TaskType:  taskType,
		TaskHash:  []byte(fmt.Sprintf("ipfs://sim-model-%d", model)),
		DataHash:  []byte(fmt.Sprintf("ipfs://sim-input-%d", n.r.Int63())),
		VramLimit: 1 + uint64(n.r.Int63n(int64(gpu.Vram))),
		Fee:       math.NewInt(fee),
		ResultCap: uint32(1 + n.r.Intn(types.NumRounds)),
	}
}

func (n *Network) liveTasks() ([]uint64, error) {
	var ids []uint64
	err := n.keeper.IterateTasks(n.ctx, func(task types.Task) (bool, error) {
		ids = append(ids, task.ID)
		return false, nil
	})
	return ids, err
}

func (n *Network) advanceTasks() error {
	ids, err := n.liveTasks()
	if err != nil {
		return err
	}
	for _, id := range ids {
		task, err := n.keeper.GetTask(n.ctx, id)
		if err != nil {
			return err
		}
		if !task.Exists() {
			continue
		}
		if n.ctx.BlockTime().After(task.Deadline) {
			n.reject("cancel", n.keeper.CancelTask(n.ctx, n.creator.Address, id))
			continue
		}

		switch task.Status {
		case types.TaskStatusStarted:
			if task.CommitmentsReady() {
				n.disclose(task)
			} else {
				n.commit(task)
			}
		case types.TaskStatusSuccess:
			n.upload(task)
		}
	}
	return nil
}

func (n *Network) commit(task types.Task) {
	for _, r := range task.Rounds {
		if r.Outcome != types.RoundPending {
			continue
		}
		w := n.byAddr[r.Node]
		result, fail, ok := w.answer(n.r, task, n.cfg.FlakyErrorRate)
		switch {
		case !ok:
		case fail:
			n.reject("report_error", n.keeper.ReportTaskError(n.ctx, w.Address(), task.ID, r.Index))
		default:
			nonce := nonce(task.ID, r.Index, n.ctx.BlockHeight())
			err := n.keeper.SubmitTaskResultCommitment(n.ctx, w.Address(), task.ID, r.Index,
				types.ComputeCommitment(result, nonce), nonce)
			if err == nil {
				w.results[task.ID] = result
			}
			n.reject("commit", err)
		}
		if !n.stillStarted(task.ID) {
			return
		}
	}
}

func (n *Network) disclose(task types.Task) {
	for _, r := range task.Rounds {
		if r.Outcome != types.RoundCommitted {
			continue
		}
		w := n.byAddr[r.Node]
		result, ok := w.results[task.ID]
		if !ok {
			continue
		}
		delete(w.results, task.ID)
		n.reject("disclose", n.keeper.DiscloseTaskResult(n.ctx, w.Address(), task.ID, r.Index, result))
		if !n.stillStarted(task.ID) {
			return
		}
	}
}

func (n *Network) upload(task types.Task) {
	for _, r := range task.Rounds {
		if r.Verdict != types.VerdictWinner || r.Released {
			continue
		}
		w := n.byAddr[r.Node]
		n.reject("upload", n.keeper.ReportResultsUploaded(n.ctx, w.Address(), task.ID, r.Index))
	}
}

func (n *Network) stillStarted(id uint64) bool {
	task, err := n.keeper.GetTask(n.ctx, id)
	return err == nil && task.Status == types.TaskStatusStarted
}

// reject counts a refused operation.
func (n *Network) reject(op string, err error) {
	if err == nil {
		return
	}
	n.report.Rejected[op]++
	n.logger.Debug("operation rejected", "op", op, "height", n.ctx.BlockHeight(), "error", err,
		"hint", types.GetRecoverySuggestion(err))
}

func (n *Network) endBlock() error {
	if err := n.keeper.EndBlocker(n.ctx); err != nil {
		return err
	}

	events := n.ctx.EventManager().ABCIEvents()
	n.tally(events)
	if _, err := n.tracker.ApplyAt(netstats.Position{Height: n.ctx.BlockHeight()}, events); err != nil {
		return fmt.Errorf("height %d: tracker rejected events: %w", n.ctx.BlockHeight(), err)
	}
	want, err := n.keeper.GetNetworkStats(n.ctx)
	if err != nil {
		return err
	}
	if got := n.tracker.Stats(); got != want {
		return fmt.Errorf("height %d: event-derived stats %+v differ from state %+v", n.ctx.BlockHeight(), got, want)
	}

	if period := n.cfg.InvariantPeriod; period > 0 && n.ctx.BlockHeight()%int64(period) == 0 {
		if msg, broken := n.invariant(n.ctx); broken {
			return fmt.Errorf("height %d: invariant broken: %s", n.ctx.BlockHeight(), msg)
		}
	}
	n.report.Blocks++
	return nil
}

func (n *Network) tally(events []abci.Event) {
	for _, ev := range events {
		switch ev.Type {
		case types.EventTypeTaskCreated:
			n.report.TasksCreated++
		case types.EventTypeTaskSuccess:
			n.report.TasksSucceeded++
		case types.EventTypeTaskAborted:
			n.report.TasksAborted[attribute(ev, types.AttributeKeyReason)]++
		case types.EventTypeTaskNodeSlashed:
			n.report.Slashes++
		case types.EventTypeNodeKickedOut:
			n.report.KickOuts++
		}
	}
}

func attribute(ev abci.Event, key string) string {
	for _, attr := range ev.Attributes {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}

// Report summarises the run so far.
func (n *Network) Report() Report {
	rep := n.report.clone()
	rep.Height = n.ctx.BlockHeight()
	if stats, err := n.keeper.GetNetworkStats(n.ctx); err == nil {
		rep.Stats = stats
	}
	rep.Escrow = n.bank.ModuleBalance(types.ModuleName, n.cfg.Params.Denom)

	for _, w := range n.workers {
		wr := WorkerReport{
			Address:  w.Address().String(),
			Behavior: w.Behavior,
			GPU:      w.GPU.Name,
			Joins:    w.Joins,
			Balance:  n.bank.Balance(w.Address(), n.cfg.Params.Denom),
		}
		if status, err := n.keeper.GetNodeStatus(n.ctx, w.Address()); err == nil {
			wr.Status = status.String()
		}
		if rec, found, err := n.keeper.GetQosRecord(n.ctx, w.Address()); err == nil && found {
			wr.Score = rec.Score
			wr.Successes = rec.Successes
			wr.Failures = rec.Failures
			wr.Slashes = rec.Slashes
		}
		rep.Workers = append(rep.Workers, wr)
	}
	rep.Behaviors = summarise(rep.Workers)
	return rep
}
