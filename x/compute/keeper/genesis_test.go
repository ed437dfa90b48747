package keeper_test

import (
	"encoding/json"

	sdk "github.com/cosmos/cosmos-sdk/types"

	keepertest "github.com/gpunet/gpunet/testutil/keeper"
	"github.com/gpunet/gpunet/x/compute/keeper"
	"github.com/gpunet/gpunet/x/compute/types"
)

func (s *KeeperTestSuite) TestDefaultGenesisRoundTrip() {
	s.Require().NoError(s.keeper.InitGenesis(s.ctx, *types.DefaultGenesis()))

	exported, err := s.keeper.ExportGenesis(s.ctx)
	s.Require().NoError(err)

	want, err := json.Marshal(types.DefaultGenesis())
	s.Require().NoError(err)
	got, err := json.Marshal(exported)
	s.Require().NoError(err)
	s.Require().JSONEq(string(want), string(got))
}

func (s *KeeperTestSuite) TestInitGenesisRejectsInvalidParams() {
	gs := types.DefaultGenesis()
	gs.Params.QueueSizeLimit = 0
	s.Require().ErrorIs(s.keeper.InitGenesis(s.ctx, *gs), types.ErrInvalidParams)
}

func (s *KeeperTestSuite) TestGenesisRestoresLiveState() {
	task := s.busyState()
	exported, err := s.keeper.ExportGenesis(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(exported.Validate())
	s.Require().Len(exported.Nodes, 3)
	s.Require().Len(exported.Tasks, 2)
	s.Require().Len(exported.SlashRecords, 1)
	s.Require().Len(exported.UsedNonces, types.NumRounds)
	s.Require().Len(exported.QosRecords, 4)

	imported, ctx, _ := keepertest.ComputeKeeper(s.T())
	s.Require().NoError(imported.InitGenesis(ctx, *exported))

	reexported, err := imported.ExportGenesis(ctx)
	s.Require().NoError(err)
	want, err := json.Marshal(exported)
	s.Require().NoError(err)
	got, err := json.Marshal(reexported)
	s.Require().NoError(err)
	s.Require().JSONEq(string(want), string(got))

	s.Require().Equal(s.keeper.GetAvailableNodes(s.ctx), imported.GetAvailableNodes(ctx))
	s.Require().Equal(s.keeper.QueueSize(s.ctx), imported.QueueSize(ctx))
	s.Require().Equal(s.keeper.PeekNextTaskID(s.ctx), imported.PeekNextTaskID(ctx))

	invariants := map[string]sdk.Invariant{
		"node-index":        keeper.NodeIndexInvariant(*imported),
		"node-task":         keeper.NodeTaskInvariant(*imported),
		"queue-consistency": keeper.QueueConsistencyInvariant(*imported),
	}
	for name, inv := range invariants {
		msg, broken := inv(ctx)
		s.Require().False(broken, "%s: %s", name, msg)
	}

	// Releasing the winners starts the queued task on the imported state.
	winner := roundNode(task, 0)
	for i := 0; i < 2; i++ {
		s.Require().NoError(imported.ReportResultsUploaded(ctx, roundNode(task, i), task.ID, uint32(i)))
	}
	queuedID := task.ID + 1
	next, err := imported.GetTask(ctx, queuedID)
	s.Require().NoError(err)
	s.Require().Equal(types.TaskStatusStarted, next.Status)

	// Nonces consumed before the export stay consumed.
	round, ok := next.RoundOf(winner.String())
	s.Require().True(ok)
	used := nonceFor(task.ID, 0)
	err = imported.SubmitTaskResultCommitment(ctx, winner, queuedID, round, types.ComputeCommitment(resultA, used), used)
	s.Require().ErrorIs(err, types.ErrNonceAlreadyUsed)
}
