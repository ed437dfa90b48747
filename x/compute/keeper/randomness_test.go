package keeper_test

import (
	"time"

	"github.com/stretchr/testify/require"

	keepertest "github.com/gpunet/gpunet/testutil/keeper"
	"github.com/gpunet/gpunet/x/compute/keeper"
	"github.com/gpunet/gpunet/x/compute/types"
)

func (s *KeeperTestSuite) TestRejectedSeedProofFailsAssignment() {
	k, ctx, bank := keepertest.ComputeKeeper(s.T(),
		keeper.WithRandomnessSource(keepertest.FixedRandomness{Base: []byte("rejected"), RejectProofs: true}),
	)
	for i := 0; i < types.NumRounds; i++ {
		addr := testAddr("node", i)
		bank.Fund(addr, s.coins(s.params.MinStake))
		s.Require().NoError(k.Join(ctx, addr, gpuRTX4090, 24))
	}

	spec := s.taskSpec(types.TaskTypeSD, 16, 900)
	bank.Fund(s.creator, s.coins(spec.Fee))
	_, err := k.CreateTask(ctx, s.creator, spec)
	s.Require().ErrorIs(err, types.ErrInvalidRandomness)
}

func (s *KeeperTestSuite) TestBlockEntropySource() {
	source := keeper.BlockEntropySource{}
	domain := []byte("task-1")

	seed, proof, err := source.Seed(s.ctx, domain)
	s.Require().NoError(err)
	s.Require().Len(seed, 32)
	s.Require().True(source.VerifySeed(s.ctx, domain, seed, proof))

	s.Require().False(source.VerifySeed(s.ctx, []byte("task-2"), seed, proof))
	s.Require().False(source.VerifySeed(s.ctx, domain, seed, proof[:len(proof)-1]))

	later := s.ctx.WithBlockHeight(s.ctx.BlockHeight() + 1).WithBlockTime(s.ctx.BlockTime().Add(time.Second))
	require.False(s.T(), source.VerifySeed(later, domain, seed, proof))

	next, _, err := source.Seed(later, domain)
	s.Require().NoError(err)
	s.Require().NotEqual(seed, next)
}
