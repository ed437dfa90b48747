package keeper_test

import (
	keepertest "github.com/gpunet/gpunet/testutil/keeper"
	"github.com/gpunet/gpunet/x/compute/types"
)

func (s *KeeperTestSuite) TestDefaultParams() {
	s.Require().Equal(types.DefaultParams(), s.params)
	s.Require().Equal(keepertest.Authority(), s.keeper.GetAuthority())
}

func (s *KeeperTestSuite) TestUpdateParams() {
	updated := types.DefaultParams()
	updated.QueueSizeLimit = 10
	updated.AllowGPUFallback = false

	err := s.keeper.UpdateParams(s.ctx, s.creator.String(), updated)
	s.Require().ErrorIs(err, types.ErrUnauthorized)

	s.Require().NoError(s.keeper.UpdateParams(s.ctx, keepertest.Authority(), updated))
	got, err := s.keeper.GetParams(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(updated, got)

	invalid := updated
	invalid.Denom = ""
	s.Require().ErrorIs(s.keeper.UpdateParams(s.ctx, keepertest.Authority(), invalid), types.ErrInvalidParams)
}

func (s *KeeperTestSuite) TestUpdateParamsBelowQueueSize() {
	for i := 0; i < 3; i++ {
		s.createTask(s.taskSpec(types.TaskTypeSD, 16, 100))
	}
	s.Require().Equal(uint64(3), s.keeper.QueueSize(s.ctx))

	shrunk := s.params
	shrunk.QueueSizeLimit = 2
	err := s.keeper.UpdateParams(s.ctx, keepertest.Authority(), shrunk)
	s.Require().ErrorIs(err, types.ErrInvalidParams)

	shrunk.QueueSizeLimit = 3
	s.Require().NoError(s.keeper.UpdateParams(s.ctx, keepertest.Authority(), shrunk))
}
