package keeper_test

import (
	"github.com/cosmos/cosmos-sdk/types/query"

	"github.com/gpunet/gpunet/x/compute/keeper"
	"github.com/gpunet/gpunet/x/compute/types"
)

// slashTwice runs two tasks that each slash one minority node.
func (s *KeeperTestSuite) slashTwice() (first, second types.Task) {
	s.joinNodes(4, gpuRTX4090, 24)

	first = s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
	s.runTask(first, resultA, resultA, resultB)
	s.Require().NoError(s.upload(first, 0))
	s.Require().NoError(s.upload(first, 1))

	spec := s.taskSpec(types.TaskTypeSD, 16, 900)
	spec.ResultCap = types.NumRounds
	second = s.createTask(spec)
	s.Require().Equal(types.TaskStatusStarted, second.Status)
	s.runTask(second, resultC, resultA, resultA)
	return first, second
}

func (s *KeeperTestSuite) TestSlashRecords() {
	first, second := s.slashTwice()

	rec, found, err := s.keeper.GetSlashRecord(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().Equal(first.ID, rec.TaskID)
	s.Require().Equal(first.Rounds[2].Node, rec.Node)
	s.Require().Equal(s.params.MinStake, rec.Amount)
	s.Require().Equal(keeper.SlashReasonMinorityResult, rec.Reason)
	s.Require().True(rec.Time.Equal(s.ctx.BlockTime()))

	rec, found, err = s.keeper.GetSlashRecord(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().Equal(second.Rounds[0].Node, rec.Node)

	_, found, err = s.keeper.GetSlashRecord(s.ctx, 3)
	s.Require().NoError(err)
	s.Require().False(found)
}

func (s *KeeperTestSuite) TestListSlashRecordsPaginates() {
	s.slashTwice()

	records, pageRes, err := s.keeper.ListSlashRecords(s.ctx, nil, &query.PageRequest{Limit: 1, CountTotal: true})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Require().Equal(uint64(1), records[0].ID)
	s.Require().Equal(uint64(2), pageRes.Total)
	s.Require().NotEmpty(pageRes.NextKey)

	records, pageRes, err = s.keeper.ListSlashRecords(s.ctx, nil, &query.PageRequest{Key: pageRes.NextKey, Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Require().Equal(uint64(2), records[0].ID)
	s.Require().Empty(pageRes.NextKey)
}

func (s *KeeperTestSuite) TestListSlashRecordsByNode() {
	first, _ := s.slashTwice()
	slashed := roundNode(first, 2)

	records, _, err := s.keeper.ListSlashRecords(s.ctx, slashed, nil)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Require().Equal(first.ID, records[0].TaskID)

	records, _, err = s.keeper.ListSlashRecords(s.ctx, testAddr("stranger", 0), nil)
	s.Require().NoError(err)
	s.Require().Empty(records)
}
