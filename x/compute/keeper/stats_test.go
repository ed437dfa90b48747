package keeper_test

import (
	"github.com/gpunet/gpunet/x/compute/types"
)

func (s *KeeperTestSuite) TestNetworkStats() {
	stats, err := s.keeper.GetNetworkStats(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(types.NetworkStats{}, stats)

	s.joinNodes(4, gpuRTX4090, 24)
	s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
	s.createTask(s.taskSpec(types.TaskTypeSD, 16, 500))

	stats, err = s.keeper.GetNetworkStats(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(types.NetworkStats{
		TotalNodes:     4,
		AvailableNodes: 1,
		BusyNodes:      3,
		TotalTasks:     2,
		RunningTasks:   1,
		QueuedTasks:    1,
	}, stats)

	s.Require().NoError(s.keeper.EndBlocker(s.ctx))
}

func (s *KeeperTestSuite) TestNetworkStatsCountsPausedNodes() {
	nodes := s.joinNodes(2, gpuA100, 80)
	s.Require().NoError(s.keeper.Pause(s.ctx, nodes[0]))

	stats, err := s.keeper.GetNetworkStats(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(uint64(2), stats.TotalNodes)
	s.Require().Equal(uint64(1), stats.AvailableNodes)
	s.Require().Zero(stats.BusyNodes)
}
