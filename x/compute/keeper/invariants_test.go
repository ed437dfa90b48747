package keeper_test

import (
	"cosmossdk.io/math"

	"github.com/gpunet/gpunet/x/compute/keeper"
	"github.com/gpunet/gpunet/x/compute/types"
)

// busyState leaves a successful task awaiting uploads, a slashed node and a
// queued task behind.
func (s *KeeperTestSuite) busyState() types.Task {
	s.joinNodes(4, gpuRTX4090, 24)
	task := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
	s.runTask(task, resultA, resultA, resultB)
	s.createTask(s.taskSpec(types.TaskTypeSD, 16, 500))
	return task
}

func (s *KeeperTestSuite) TestInvariantsHoldOnCleanState() {
	msg, broken := keeper.AllInvariants(*s.keeper)(s.ctx)
	s.Require().False(broken, msg)
}

func (s *KeeperTestSuite) TestInvariantsHoldThroughLifecycle() {
	task := s.busyState()
	msg, broken := keeper.AllInvariants(*s.keeper)(s.ctx)
	s.Require().False(broken, msg)

	s.Require().NoError(s.upload(task, 0))
	s.Require().NoError(s.upload(task, 1))
	msg, broken = keeper.AllInvariants(*s.keeper)(s.ctx)
	s.Require().False(broken, msg)
	s.Require().Zero(s.keeper.QueueSize(s.ctx))
}

func (s *KeeperTestSuite) TestEscrowBalanceInvariantBroken() {
	s.busyState()
	stolen := s.moduleBalance().Sub(math.OneInt())
	s.Require().NoError(s.bank.SendCoinsFromModuleToAccount(s.ctx, types.ModuleName, testAddr("thief", 0), s.coins(stolen)))

	msg, broken := keeper.EscrowBalanceInvariant(*s.keeper)(s.ctx)
	s.Require().True(broken)
	s.Require().Contains(msg, "module balance below escrow")
}

func (s *KeeperTestSuite) TestNodeIndexInvariantBroken() {
	nodes := s.joinNodes(2, gpuRTX4090, 24)
	s.Require().NoError(s.keeper.DropFromIndexForTesting(s.ctx, nodes[0]))

	msg, broken := keeper.NodeIndexInvariant(*s.keeper)(s.ctx)
	s.Require().True(broken)
	s.Require().Contains(msg, nodes[0].String())
}

func (s *KeeperTestSuite) TestNodeTaskInvariantBroken() {
	addr := s.joinNodes(1, gpuRTX4090, 24)[0]
	s.Require().NoError(s.keeper.Pause(s.ctx, addr))

	info, err := s.keeper.GetNodeInfo(s.ctx, addr)
	s.Require().NoError(err)
	node := info.Node
	node.Status = types.NodeStatusBusy
	node.PendingTaskID = 99
	s.Require().NoError(s.keeper.SetNodeForTesting(s.ctx, node))

	msg, broken := keeper.NodeTaskInvariant(*s.keeper)(s.ctx)
	s.Require().True(broken)
	s.Require().Contains(msg, "no open round in task 99")
}

func (s *KeeperTestSuite) TestQueueConsistencyInvariantBroken() {
	s.createTask(s.taskSpec(types.TaskTypeSD, 16, 100))
	s.keeper.SetQueueSizeForTesting(s.ctx, 3)

	msg, broken := keeper.QueueConsistencyInvariant(*s.keeper)(s.ctx)
	s.Require().True(broken)
	s.Require().Contains(msg, "queue size counter 3, entries 1")

	_, broken = keeper.AllInvariants(*s.keeper)(s.ctx)
	s.Require().True(broken)
}
