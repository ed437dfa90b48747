package keeper_test

import (
	"time"

	"cosmossdk.io/math"

	"github.com/gpunet/gpunet/x/compute/types"
)

func (s *KeeperTestSuite) pastDeadline(task types.Task) {
	s.ctx = s.ctx.WithBlockTime(task.Deadline.Add(time.Second))
}

func (s *KeeperTestSuite) TestCancelRequiresCreatorOrSelectedNode() {
	task := s.startTask(900)
	s.pastDeadline(task)

	err := s.keeper.CancelTask(s.ctx, testAddr("stranger", 0), task.ID)
	s.Require().ErrorIs(err, types.ErrUnauthorized)
	s.Require().ErrorIs(s.keeper.CancelTask(s.ctx, s.creator, 99), types.ErrTaskNotExist)

	s.Require().NoError(s.keeper.CancelTask(s.ctx, roundNode(task, 1), task.ID))
}

func (s *KeeperTestSuite) TestCancelBeforeDeadline() {
	task := s.startTask(900)

	s.Require().ErrorIs(s.keeper.CancelTask(s.ctx, s.creator, task.ID), types.ErrDeadlineNotExceeded)

	s.ctx = s.ctx.WithBlockTime(task.Deadline)
	s.Require().ErrorIs(s.keeper.CancelTask(s.ctx, s.creator, task.ID), types.ErrDeadlineNotExceeded)

	s.advance(time.Second)
	s.Require().NoError(s.keeper.CancelTask(s.ctx, s.creator, task.ID))
}

func (s *KeeperTestSuite) TestCancelWithoutDisclosures() {
	task := s.startTask(900)
	s.Require().NoError(s.commit(task, 0, resultA))
	s.pastDeadline(task)

	s.Require().NoError(s.keeper.CancelTask(s.ctx, s.creator, task.ID))

	s.Require().False(s.getTask(task.ID).Exists())
	s.Require().Equal([]string{types.AbortReasonCancelled}, s.abortReasons())
	s.Require().Equal(math.NewInt(900), s.balance(s.creator))
	s.Require().Len(s.events(types.EventTypeTaskNodeCancelled), types.NumRounds)
	for i := 0; i < types.NumRounds; i++ {
		s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(roundNode(task, i)))
	}

	// The committed round was waiting on the others and is not charged.
	committed := s.qos(roundNode(task, 0))
	s.Require().Equal(s.params.QosInitialScore, committed.Score)
	s.Require().Zero(committed.NegativeStreak)
	for i := 1; i < types.NumRounds; i++ {
		rec := s.qos(roundNode(task, i))
		s.Require().Equal(s.params.QosInitialScore-s.params.QosTimeoutPenalty, rec.Score)
		s.Require().Equal(uint32(1), rec.NegativeStreak)
	}
}

func (s *KeeperTestSuite) TestRepeatedTimeoutsKickOutOnlySilentNode() {
	nodes := s.joinNodes(3, gpuRTX4090, 24)
	silent := nodes[2]

	for n := 1; n <= int(s.params.KickoutThreshold); n++ {
		task := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
		s.Require().Equal(types.TaskStatusStarted, task.Status)
		for i := 0; i < types.NumRounds; i++ {
			if !roundNode(task, i).Equals(silent) {
				s.Require().NoError(s.commit(task, i, resultA))
			}
		}

		s.pastDeadline(task)
		s.Require().NoError(s.keeper.CancelTask(s.ctx, silent, task.ID))
		s.Require().Equal([]string{types.AbortReasonCancelled}, s.abortReasons()[n-1:])
	}

	kicked := s.events(types.EventTypeNodeKickedOut)
	s.Require().Len(kicked, 1)
	s.Require().Equal(silent.String(), attribute(kicked[0], types.AttributeKeyNode))
	s.Require().Equal(types.NodeStatusQuit, s.nodeStatus(silent))
	for _, addr := range nodes {
		if addr.Equals(silent) {
			continue
		}
		s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(addr))
		s.Require().Zero(s.qos(addr).NegativeStreak)
	}
	s.requireInvariants()
}

func (s *KeeperTestSuite) TestCancelSettlesMajority() {
	task := s.startTask(900)
	for i := 0; i < types.NumRounds; i++ {
		s.Require().NoError(s.commit(task, i, resultA))
	}
	s.Require().NoError(s.disclose(task, 0, resultA))
	s.Require().NoError(s.disclose(task, 1, resultA))
	s.Require().Equal(types.TaskStatusStarted, s.getTask(task.ID).Status)

	s.pastDeadline(task)
	s.Require().NoError(s.keeper.CancelTask(s.ctx, roundNode(task, 0), task.ID))

	stored := s.getTask(task.ID)
	s.Require().Equal(types.TaskStatusSuccess, stored.Status)
	s.Require().True(stored.Deadline.Equal(s.ctx.BlockTime().Add(s.params.TaskTimeout())))
	s.Require().Equal(types.VerdictTimedOut, stored.Rounds[2].Verdict)
	s.Require().Equal(math.NewInt(450), s.balance(roundNode(task, 0)))
	s.Require().Equal(math.NewInt(450), s.balance(roundNode(task, 1)))

	silent := roundNode(task, 2)
	s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(silent))
	s.Require().Equal(s.params.QosInitialScore-s.params.QosTimeoutPenalty, s.qos(silent).Score)
	s.Require().Empty(s.events(types.EventTypeTaskNodeSlashed))
}

func (s *KeeperTestSuite) TestCancelSingleDisclosure() {
	task := s.startTask(900)
	for i := 0; i < types.NumRounds; i++ {
		s.Require().NoError(s.commit(task, i, resultA))
	}
	s.Require().NoError(s.disclose(task, 0, resultA))

	s.pastDeadline(task)
	s.Require().NoError(s.keeper.CancelTask(s.ctx, s.creator, task.ID))

	s.Require().Equal([]string{types.AbortReasonNoMajority}, s.abortReasons())
	s.Require().Equal(math.NewInt(900), s.balance(s.creator))
	s.Require().Equal(s.params.QosInitialScore, s.qos(roundNode(task, 0)).Score)
}

func (s *KeeperTestSuite) TestCancelReleasesUploadStragglers() {
	task := s.startTask(900)
	s.runTask(task, resultA, resultA, resultA)
	s.Require().NoError(s.upload(task, 0))

	success := s.getTask(task.ID)
	s.Require().ErrorIs(s.keeper.CancelTask(s.ctx, s.creator, task.ID), types.ErrDeadlineNotExceeded)

	s.pastDeadline(success)
	s.Require().NoError(s.keeper.CancelTask(s.ctx, s.creator, task.ID))

	s.Require().False(s.getTask(task.ID).Exists())
	s.Require().Len(s.events(types.EventTypeTaskNodeCancelled), 2)
	for i := 1; i < types.NumRounds; i++ {
		addr := roundNode(task, i)
		s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(addr))
		s.Require().Equal(math.NewInt(300), s.balance(addr))
		expected := s.params.QosInitialScore + s.params.QosSuccessDelta - s.params.QosTimeoutPenalty
		s.Require().Equal(expected, s.qos(addr).Score)
	}
	s.Require().Empty(s.abortReasons())
}

func (s *KeeperTestSuite) TestCancelQueuedTask() {
	task := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 100))
	s.Require().Equal(types.TaskStatusPending, task.Status)
	s.pastDeadline(task)

	s.Require().ErrorIs(s.keeper.CancelTask(s.ctx, testAddr("stranger", 0), task.ID), types.ErrUnauthorized)
	s.Require().NoError(s.keeper.CancelTask(s.ctx, s.creator, task.ID))

	s.Require().False(s.getTask(task.ID).Exists())
	s.Require().Zero(s.keeper.QueueSize(s.ctx))
	s.Require().Equal([]string{types.AbortReasonCancelled}, s.abortReasons())
	s.Require().Equal(math.NewInt(100), s.balance(s.creator))
}

func (s *KeeperTestSuite) TestRepeatedTimeoutsKickOut() {
	nodes := s.joinNodes(3, gpuRTX4090, 24)

	for round := 1; round <= int(s.params.KickoutThreshold); round++ {
		task := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
		s.Require().Equal(types.TaskStatusStarted, task.Status)
		s.pastDeadline(task)
		s.Require().NoError(s.keeper.CancelTask(s.ctx, s.creator, task.ID))
	}

	s.Require().Len(s.events(types.EventTypeNodeKickedOut), 3)
	for _, addr := range nodes {
		s.Require().Equal(types.NodeStatusQuit, s.nodeStatus(addr))
		s.Require().Equal(s.params.MinStake, s.balance(addr))

		rec := s.qos(addr)
		s.Require().Zero(rec.NegativeStreak)
		s.Require().Equal(uint64(2), rec.Failures)
		s.Require().Equal(s.params.QosInitialScore-2*s.params.QosTimeoutPenalty, rec.Score)
	}
	s.Require().True(s.moduleBalance().IsZero())
	s.Require().Empty(s.keeper.GetAvailableNodes(s.ctx))

	// A kicked-out node may rejoin and keeps its record.
	s.Require().NoError(s.keeper.Join(s.ctx, nodes[0], gpuRTX4090, 24))
	info, err := s.keeper.GetNodeInfo(s.ctx, nodes[0])
	s.Require().NoError(err)
	s.Require().Equal(s.params.QosInitialScore-2*s.params.QosTimeoutPenalty, info.QosScore)
}

func (s *KeeperTestSuite) TestSuccessResetsNegativeStreak() {
	nodes := s.joinNodes(3, gpuRTX4090, 24)

	first := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
	s.pastDeadline(first)
	s.Require().NoError(s.keeper.CancelTask(s.ctx, s.creator, first.ID))

	second := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
	s.runTask(second, resultA, resultA, resultA)
	for i := 0; i < types.NumRounds; i++ {
		s.Require().NoError(s.upload(second, i))
	}

	third := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
	s.pastDeadline(third)
	s.Require().NoError(s.keeper.CancelTask(s.ctx, s.creator, third.ID))

	s.Require().Empty(s.events(types.EventTypeNodeKickedOut))
	for _, addr := range nodes {
		s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(addr))
		s.Require().Equal(uint32(1), s.qos(addr).NegativeStreak)
	}
}

func (s *KeeperTestSuite) TestQosScoreIsClamped() {
	nodes := s.joinNodes(3, gpuRTX4090, 24)
	for n := 0; n < 3; n++ {
		task := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
		s.runTask(task, resultA, resultA, resultA)
		for i := 0; i < types.NumRounds; i++ {
			s.Require().NoError(s.upload(task, i))
		}
	}

	var records int
	err := s.keeper.IterateQosRecords(s.ctx, func(rec types.QosRecord) (bool, error) {
		records++
		s.Require().Equal(s.params.QosMaxScore, rec.Score)
		s.Require().Equal(uint64(3), rec.Successes)
		return false, nil
	})
	s.Require().NoError(err)
	s.Require().Equal(len(nodes), records)
}

func (s *KeeperTestSuite) TestQosRecordOfUnknownNode() {
	rec, found, err := s.keeper.GetQosRecord(s.ctx, testAddr("stranger", 0))
	s.Require().NoError(err)
	s.Require().False(found)
	s.Require().Equal(s.params.QosInitialScore, rec.Score)
}
