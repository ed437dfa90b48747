package keeper_test

import (
	"bytes"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

// startTask joins three identical nodes and starts one SD task on them.
func (s *KeeperTestSuite) startTask(fee int64) types.Task {
	return s.startTaskWithCap(fee, 1)
}

func (s *KeeperTestSuite) startTaskWithCap(fee int64, resultCap uint32) types.Task {
	s.joinNodes(3, gpuRTX4090, 24)
	spec := s.taskSpec(types.TaskTypeSD, 16, fee)
	spec.ResultCap = resultCap
	task := s.createTask(spec)
	s.Require().Equal(types.TaskStatusStarted, task.Status)
	return task
}

func (s *KeeperTestSuite) TestCreateTaskStarts() {
	task := s.startTask(900)

	s.Require().Equal(uint64(1), task.ID)
	s.Require().Len(task.Rounds, types.NumRounds)
	s.Require().NotEmpty(task.Seed)
	s.Require().True(task.Deadline.Equal(s.ctx.BlockTime().Add(s.params.TaskTimeout())))
	s.Require().NoError(task.Validate())

	for i, r := range task.Rounds {
		s.Require().Equal(uint32(i), r.Index)
		s.Require().Equal(types.RoundPending, r.Outcome)
		addr := roundNode(task, i)
		s.Require().Equal(types.NodeStatusBusy, s.nodeStatus(addr))
		taskID, err := s.keeper.GetNodeTask(s.ctx, addr)
		s.Require().NoError(err)
		s.Require().Equal(task.ID, taskID)
	}

	s.Require().Empty(s.keeper.GetAvailableNodes(s.ctx))
	s.Require().True(s.balance(s.creator).IsZero())
	s.Require().Equal(s.params.MinStake.MulRaw(3).AddRaw(900), s.moduleBalance())
	s.Require().Len(s.events(types.EventTypeTaskCreated), 1)
	s.Require().Len(s.events(types.EventTypeTaskStarted), types.NumRounds)
	stored := s.getTask(task.ID)
	s.Require().Equal(task.Seed, stored.Seed)
	s.Require().Equal(task.Rounds[0].Node, stored.Rounds[0].Node)
	s.Require().Equal(uint64(2), s.keeper.PeekNextTaskID(s.ctx))
}

func (s *KeeperTestSuite) TestCreateTaskErrors() {
	s.joinNodes(3, gpuRTX4090, 24)
	poor := testAddr("poor", 0)
	locked := testAddr("locked", 0)
	s.bank.Fund(locked, s.coins(math.NewInt(1000)))
	s.bank.Lock(locked, s.coins(math.NewInt(500)))

	testCases := []struct {
		name    string
		creator sdk.AccAddress
		mutate  func(spec *types.TaskSpec)
		expErr  error
	}{
		{
			name:    "zero fee",
			creator: s.creator,
			mutate:  func(spec *types.TaskSpec) { spec.Fee = math.ZeroInt() },
			expErr:  types.ErrInvalidTask,
		},
		{
			name:    "missing task hash",
			creator: s.creator,
			mutate:  func(spec *types.TaskSpec) { spec.TaskHash = nil },
			expErr:  types.ErrInvalidTask,
		},
		{
			name:    "zero vram limit",
			creator: s.creator,
			mutate:  func(spec *types.TaskSpec) { spec.VramLimit = 0 },
			expErr:  types.ErrInvalidTask,
		},
		{
			name:    "result cap above rounds",
			creator: s.creator,
			mutate:  func(spec *types.TaskSpec) { spec.ResultCap = types.NumRounds + 1 },
			expErr:  types.ErrInvalidTask,
		},
		{
			name:    "unknown task type",
			creator: s.creator,
			mutate:  func(spec *types.TaskSpec) { spec.TaskType = 7 },
			expErr:  types.ErrInvalidTask,
		},
		{
			name:    "balance below fee",
			creator: poor,
			mutate:  func(spec *types.TaskSpec) {},
			expErr:  types.ErrNotEnoughTokensForTask,
		},
		{
			name:    "fee locked",
			creator: locked,
			mutate:  func(spec *types.TaskSpec) { spec.Fee = math.NewInt(800) },
			expErr:  types.ErrInsufficientAllowance,
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			spec := s.taskSpec(types.TaskTypeSD, 16, 100)
			tc.mutate(&spec)
			_, err := s.keeper.CreateTask(s.ctx, tc.creator, spec)
			s.Require().ErrorIs(err, tc.expErr)
		})
	}

	s.Require().Equal(uint64(1), s.keeper.PeekNextTaskID(s.ctx))
	s.Require().Len(s.keeper.GetAvailableNodes(s.ctx), 3)
}

func (s *KeeperTestSuite) TestCommitErrors() {
	task := s.startTask(900)
	node0, node1 := roundNode(task, 0), roundNode(task, 1)
	nonce := []byte("nonce")
	commitment := types.ComputeCommitment(resultA, nonce)

	s.Require().ErrorIs(s.keeper.SubmitTaskResultCommitment(s.ctx, node0, 42, 0, commitment, nonce), types.ErrTaskNotExist)
	s.Require().ErrorIs(s.keeper.SubmitTaskResultCommitment(s.ctx, node0, task.ID, 3, commitment, nonce), types.ErrRoundNotExist)
	s.Require().ErrorIs(s.keeper.SubmitTaskResultCommitment(s.ctx, node1, task.ID, 0, commitment, nonce), types.ErrNotSelectedNode)
	s.Require().ErrorIs(s.keeper.SubmitTaskResultCommitment(s.ctx, node0, task.ID, 0, commitment[:31], nonce), types.ErrInvalidCommitment)
	s.Require().ErrorIs(s.keeper.SubmitTaskResultCommitment(s.ctx, node0, task.ID, 0, commitment, nil), types.ErrInvalidCommitment)

	s.Require().NoError(s.commit(task, 0, resultA))
	s.Require().ErrorIs(s.commit(task, 0, resultA), types.ErrAlreadySubmitted)
	s.Require().Equal(types.RoundCommitted, s.getTask(task.ID).Rounds[0].Outcome)

	s.Require().ErrorIs(s.disclose(task, 0, resultA), types.ErrCommitmentsNotReady)
	s.Require().Empty(s.events(types.EventTypeTaskResultCommitmentsReady))
}

func (s *KeeperTestSuite) TestDiscloseErrors() {
	task := s.startTask(900)
	for i := 0; i < types.NumRounds; i++ {
		s.Require().NoError(s.commit(task, i, resultA))
	}
	s.Require().Len(s.events(types.EventTypeTaskResultCommitmentsReady), 1)

	s.Require().ErrorIs(s.disclose(task, 0, nil), types.ErrInvalidResult)
	s.Require().ErrorIs(s.disclose(task, 0, bytes.Repeat([]byte{1}, int(s.params.MaxResultSize)+1)), types.ErrInvalidResult)
	s.Require().ErrorIs(s.disclose(task, 0, resultB), types.ErrMismatchResultAndCommitment)
	s.Require().ErrorIs(s.keeper.DiscloseTaskResult(s.ctx, roundNode(task, 1), task.ID, 0, resultA), types.ErrNotSelectedNode)

	s.Require().NoError(s.disclose(task, 0, resultA))
	s.Require().ErrorIs(s.disclose(task, 0, resultA), types.ErrAlreadySubmitted)

	stored := s.getTask(task.ID)
	s.Require().Equal(types.RoundDisclosed, stored.Rounds[0].Outcome)
	s.Require().Equal(uint32(1), stored.Rounds[0].DisclosureRank)
	s.Require().Equal(uint32(1), stored.Disclosures)
}

func (s *KeeperTestSuite) TestNonceCannotBeReused() {
	first := s.startTask(900)
	s.runTask(first, resultA, resultA, resultA)
	for i := 0; i < types.NumRounds; i++ {
		s.Require().NoError(s.upload(first, i))
	}

	second := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
	s.Require().Equal(types.TaskStatusStarted, second.Status)

	node := roundNode(second, 0)
	prev, ok := first.RoundOf(node.String())
	s.Require().True(ok)
	usedNonce := nonceFor(first.ID, int(prev))

	err := s.keeper.SubmitTaskResultCommitment(s.ctx, node, second.ID, 0, types.ComputeCommitment(resultA, usedNonce), usedNonce)
	s.Require().ErrorIs(err, types.ErrNonceAlreadyUsed)
	s.Require().NoError(s.commit(second, 0, resultA))
}

func (s *KeeperTestSuite) TestMajorityPaysWinnersAndSlashesMinority() {
	task := s.startTask(900)
	winner0, winner1, loser := roundNode(task, 0), roundNode(task, 1), roundNode(task, 2)

	s.runTask(task, resultA, resultA, resultB)

	stored := s.getTask(task.ID)
	s.Require().Equal(types.TaskStatusSuccess, stored.Status)
	s.Require().True(stored.Deadline.Equal(s.ctx.BlockTime().Add(s.params.TaskTimeout())))
	s.Require().Equal(types.VerdictWinner, stored.Rounds[0].Verdict)
	s.Require().Equal(types.VerdictWinner, stored.Rounds[1].Verdict)
	s.Require().Equal(types.VerdictSlashed, stored.Rounds[2].Verdict)
	s.Require().Equal(math.NewInt(450), stored.Rounds[0].Payout)
	s.Require().Equal(math.NewInt(450), stored.Rounds[1].Payout)

	s.Require().Equal(math.NewInt(450), s.balance(winner0))
	s.Require().Equal(math.NewInt(450), s.balance(winner1))
	s.Require().True(s.balance(loser).IsZero())
	s.Require().True(s.balance(s.creator).IsZero())
	s.Require().Equal(s.params.MinStake.MulRaw(3), s.moduleBalance())

	// Winners stay busy until they upload, the loser is gone.
	s.Require().Equal(types.NodeStatusBusy, s.nodeStatus(winner0))
	s.Require().Equal(types.NodeStatusQuit, s.nodeStatus(loser))
	s.Require().Equal(s.params.QosInitialScore+s.params.QosSuccessDelta, s.qos(winner0).Score)
	s.Require().Zero(s.qos(loser).Score)
	s.Require().Equal(uint64(1), s.qos(loser).Slashes)

	records, _, err := s.keeper.ListSlashRecords(s.ctx, loser, nil)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Require().Equal(task.ID, records[0].TaskID)
	s.Require().Equal(s.params.MinStake, records[0].Amount)
	s.Require().Equal("minority_result", records[0].Reason)

	s.Require().Len(s.events(types.EventTypeTaskSuccess), 1)
	s.Require().Len(s.events(types.EventTypeTaskNodeSuccess), 2)
	s.Require().Len(s.events(types.EventTypeTaskNodeSlashed), 1)

	// Uploads release the winners; the last one removes the task.
	s.Require().NoError(s.upload(task, 0))
	s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(winner0))
	s.Require().Equal(s.params.QosInitialScore+s.params.QosSuccessDelta+s.params.QosUploadDelta, s.qos(winner0).Score)
	s.Require().ErrorIs(s.upload(task, 0), types.ErrAlreadySubmitted)
	s.Require().ErrorIs(s.upload(task, 2), types.ErrIllegalStatus)

	s.Require().NoError(s.upload(task, 1))
	s.Require().False(s.getTask(task.ID).Exists())
	s.Require().Len(s.events(types.EventTypeTaskFinished), 1)
	s.Require().Len(s.events(types.EventTypeTaskResultUploaded), 2)
	s.Require().ErrorIs(s.upload(task, 1), types.ErrTaskNotExist)
}

func (s *KeeperTestSuite) TestUploadBeforeSuccessRejected() {
	task := s.startTask(900)
	s.Require().ErrorIs(s.upload(task, 0), types.ErrIllegalTaskStatus)
}

func (s *KeeperTestSuite) TestPayoutWeights() {
	s.setParams(func(p *types.Params) { p.PayoutWeights = []uint64{3, 2, 1} })
	task := s.startTask(1000)

	s.runTask(task, resultA, resultA, resultB)

	s.Require().Equal(math.NewInt(600), s.balance(roundNode(task, 0)))
	s.Require().Equal(math.NewInt(400), s.balance(roundNode(task, 1)))
	s.Require().True(s.balance(s.creator).IsZero())
}

func (s *KeeperTestSuite) TestPayoutDustRefunded() {
	task := s.startTask(1000)

	s.runTask(task, resultA, resultA, resultA)

	for i := 0; i < types.NumRounds; i++ {
		s.Require().Equal(math.NewInt(333), s.balance(roundNode(task, i)))
	}
	s.Require().Equal(math.OneInt(), s.balance(s.creator))

	success := s.events(types.EventTypeTaskSuccess)
	s.Require().Len(success, 1)
	s.Require().Equal("999", attribute(success[0], types.AttributeKeyAmount))
	s.Require().Equal("1", attribute(success[0], types.AttributeKeyRefund))
}

func (s *KeeperTestSuite) TestNoMajorityAborts() {
	task := s.startTaskWithCap(900, types.NumRounds)

	s.runTask(task, resultA, resultB, resultC)

	s.Require().False(s.getTask(task.ID).Exists())
	s.Require().Equal([]string{types.AbortReasonNoMajority}, s.abortReasons())
	s.Require().Equal(math.NewInt(900), s.balance(s.creator))
	s.Require().Empty(s.events(types.EventTypeTaskNodeSlashed))
	for i := 0; i < types.NumRounds; i++ {
		s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(roundNode(task, i)))
	}
	s.Require().Len(s.keeper.GetAvailableNodes(s.ctx), 3)
}

func (s *KeeperTestSuite) TestResultCapAbortsOnSecondDistinctResult() {
	task := s.startTask(900)
	for i := 0; i < types.NumRounds; i++ {
		s.Require().NoError(s.commit(task, i, []byte{byte('a' + i)}))
	}
	s.Require().NoError(s.disclose(task, 0, []byte{'a'}))
	s.Require().Equal(types.TaskStatusStarted, s.getTask(task.ID).Status)

	s.Require().NoError(s.disclose(task, 1, []byte{'b'}))

	s.Require().False(s.getTask(task.ID).Exists())
	s.Require().Equal([]string{types.AbortReasonResultCap}, s.abortReasons())
	s.Require().Equal(math.NewInt(900), s.balance(s.creator))
	s.Require().Empty(s.events(types.EventTypeTaskNodeSlashed))
	for i := 0; i < types.NumRounds; i++ {
		addr := roundNode(task, i)
		s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(addr))
		s.Require().Equal(s.params.QosInitialScore, s.qos(addr).Score)
	}
	s.Require().ErrorIs(s.disclose(task, 2, []byte{'c'}), types.ErrTaskNotExist)
	s.requireInvariants()
}

func (s *KeeperTestSuite) TestResultCapAdmitsDissentBeforeMajority() {
	task := s.startTaskWithCap(900, 2)
	s.runTask(task, resultB, resultA, resultA)

	stored := s.getTask(task.ID)
	s.Require().Equal(types.TaskStatusSuccess, stored.Status)
	s.Require().Empty(s.abortReasons())
	s.Require().Len(s.events(types.EventTypeTaskNodeSlashed), 1)
	s.Require().Equal(types.VerdictSlashed, stored.Rounds[0].Verdict)
}

func (s *KeeperTestSuite) TestResultCapIgnoredOnceMajorityHolds() {
	task := s.startTask(900)
	s.runTask(task, resultA, resultA, resultB)

	s.Require().Equal(types.TaskStatusSuccess, s.getTask(task.ID).Status)
	s.Require().Empty(s.abortReasons())
	s.Require().Len(s.events(types.EventTypeTaskNodeSlashed), 1)
}

func (s *KeeperTestSuite) TestRejectedSeedLeavesNoTrace() {
	s.rejectSeeds()
	nodes := s.joinNodes(3, gpuRTX4090, 24)
	spec := s.taskSpec(types.TaskTypeSD, 16, 900)
	s.bank.Fund(s.creator, s.coins(spec.Fee))
	escrow := s.moduleBalance()

	_, err := s.keeper.CreateTask(s.ctx, s.creator, spec)
	s.Require().ErrorIs(err, types.ErrInvalidRandomness)

	s.Require().Equal(spec.Fee, s.balance(s.creator))
	s.Require().Equal(escrow, s.moduleBalance())
	s.Require().Equal(uint64(1), s.keeper.PeekNextTaskID(s.ctx))
	s.Require().Zero(s.keeper.QueueSize(s.ctx))
	s.Require().False(s.getTask(1).Exists())
	s.Require().Empty(s.events(types.EventTypeTaskCreated))
	for _, addr := range nodes {
		s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(addr))
	}
	s.requireInvariants()
}

func (s *KeeperTestSuite) TestErrorReportLeavesQuorum() {
	task := s.startTask(900)
	for i := 0; i < types.NumRounds; i++ {
		s.Require().NoError(s.commit(task, i, resultA))
	}

	failing := roundNode(task, 2)
	s.Require().NoError(s.keeper.ReportTaskError(s.ctx, failing, task.ID, 2))
	s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(failing))
	s.Require().Equal(s.params.QosInitialScore-s.params.QosErrorPenalty, s.qos(failing).Score)
	s.Require().Equal(uint32(1), s.qos(failing).NegativeStreak)
	s.Require().ErrorIs(s.keeper.ReportTaskError(s.ctx, failing, task.ID, 2), types.ErrAlreadySubmitted)

	s.Require().NoError(s.disclose(task, 0, resultA))
	s.Require().NoError(s.disclose(task, 1, resultA))

	stored := s.getTask(task.ID)
	s.Require().Equal(types.TaskStatusSuccess, stored.Status)
	s.Require().Equal(math.NewInt(450), s.balance(roundNode(task, 0)))
	s.Require().Equal(math.NewInt(450), s.balance(roundNode(task, 1)))
	s.Require().True(s.balance(failing).IsZero())
}

func (s *KeeperTestSuite) TestErrorBeforeCommitCompletesReadiness() {
	task := s.startTask(900)
	s.Require().NoError(s.commit(task, 0, resultA))
	s.Require().NoError(s.commit(task, 1, resultA))

	s.Require().NoError(s.keeper.ReportTaskError(s.ctx, roundNode(task, 2), task.ID, 2))
	s.Require().Len(s.events(types.EventTypeTaskResultCommitmentsReady), 1)
	s.Require().ErrorIs(s.commit(task, 2, resultA), types.ErrAlreadySubmitted)
}

func (s *KeeperTestSuite) TestErrorsAfterDisagreementAbort() {
	task := s.startTaskWithCap(900, 2)
	for i := 0; i < types.NumRounds; i++ {
		s.Require().NoError(s.commit(task, i, []byte{byte('a' + i)}))
	}
	s.Require().NoError(s.disclose(task, 0, []byte{'a'}))
	s.Require().NoError(s.disclose(task, 1, []byte{'b'}))

	s.Require().NoError(s.keeper.ReportTaskError(s.ctx, roundNode(task, 2), task.ID, 2))

	s.Require().False(s.getTask(task.ID).Exists())
	s.Require().Equal([]string{types.AbortReasonNoMajority}, s.abortReasons())
	s.Require().Equal(math.NewInt(900), s.balance(s.creator))
}

func (s *KeeperTestSuite) TestAllErrorsAbort() {
	task := s.startTask(900)

	s.Require().NoError(s.keeper.ReportTaskError(s.ctx, roundNode(task, 0), task.ID, 0))
	s.Require().Equal(types.TaskStatusStarted, s.getTask(task.ID).Status)

	s.Require().NoError(s.keeper.ReportTaskError(s.ctx, roundNode(task, 1), task.ID, 1))

	s.Require().False(s.getTask(task.ID).Exists())
	s.Require().Equal([]string{types.AbortReasonAllErrors}, s.abortReasons())
	s.Require().Equal(math.NewInt(900), s.balance(s.creator))
	for i := 0; i < types.NumRounds; i++ {
		s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(roundNode(task, i)))
	}
	// The remaining node is released without penalty.
	s.Require().Equal(s.params.QosInitialScore, s.qos(roundNode(task, 2)).Score)
	s.Require().ErrorIs(s.keeper.ReportTaskError(s.ctx, roundNode(task, 2), task.ID, 2), types.ErrTaskNotExist)
}

func (s *KeeperTestSuite) TestIterateTasks() {
	s.joinNodes(3, gpuRTX4090, 24)
	s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
	s.createTask(s.taskSpec(types.TaskTypeSD, 16, 500))

	var statuses []types.TaskStatus
	err := s.keeper.IterateTasks(s.ctx, func(task types.Task) (bool, error) {
		statuses = append(statuses, task.Status)
		return false, nil
	})
	s.Require().NoError(err)
	s.Require().Equal([]types.TaskStatus{types.TaskStatusStarted, types.TaskStatusPending}, statuses)
}
