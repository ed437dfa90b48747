package keeper_test

import (
	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
)

func (s *KeeperTestSuite) TestJoin() {
	addr := testAddr("node", 100)
	s.bank.Fund(addr, s.coins(s.params.MinStake))

	s.Require().NoError(s.keeper.Join(s.ctx, addr, gpuRTX4090, 24))

	s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(addr))
	s.Require().True(s.balance(addr).IsZero())
	s.Require().Equal(s.params.MinStake, s.moduleBalance())
	s.Require().Equal([]string{addr.String()}, s.keeper.GetAvailableNodes(s.ctx))

	info, err := s.keeper.GetNodeInfo(s.ctx, addr)
	s.Require().NoError(err)
	s.Require().Equal(gpuRTX4090, info.GPUName)
	s.Require().Equal(uint64(24), info.GPUVram)
	s.Require().Equal(s.params.MinStake, info.Stake)
	s.Require().Equal(s.params.QosInitialScore, info.QosScore)

	events := s.events(types.EventTypeNodeStatusChanged)
	s.Require().Len(events, 1)
	s.Require().Equal("quit", attribute(events[0], types.AttributeKeyFromStatus))
	s.Require().Equal("available", attribute(events[0], types.AttributeKeyToStatus))
}

func (s *KeeperTestSuite) TestJoinErrors() {
	testCases := []struct {
		name   string
		setup  func(addr sdk.AccAddress)
		gpu    string
		vram   uint64
		expErr error
	}{
		{
			name:   "empty gpu name",
			setup:  func(addr sdk.AccAddress) { s.bank.Fund(addr, s.coins(s.params.MinStake)) },
			gpu:    "",
			vram:   24,
			expErr: types.ErrInvalidGPU,
		},
		{
			name:   "zero vram",
			setup:  func(addr sdk.AccAddress) { s.bank.Fund(addr, s.coins(s.params.MinStake)) },
			gpu:    gpuRTX4090,
			vram:   0,
			expErr: types.ErrInvalidGPU,
		},
		{
			name:   "balance below stake",
			setup:  func(addr sdk.AccAddress) { s.bank.Fund(addr, s.coins(s.params.MinStake.SubRaw(1))) },
			gpu:    gpuRTX4090,
			vram:   24,
			expErr: types.ErrInsufficientStake,
		},
		{
			name: "stake locked",
			setup: func(addr sdk.AccAddress) {
				s.bank.Fund(addr, s.coins(s.params.MinStake))
				s.bank.Lock(addr, s.coins(math.OneInt()))
			},
			gpu:    gpuRTX4090,
			vram:   24,
			expErr: types.ErrInsufficientAllowance,
		},
		{
			name: "already joined",
			setup: func(addr sdk.AccAddress) {
				s.bank.Fund(addr, s.coins(s.params.MinStake.MulRaw(2)))
				s.Require().NoError(s.keeper.Join(s.ctx, addr, gpuRTX4090, 24))
			},
			gpu:    gpuRTX4090,
			vram:   24,
			expErr: types.ErrIllegalStatus,
		},
	}

	for i, tc := range testCases {
		s.Run(tc.name, func() {
			addr := testAddr("join", i)
			tc.setup(addr)
			err := s.keeper.Join(s.ctx, addr, tc.gpu, tc.vram)
			s.Require().ErrorIs(err, tc.expErr)
		})
	}
}

func (s *KeeperTestSuite) TestPauseResume() {
	addr := s.joinNodes(1, gpuRTX4090, 24)[0]

	s.Require().NoError(s.keeper.Pause(s.ctx, addr))
	s.Require().Equal(types.NodeStatusPaused, s.nodeStatus(addr))
	s.Require().Empty(s.keeper.GetAvailableNodes(s.ctx))
	s.Require().ErrorIs(s.keeper.Pause(s.ctx, addr), types.ErrIllegalStatus)
	s.Require().ErrorIs(s.keeper.Quit(s.ctx, addr), types.ErrIllegalStatus)

	s.Require().NoError(s.keeper.Resume(s.ctx, addr))
	s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(addr))
	s.Require().Equal([]string{addr.String()}, s.keeper.GetAvailableNodes(s.ctx))
	s.Require().ErrorIs(s.keeper.Resume(s.ctx, addr), types.ErrIllegalStatus)
}

func (s *KeeperTestSuite) TestQuitReturnsStake() {
	addr := s.joinNodes(1, gpuRTX4090, 24)[0]

	s.Require().NoError(s.keeper.Quit(s.ctx, addr))
	s.Require().Equal(types.NodeStatusQuit, s.nodeStatus(addr))
	s.Require().Equal(s.params.MinStake, s.balance(addr))
	s.Require().True(s.moduleBalance().IsZero())
	s.Require().Empty(s.keeper.GetAvailableNodes(s.ctx))
	s.Require().ErrorIs(s.keeper.Quit(s.ctx, addr), types.ErrIllegalStatus)

	// The returned stake is enough to join again.
	s.Require().NoError(s.keeper.Join(s.ctx, addr, gpuA100, 80))
	s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(addr))
}

func (s *KeeperTestSuite) TestUnknownNodeIsQuit() {
	addr := testAddr("stranger", 0)

	s.Require().Equal(types.NodeStatusQuit, s.nodeStatus(addr))
	info, err := s.keeper.GetNodeInfo(s.ctx, addr)
	s.Require().NoError(err)
	s.Require().Equal(types.NodeStatusQuit, info.Status)
	s.Require().True(info.Stake.IsZero())

	taskID, err := s.keeper.GetNodeTask(s.ctx, addr)
	s.Require().NoError(err)
	s.Require().Zero(taskID)

	s.Require().ErrorIs(s.keeper.Pause(s.ctx, addr), types.ErrIllegalStatus)
	s.Require().ErrorIs(s.keeper.Resume(s.ctx, addr), types.ErrIllegalStatus)
}

func (s *KeeperTestSuite) TestBusyNodeLatchesPauseAndQuit() {
	s.joinNodes(3, gpuRTX4090, 24)
	task := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
	s.Require().Equal(types.TaskStatusStarted, task.Status)

	pausing, quitting, staying := roundNode(task, 0), roundNode(task, 1), roundNode(task, 2)
	s.Require().NoError(s.keeper.Pause(s.ctx, pausing))
	s.Require().NoError(s.keeper.Quit(s.ctx, quitting))
	s.Require().Equal(types.NodeStatusPendingPause, s.nodeStatus(pausing))
	s.Require().Equal(types.NodeStatusPendingQuit, s.nodeStatus(quitting))
	s.Require().ErrorIs(s.keeper.Resume(s.ctx, pausing), types.ErrIllegalStatus)
	s.Require().ErrorIs(s.keeper.Pause(s.ctx, quitting), types.ErrIllegalStatus)

	s.runTask(task, resultA, resultA, resultA)

	// Winners stay bound until they report the upload.
	s.Require().Equal(types.NodeStatusPendingPause, s.nodeStatus(pausing))
	s.Require().Equal(types.NodeStatusPendingQuit, s.nodeStatus(quitting))
	s.Require().Equal(types.NodeStatusBusy, s.nodeStatus(staying))

	for i := 0; i < 3; i++ {
		s.Require().NoError(s.upload(task, i))
	}
	s.Require().Equal(types.NodeStatusPaused, s.nodeStatus(pausing))
	s.Require().Equal(types.NodeStatusQuit, s.nodeStatus(quitting))
	s.Require().Equal(types.NodeStatusAvailable, s.nodeStatus(staying))

	s.Require().Equal(s.params.MinStake.AddRaw(300), s.balance(quitting))
	s.Require().Equal(math.NewInt(300), s.balance(pausing))
	s.Require().Equal([]string{staying.String()}, s.keeper.GetAvailableNodes(s.ctx))
}

func (s *KeeperTestSuite) TestIterateNodes() {
	addrs := s.joinNodes(3, gpuRTX4090, 24)

	var seen []string
	err := s.keeper.IterateNodes(s.ctx, func(node types.Node) (bool, error) {
		seen = append(seen, node.Address)
		return len(seen) == 2, nil
	})
	s.Require().NoError(err)
	s.Require().Len(seen, 2)
	for _, addr := range seen {
		s.Require().Contains([]string{addrs[0].String(), addrs[1].String(), addrs[2].String()}, addr)
	}
}

func (s *KeeperTestSuite) TestAvailableCounterFollowsIndex() {
	nodes := s.joinNodes(4, gpuRTX4090, 24)
	s.Require().Equal(uint64(4), s.keeper.AvailableCountForTesting(s.ctx))

	s.Require().NoError(s.keeper.Pause(s.ctx, nodes[0]))
	s.Require().NoError(s.keeper.Quit(s.ctx, nodes[1]))
	s.Require().Equal(uint64(2), s.keeper.AvailableCountForTesting(s.ctx))

	task := s.createTask(s.taskSpec(types.TaskTypeSD, 16, 900))
	s.Require().Equal(types.TaskStatusPending, task.Status)

	s.Require().NoError(s.keeper.Resume(s.ctx, nodes[0]))
	s.Require().Equal(types.TaskStatusStarted, s.getTask(task.ID).Status)
	s.Require().Zero(s.keeper.AvailableCountForTesting(s.ctx))
	s.requireInvariants()

	s.bank.Fund(nodes[1], s.coins(s.params.MinStake))
	s.Require().NoError(s.keeper.Join(s.ctx, nodes[1], gpuRTX4090, 24))
	s.Require().Equal(uint64(1), s.keeper.AvailableCountForTesting(s.ctx))
	s.Require().Len(s.keeper.GetAvailableNodes(s.ctx), 1)
	s.requireInvariants()
}
