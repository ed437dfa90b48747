package keeper_test

import (
	"context"
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/gpunet/gpunet/x/compute/types"
	"github.com/gpunet/gpunet/x/shared/abci"
)

type recordingHooks struct {
	resolved  []types.Task
	slashed   []string
	slashSum  sdkmath.Int
	kickedOut []string
	err       error
}

func newRecordingHooks() *recordingHooks {
	return &recordingHooks{slashSum: sdkmath.ZeroInt()}
}

func (h *recordingHooks) AfterTaskResolved(_ context.Context, task types.Task) error {
	h.resolved = append(h.resolved, task)
	return h.err
}

func (h *recordingHooks) AfterNodeSlashed(_ context.Context, node sdk.AccAddress, amount sdkmath.Int, reason string) error {
	h.slashed = append(h.slashed, node.String()+":"+reason)
	h.slashSum = h.slashSum.Add(amount)
	return h.err
}

func (h *recordingHooks) AfterNodeKickedOut(_ context.Context, node sdk.AccAddress) error {
	h.kickedOut = append(h.kickedOut, node.String())
	return h.err
}

func (s *KeeperTestSuite) TestHooksObserveResolution() {
	hooks := newRecordingHooks()
	s.keeper.SetHooks(hooks)

	task := s.startTask(900)
	s.runTask(task, resultA, resultA, resultB)

	s.Require().Len(hooks.resolved, 1)
	s.Require().Equal(task.ID, hooks.resolved[0].ID)
	s.Require().Equal(types.TaskStatusSuccess, hooks.resolved[0].Status)
	s.Require().Equal([]string{roundNode(task, 2).String() + ":minority_result"}, hooks.slashed)
	s.Require().Equal(s.params.MinStake, hooks.slashSum)
	s.Require().Empty(hooks.kickedOut)
}

func (s *KeeperTestSuite) TestHooksObserveAbortAndKickOut() {
	hooks := newRecordingHooks()
	s.keeper.SetHooks(types.NewMultiComputeHooks(hooks))
	s.setParams(func(p *types.Params) { p.KickoutThreshold = 1 })

	task := s.startTask(900)
	s.ctx = s.ctx.WithBlockTime(task.Deadline.Add(time.Minute))
	s.Require().NoError(s.keeper.CancelTask(s.ctx, s.creator, task.ID))

	s.Require().Len(hooks.resolved, 1)
	s.Require().Equal(types.TaskStatusAborted, hooks.resolved[0].Status)
	s.Require().Len(hooks.kickedOut, types.NumRounds)
}

func (s *KeeperTestSuite) TestHookErrorsDoNotFailOperations() {
	hooks := newRecordingHooks()
	hooks.err = errors.New("downstream unavailable")
	s.keeper.SetHooks(hooks)

	task := s.startTask(900)
	s.runTask(task, resultA, resultA, resultB)

	s.Require().Equal(types.TaskStatusSuccess, s.getTask(task.ID).Status)
	s.Require().Len(hooks.resolved, 1)

	// One resolution and one slash were observed.
	suppressed := s.events(abci.EventTypeSuppressedError)
	s.Require().Len(suppressed, 2)
	s.Require().Equal("after_node_slashed", attribute(suppressed[0], "operation"))
	s.Require().Equal("after_task_resolved", attribute(suppressed[1], "operation"))
}

func (s *KeeperTestSuite) TestSetHooksTwicePanics() {
	s.keeper.SetHooks(newRecordingHooks())
	s.Require().Panics(func() {
		s.keeper.SetHooks(newRecordingHooks())
	})
}
