package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(opts ...Option) *Engine {
	base := []Option{WithIDGenerator(func() string { return "session-1" })}

	return New(append(base, opts...)...)
}

type entry struct {
	Kind   models.EventKind
	NodeID string
	Text   string
}

func eventTrace(s *models.Session) []entry {
	out := make([]entry, 0, len(s.Events))
	for _, ev := range s.Events {
		out = append(out, entry{Kind: ev.Kind, NodeID: ev.NodeID, Text: ev.Text})
	}

	return out
}

// visited reports whether ev marks a node the session passed through: a
// node_entered event or the completion on an end node.
func visited(ev models.Event) bool {
	return ev.Kind == models.EventNodeEntered || (ev.Kind == models.EventFlowCompleted && ev.NodeType == models.NodeTypeEnd)
}

func enteredTypes(s *models.Session) []models.NodeType {
	var types []models.NodeType

	for _, ev := range s.Events {
		if visited(ev) {
			types = append(types, ev.NodeType)
		}
	}

	return types
}

func TestStart_LinearFlowCompletes(t *testing.T) {
	e := newTestEngine()

	s, err := e.Start(context.Background(), testutil.LinearFlow("Hi"))
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, s.Status)
	assert.Equal(t, []entry{
		{Kind: models.EventNodeEntered, NodeID: "start"},
		{Kind: models.EventNodeEntered, NodeID: "message", Text: "Hi"},
		{Kind: models.EventFlowCompleted, NodeID: "end"},
	}, eventTrace(s))

	last := s.Events[len(s.Events)-1]
	assert.Equal(t, models.NodeTypeEnd, last.NodeType)
	assert.Equal(t, "End", last.Label)

	for i, ev := range s.Events {
		assert.Equal(t, i+1, ev.Seq)
	}

	assert.Equal(t, "end", s.CurrentNodeID)
	assert.Nil(t, s.Awaiting)
	assert.Equal(t, 3, s.Steps)
}

func TestStart_NoEntryPoint(t *testing.T) {
	flow := testutil.CreateTestFlow([]*models.FlowNode{testutil.EndNode("end")})

	s, err := newTestEngine().Start(context.Background(), flow)

	assert.Nil(t, s)
	require.ErrorIs(t, err, ErrNoEntryPoint)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindNoEntryPoint, execErr.Kind)
}

func TestDTMF_RoutesPressedKey(t *testing.T) {
	e := newTestEngine()
	flow := testutil.MenuFlow(0)

	s, err := e.Start(context.Background(), flow)
	require.NoError(t, err)

	require.Equal(t, models.SessionStatusAwaitingInput, s.Status)
	require.NotNil(t, s.Awaiting)
	assert.Equal(t, "menu", s.Awaiting.NodeID)
	assert.Equal(t, []string{"1", "2"}, s.Awaiting.Keys)

	last := s.Events[len(s.Events)-1]
	assert.Equal(t, models.EventInputRequested, last.Kind)
	assert.Equal(t, "Press 1 for sales or 2 for support", last.Text)

	next, err := e.SubmitInput(context.Background(), flow, s, "2")
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, next.Status)
	assert.Equal(t, []entry{
		{Kind: models.EventInputReceived, NodeID: "menu", Text: "2"},
		{Kind: models.EventBranchTaken, NodeID: "menu"},
		{Kind: models.EventNodeEntered, NodeID: "branchB", Text: "Connecting you to support"},
		{Kind: models.EventFlowCompleted, NodeID: "end"},
	}, eventTrace(next)[len(s.Events):])

	assert.Equal(t, models.SessionStatusAwaitingInput, s.Status, "input session must not change")
	assert.Len(t, s.Events, 3)
}

func TestDTMF_UnmappedKeyWithoutRetriesFails(t *testing.T) {
	e := newTestEngine()
	flow := testutil.MenuFlow(0)

	s, err := e.Start(context.Background(), flow)
	require.NoError(t, err)

	s, err = e.SubmitInput(context.Background(), flow, s, "9")
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusFailed, s.Status)
	require.NotNil(t, s.Failure)
	assert.Equal(t, string(KindInputTimeout), s.Failure.Kind)
	assert.Equal(t, "menu", s.Failure.NodeID)
	assert.ErrorIs(t, SessionError(s), ErrInputTimeout)

	kinds := []models.EventKind{}
	for _, ev := range s.Events[3:] {
		kinds = append(kinds, ev.Kind)
	}

	assert.Equal(t, []models.EventKind{models.EventInputReceived, models.EventInputTimeout, models.EventFlowFailed}, kinds)
}

func TestDTMF_RetriesThenFallsBackToDefault(t *testing.T) {
	e := newTestEngine()
	flow := testutil.MenuFlow(1)
	menu, _ := flow.FindNode("menu")
	testutil.WithDefaultConnection("end")(menu)
	menu.Payload.(*models.DTMFPayload).Variable = "choice"

	s, err := e.Start(context.Background(), flow)
	require.NoError(t, err)

	s, err = e.SubmitInput(context.Background(), flow, s, "7")
	require.NoError(t, err)

	require.Equal(t, models.SessionStatusAwaitingInput, s.Status)
	assert.Equal(t, 1, s.Awaiting.Attempts)
	assert.Equal(t, models.EventInputRetry, s.Events[len(s.Events)-2].Kind)
	assert.Equal(t, models.EventInputRequested, s.Events[len(s.Events)-1].Kind)

	s, err = e.SubmitInput(context.Background(), flow, s, TimeoutInput)
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, s.Status)
	assert.Nil(t, s.Failure)
	assert.NotContains(t, s.Variables, "choice")

	var sawTimeout bool

	for _, ev := range s.Events {
		if ev.Kind == models.EventInputTimeout {
			sawTimeout = true
		}
	}

	assert.True(t, sawTimeout)
	assert.Equal(t, []models.NodeType{models.NodeTypeStart, models.NodeTypeDTMF, models.NodeTypeEnd}, enteredTypes(s))
}

func TestDTMF_CapturesKeyIntoVariable(t *testing.T) {
	e := newTestEngine()
	flow := testutil.MenuFlow(0)
	menu, _ := flow.FindNode("menu")
	menu.Payload.(*models.DTMFPayload).Variable = "choice"

	s, err := e.Start(context.Background(), flow)
	require.NoError(t, err)

	s, err = e.SubmitInput(context.Background(), flow, s, " 1 ")
	require.NoError(t, err)

	assert.Equal(t, "1", s.Variables["choice"])
	assert.Contains(t, enteredTypes(s), models.NodeTypeMessage)
}

func conditionFlow(x string, withDefault bool) *models.Flow {
	cond := testutil.CreateTestNode(
		testutil.WithID("cond"),
		testutil.WithPayload(&models.ConditionPayload{Branches: []models.ConditionBranch{
			{Expression: "x==1"},
			{Expression: "x==2"},
		}}),
		testutil.WithConnection("first", ""),
		testutil.WithConnection("second", ""),
	)

	if withDefault {
		testutil.WithDefaultConnection("fallback")(cond)
	}

	setX := testutil.CreateTestNode(
		testutil.WithID("setx"),
		testutil.WithPayload(&models.VariablePayload{Name: "x", Value: x}),
		testutil.WithConnection("cond", ""),
	)

	return testutil.CreateTestFlow([]*models.FlowNode{
		testutil.StartNode("start", "setx"),
		setX,
		cond,
		testutil.MessageNode("first", "First", "end"),
		testutil.MessageNode("second", "Second", "end"),
		testutil.MessageNode("fallback", "Fallback", "end"),
		testutil.EndNode("end"),
	})
}

func enteredIDs(s *models.Session) []string {
	var ids []string

	for _, ev := range s.Events {
		if visited(ev) {
			ids = append(ids, ev.NodeID)
		}
	}

	return ids
}

func TestCondition_FirstTrueBranchWins(t *testing.T) {
	s, err := newTestEngine().Start(context.Background(), conditionFlow("2", false))
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, s.Status)
	assert.Equal(t, []string{"start", "setx", "cond", "second", "end"}, enteredIDs(s))
	assert.Equal(t, 2.0, s.Variables["x"])
}

func TestCondition_NoMatch(t *testing.T) {
	t.Run("takes default connection", func(t *testing.T) {
		s, err := newTestEngine().Start(context.Background(), conditionFlow("5", true))
		require.NoError(t, err)

		assert.Equal(t, []string{"start", "setx", "cond", "fallback", "end"}, enteredIDs(s))
	})

	t.Run("completes without default", func(t *testing.T) {
		s, err := newTestEngine().Start(context.Background(), conditionFlow("5", false))
		require.NoError(t, err)

		assert.Equal(t, models.SessionStatusCompleted, s.Status)
		assert.Equal(t, "cond", s.CurrentNodeID)
		assert.Equal(t, []string{"start", "setx", "cond"}, enteredIDs(s))
	})
}

func TestCondition_BranchRoutesByLabel(t *testing.T) {
	cond := testutil.CreateTestNode(
		testutil.WithID("cond"),
		testutil.WithPayload(&models.ConditionPayload{Branches: []models.ConditionBranch{
			{Name: "vip", Expression: "vip"},
		}}),
		testutil.WithConnection("end", "default"),
		testutil.WithConnection("vip-line", "vip"),
	)
	setVIP := testutil.CreateTestNode(
		testutil.WithID("setvip"),
		testutil.WithPayload(&models.VariablePayload{Name: "vip", Value: "true"}),
		testutil.WithConnection("cond", ""),
	)
	flow := testutil.CreateTestFlow([]*models.FlowNode{
		testutil.StartNode("start", "setvip"), setVIP, cond,
		testutil.MessageNode("vip-line", "Priority line", "end"), testutil.EndNode("end"),
	})

	s, err := newTestEngine().Start(context.Background(), flow)
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "setvip", "cond", "vip-line", "end"}, enteredIDs(s))
}

func TestCondition_EvaluationErrorFailsSession(t *testing.T) {
	cond := testutil.CreateTestNode(
		testutil.WithID("cond"),
		testutil.WithPayload(&models.ConditionPayload{Branches: []models.ConditionBranch{{Expression: "x == "}}}),
		testutil.WithConnection("end", ""),
	)
	flow := testutil.CreateTestFlow([]*models.FlowNode{testutil.StartNode("start", "cond"), cond, testutil.EndNode("end")})

	s, err := newTestEngine().Start(context.Background(), flow)
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusFailed, s.Status)
	assert.Equal(t, string(KindEvaluationFailed), s.Failure.Kind)
}

func TestStart_UnknownNodeTypeFails(t *testing.T) {
	odd := testutil.CreateTestNode(testutil.WithID("odd"), testutil.WithType("hologram"), testutil.WithConnection("end", ""))
	flow := testutil.CreateTestFlow([]*models.FlowNode{testutil.StartNode("start", "odd"), odd, testutil.EndNode("end")})

	s, err := newTestEngine().Start(context.Background(), flow)
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusFailed, s.Status)
	assert.ErrorIs(t, SessionError(s), ErrUnknownNodeType)
	assert.Equal(t, models.EventFlowFailed, s.Events[len(s.Events)-1].Kind)
}

func TestStart_DanglingConnectionFails(t *testing.T) {
	flow := testutil.CreateTestFlow([]*models.FlowNode{testutil.StartNode("start", "ghost")})

	s, err := newTestEngine().Start(context.Background(), flow)
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusFailed, s.Status)
	assert.Equal(t, string(KindDanglingConnection), s.Failure.Kind)
	assert.Equal(t, "start", s.Failure.NodeID)
}

func TestStart_StepLimitGuardsCycles(t *testing.T) {
	loop := testutil.MessageNode("loop", "Again", "loop")
	flow := testutil.CreateTestFlow([]*models.FlowNode{testutil.StartNode("start", "loop"), loop})

	s, err := newTestEngine(WithMaxSteps(10)).Start(context.Background(), flow)
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusFailed, s.Status)
	assert.Equal(t, string(KindStepLimitExceeded), s.Failure.Kind)
	assert.Equal(t, 10, s.Steps)
}

func TestSubmitInput_NotAwaiting(t *testing.T) {
	e := newTestEngine()
	flow := testutil.LinearFlow("Hi")

	s, err := e.Start(context.Background(), flow)
	require.NoError(t, err)

	next, err := e.SubmitInput(context.Background(), flow, s, "1")

	assert.Nil(t, next)
	require.ErrorIs(t, err, ErrNotAwaitingInput)
	assert.True(t, KindNotAwaitingInput.Recoverable())
	assert.False(t, KindUnknownNodeType.Recoverable())
}

func TestStop_IsIdempotent(t *testing.T) {
	e := newTestEngine()
	flow := testutil.MenuFlow(0)

	s, err := e.Start(context.Background(), flow)
	require.NoError(t, err)

	stopped := e.Stop(s)
	assert.Equal(t, models.SessionStatusCompleted, stopped.Status)
	assert.Nil(t, stopped.Awaiting)
	assert.Equal(t, models.EventFlowStopped, stopped.Events[len(stopped.Events)-1].Kind)

	again := e.Stop(stopped)
	assert.Equal(t, stopped.Events, again.Events)

	assert.Equal(t, models.SessionStatusAwaitingInput, s.Status)

	_, err = e.SubmitInput(context.Background(), flow, stopped, "1")
	assert.ErrorIs(t, err, ErrNotAwaitingInput)
}

func TestDeterminism_SameInputsSameLog(t *testing.T) {
	flow := testutil.MenuFlow(2)
	inputs := []string{"5", "", "1"}

	run := func() []models.Event {
		e := New()

		s, err := e.Start(context.Background(), flow)
		require.NoError(t, err)

		for _, in := range inputs {
			s, err = e.SubmitInput(context.Background(), flow, s, in)
			require.NoError(t, err)
		}

		return s.Events
	}

	first := run()
	second := run()

	assert.Equal(t, first, second)
	assert.Equal(t, models.EventFlowCompleted, first[len(first)-1].Kind)
}

func TestAdvance_StepsOneNodeAtATime(t *testing.T) {
	e := newTestEngine()
	flow := testutil.LinearFlow("Hi")

	s, err := e.Prepare(context.Background(), flow)
	require.NoError(t, err)
	assert.Empty(t, s.Events)

	for _, want := range []string{"start", "message", "end"} {
		s, err = e.Advance(context.Background(), flow, s)
		require.NoError(t, err)

		assert.Equal(t, want, s.Events[len(s.Events)-1].NodeID)
	}

	assert.Equal(t, models.SessionStatusCompleted, s.Status)

	same, err := e.Advance(context.Background(), flow, s)
	require.NoError(t, err)
	assert.Same(t, s, same)
}

func TestReset_StartsOver(t *testing.T) {
	e := newTestEngine()
	flow := testutil.MenuFlow(0)

	s, err := e.Reset(context.Background(), flow)
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusAwaitingInput, s.Status)
	assert.Equal(t, "session-1", s.ID)
	assert.Equal(t, flow.CurrentVersion, s.FlowVersion)
}

func assistantFlow(maxTurns int) *models.Flow {
	bot := testutil.CreateTestNode(
		testutil.WithID("bot"),
		testutil.WithPayload(&models.AssistantPayload{AssistantID: "billing-bot", MaxTurns: maxTurns}),
		testutil.WithConnection("end", ""),
	)

	return testutil.CreateTestFlow([]*models.FlowNode{testutil.StartNode("start", "bot"), bot, testutil.EndNode("end")})
}

func TestAssistant_TurnsUntilMax(t *testing.T) {
	e := newTestEngine()
	flow := assistantFlow(2)

	s, err := e.Start(context.Background(), flow)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusAwaitingInput, s.Status)
	assert.Equal(t, "Hello, how can I help you today?", s.Events[len(s.Events)-2].Text)

	s, err = e.SubmitInput(context.Background(), flow, s, "What is my balance?")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusAwaitingInput, s.Status)
	assert.Equal(t, 1, s.Awaiting.Turns)

	s, err = e.SubmitInput(context.Background(), flow, s, "Thanks")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, s.Status)

	replies := 0

	for _, ev := range s.Events {
		if ev.Kind == models.EventAssistantReply {
			replies++
		}
	}

	assert.Equal(t, 3, replies)
}

func TestAssistant_DoneEndsEarly(t *testing.T) {
	e := newTestEngine()
	flow := assistantFlow(5)

	s, err := e.Start(context.Background(), flow)
	require.NoError(t, err)

	s, err = e.SubmitInput(context.Background(), flow, s, DoneInput)
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, s.Status)
	assert.Equal(t, []string{"start", "bot", "end"}, enteredIDs(s))
}

type failingCaller struct{}

func (failingCaller) Call(context.Context, APIRequest) (*APIResponse, error) {
	return nil, errors.New("connection refused")
}

func apiFlow(errorRoute bool) *models.Flow {
	api := testutil.CreateTestNode(
		testutil.WithID("lookup"),
		testutil.WithPayload(&models.APIPayload{
			Method:           "post",
			URL:              "https://crm.local/customers/{{ caller_id }}",
			Body:             `{"caller":"{{ caller_id }}"}`,
			ResponseVariable: "caller",
			ResponsePath:     "request.caller",
		}),
		testutil.WithConnection("greet", ""),
	)

	if errorRoute {
		testutil.WithConnection("sorry", "error")(api)
	}

	setID := testutil.CreateTestNode(
		testutil.WithID("setid"),
		testutil.WithPayload(&models.VariablePayload{Name: "caller_id", Value: "c-42"}),
		testutil.WithConnection("lookup", ""),
	)

	return testutil.CreateTestFlow([]*models.FlowNode{
		testutil.StartNode("start", "setid"),
		setID,
		api,
		testutil.MessageNode("greet", "Welcome back {{ caller }}", "end"),
		testutil.MessageNode("sorry", "We cannot look you up right now", "end"),
		testutil.EndNode("end"),
	})
}

func TestAPI_SimulatedCallBindsResponse(t *testing.T) {
	s, err := newTestEngine().Start(context.Background(), apiFlow(false))
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, s.Status)
	assert.Equal(t, "c-42", s.Variables["caller"])

	var call models.Event

	for _, ev := range s.Events {
		if ev.Kind == models.EventAPICall {
			call = ev
		}

		if ev.NodeID == "greet" && ev.Kind == models.EventNodeEntered {
			assert.Equal(t, "Welcome back c-42", ev.Text)
		}
	}

	assert.Equal(t, "POST", call.Data["method"])
	assert.Equal(t, "https://crm.local/customers/c-42", call.Data["url"])
	assert.Equal(t, 200, call.Data["status_code"])
}

func TestAPI_CallFailure(t *testing.T) {
	t.Run("routes through error connection", func(t *testing.T) {
		s, err := newTestEngine(WithAPICaller(failingCaller{})).Start(context.Background(), apiFlow(true))
		require.NoError(t, err)

		assert.Equal(t, models.SessionStatusCompleted, s.Status)
		assert.Contains(t, enteredIDs(s), "sorry")
		assert.NotContains(t, enteredIDs(s), "greet")
	})

	t.Run("fails without error connection", func(t *testing.T) {
		s, err := newTestEngine(WithAPICaller(failingCaller{})).Start(context.Background(), apiFlow(false))
		require.NoError(t, err)

		assert.Equal(t, models.SessionStatusFailed, s.Status)
		assert.Equal(t, string(KindAPICallFailed), s.Failure.Kind)
	})
}

func TestTransferAndWaitEmitEvents(t *testing.T) {
	transfer := testutil.CreateTestNode(
		testutil.WithID("transfer"),
		testutil.WithPayload(&models.TransferPayload{Destination: "billing-queue", Type: "queue"}),
		testutil.WithConnection("wait", ""),
	)
	wait := testutil.CreateTestNode(
		testutil.WithID("wait"),
		testutil.WithPayload(&models.WaitPayload{Seconds: 30}),
		testutil.WithConnection("end", ""),
	)
	flow := testutil.CreateTestFlow([]*models.FlowNode{
		testutil.StartNode("start", "transfer"), transfer, wait, testutil.EndNode("end"),
	})

	s, err := newTestEngine().Start(context.Background(), flow)
	require.NoError(t, err)

	kinds := []models.EventKind{}
	for _, ev := range s.Events {
		kinds = append(kinds, ev.Kind)
	}

	assert.Equal(t, []models.EventKind{
		models.EventNodeEntered,
		models.EventNodeEntered, models.EventTransfer,
		models.EventNodeEntered, models.EventWait,
		models.EventFlowCompleted,
	}, kinds)
	assert.Equal(t, "billing-queue", s.Events[2].Data["destination"])
	assert.Equal(t, 30, s.Events[4].Data["seconds"])
}

func TestVariable_BracketedLiteralIsKeptAsText(t *testing.T) {
	tag := testutil.CreateTestNode(
		testutil.WithID("tag"),
		testutil.WithPayload(&models.VariablePayload{Name: "priority", Value: "[urgent]"}),
		testutil.WithConnection("end", ""),
	)
	flow := testutil.CreateTestFlow([]*models.FlowNode{testutil.StartNode("start", "tag"), tag, testutil.EndNode("end")})

	s, err := newTestEngine().Start(context.Background(), flow)
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, s.Status)
	assert.Nil(t, s.Failure)
	assert.Equal(t, "[urgent]", s.Variables["priority"])
	assert.Equal(t, []string{"start", "tag", "end"}, enteredIDs(s))
}

func TestDTMF_AnyKeyConnectionTakesUnlistedKeys(t *testing.T) {
	e := newTestEngine()
	flow := testutil.MenuFlow(2)
	menu, _ := flow.FindNode("menu")
	testutil.WithConnection("end", "Any key")(menu)
	menu.Payload.(*models.DTMFPayload).Variable = "choice"

	s, err := e.Start(context.Background(), flow)
	require.NoError(t, err)

	pressed, err := e.SubmitInput(context.Background(), flow, s, "9")
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, pressed.Status)
	assert.Equal(t, "9", pressed.Variables["choice"])
	assert.Equal(t, []entry{
		{Kind: models.EventInputReceived, NodeID: "menu", Text: "9"},
		{Kind: models.EventBranchTaken, NodeID: "menu"},
		{Kind: models.EventFlowCompleted, NodeID: "end"},
	}, eventTrace(pressed)[len(s.Events):])
	assert.Equal(t, models.AnyKeyLabel, pressed.Events[len(s.Events)+1].Label)

	t.Run("listed keys keep their routes", func(t *testing.T) {
		listed, err := e.SubmitInput(context.Background(), flow, s, "1")
		require.NoError(t, err)

		assert.Contains(t, enteredIDs(listed), "branchA")
	})

	t.Run("timeout is not a keypress", func(t *testing.T) {
		timedOut, err := e.SubmitInput(context.Background(), flow, s, TimeoutInput)
		require.NoError(t, err)

		require.Equal(t, models.SessionStatusAwaitingInput, timedOut.Status)
		assert.Equal(t, models.EventInputRetry, timedOut.Events[len(timedOut.Events)-2].Kind)
	})
}
