package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/ragmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRecipient records received messages and optionally fails.
type fakeRecipient struct {
	id       string
	mu       sync.Mutex
	received []core.Message
	fail     error
}

func newFakeRecipient(id string) *fakeRecipient { return &fakeRecipient{id: id} }

func (f *fakeRecipient) ID() string { return f.id }

func (f *fakeRecipient) Receive(_ context.Context, msg core.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeRecipient) messages() []core.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Message, len(f.received))
	copy(out, f.received)
	return out
}

func register(t *testing.T, b *InMemory, rec *fakeRecipient) {
	t.Helper()
	require.NoError(t, b.Register(rec, core.Registration{AgentID: rec.id, Type: "test"}))
}

func TestInMemory_RegisterValidation(t *testing.T) {
	b := New()

	err := b.Register(newFakeRecipient("a"), core.Registration{AgentID: ""})
	assert.Error(t, err)

	err = b.Register(nil, core.Registration{AgentID: "remote-only"})
	assert.Error(t, err, "local registration without recipient must fail")

	err = b.Register(newFakeRecipient("a"), core.Registration{AgentID: "b"})
	assert.Error(t, err, "mismatched ids must fail")
}

func TestInMemory_DispatchDelivers(t *testing.T) {
	b := New()
	sender := newFakeRecipient("sender")
	receiver := newFakeRecipient("receiver")
	register(t, b, sender)
	register(t, b, receiver)

	msg := core.NewMessage("sender", "receiver", core.QueryRequestPayload{Query: "q", K: 3})
	require.NoError(t, b.Dispatch(context.Background(), msg))

	got := receiver.messages()
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)
	assert.Empty(t, sender.messages())

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.MessagesSent)
	assert.Equal(t, int64(1), stats.MessagesDelivered)
	assert.Equal(t, 2, stats.RegisteredAgents)
}

func TestInMemory_UnknownReceiverAnswersSender(t *testing.T) {
	b := New()
	sender := newFakeRecipient("sender")
	register(t, b, sender)

	msg := core.NewMessage("sender", "ghost", core.QueryRequestPayload{Query: "q"})
	msg.WorkflowID = "wf-1"

	err := b.Dispatch(context.Background(), msg)
	require.Error(t, err)
	var rerr *core.RoutingError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, core.ErrAgentNotFound)

	got := sender.messages()
	require.Len(t, got, 1, "sender must receive a synthesized ERROR, never a silent drop")
	assert.Equal(t, core.MessageTypeError, got[0].Type)
	assert.Equal(t, msg.TraceID, got[0].TraceID)
	assert.Equal(t, "wf-1", got[0].WorkflowID)
	assert.Contains(t, got[0].Err, "receiver not found")
}

func TestInMemory_NoHandlerAnswersSender(t *testing.T) {
	b := New()
	sender := newFakeRecipient("sender")
	receiver := newFakeRecipient("receiver")
	receiver.fail = fmt.Errorf("%s: %w", core.MessageTypeQueryRequest, core.ErrNoHandler)
	register(t, b, sender)
	register(t, b, receiver)

	msg := core.NewMessage("sender", "receiver", core.QueryRequestPayload{Query: "q"})
	err := b.Dispatch(context.Background(), msg)
	assert.ErrorIs(t, err, core.ErrNoHandler)

	got := sender.messages()
	require.Len(t, got, 1)
	assert.Equal(t, core.MessageTypeError, got[0].Type)
	assert.Equal(t, msg.TraceID, got[0].TraceID)
}

func TestInMemory_ErrorMessagesAreNotAnswered(t *testing.T) {
	b := New()
	sender := newFakeRecipient("sender")
	register(t, b, sender)

	msg := core.NewErrorMessage("sender", "ghost", "boom", "", "")
	err := b.Dispatch(context.Background(), msg)
	require.Error(t, err)
	assert.Empty(t, sender.messages(), "an undeliverable ERROR must not spawn another ERROR")
}

func TestInMemory_Broadcast(t *testing.T) {
	b := New()
	sender := newFakeRecipient("sender")
	r1 := newFakeRecipient("r1")
	r2 := newFakeRecipient("r2")
	register(t, b, sender)
	register(t, b, r1)
	register(t, b, r2)

	msg := core.NewMessage("sender", core.BroadcastReceiver, core.HealthCheckPayload{})
	require.NoError(t, b.Dispatch(context.Background(), msg))

	require.Len(t, r1.messages(), 1)
	require.Len(t, r2.messages(), 1)
	assert.Empty(t, sender.messages(), "broadcast must not loop back to sender")
	assert.Equal(t, msg.TraceID, r1.messages()[0].TraceID)
	assert.NotEqual(t, r1.messages()[0].ID, r2.messages()[0].ID, "each copy carries a fresh id")
}

func TestInMemory_Unregister(t *testing.T) {
	b := New()
	rec := newFakeRecipient("a")
	register(t, b, rec)

	require.NoError(t, b.Unregister("a"))
	assert.ErrorIs(t, b.Unregister("a"), core.ErrAgentNotFound)

	msg := core.NewMessage("x", "a", core.HealthCheckPayload{})
	assert.Error(t, b.Dispatch(context.Background(), msg))
}

func TestInMemory_ConcurrentDispatch(t *testing.T) {
	b := New()
	receivers := make([]*fakeRecipient, 4)
	for i := range receivers {
		receivers[i] = newFakeRecipient(fmt.Sprintf("agent-%d", i))
		register(t, b, receivers[i])
	}

	const perAgent = 50
	var wg sync.WaitGroup
	for i := range receivers {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < perAgent; j++ {
				msg := core.NewMessage("tester", fmt.Sprintf("agent-%d", idx), core.HealthCheckPayload{})
				assert.NoError(t, b.Dispatch(context.Background(), msg))
			}
		}(i)
	}
	wg.Wait()

	for _, rec := range receivers {
		assert.Len(t, rec.messages(), perAgent)
	}
	assert.Equal(t, int64(len(receivers)*perAgent), b.Stats().MessagesDelivered)
}

func TestInMemory_SendOrderPerReceiver(t *testing.T) {
	b := New()
	receiver := newFakeRecipient("receiver")
	register(t, b, receiver)

	var ids []string
	for i := 0; i < 20; i++ {
		msg := core.NewMessage("sender", "receiver", core.QueryRequestPayload{Query: fmt.Sprintf("q%d", i)})
		ids = append(ids, msg.ID)
		require.NoError(t, b.Dispatch(context.Background(), msg))
	}

	got := receiver.messages()
	require.Len(t, got, len(ids))
	for i, msg := range got {
		assert.Equal(t, ids[i], msg.ID, "messages from one sender must arrive in send order")
	}
}

// fakeTransport records remote sends.
type fakeTransport struct {
	mu   sync.Mutex
	sent []core.Message
	fail error
}

func (f *fakeTransport) Send(_ context.Context, _ string, msg core.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestInMemory_RemoteRegistration(t *testing.T) {
	transport := &fakeTransport{}
	b := New(WithTransport(transport))
	sender := newFakeRecipient("sender")
	register(t, b, sender)
	require.NoError(t, b.Register(nil, core.Registration{AgentID: "remote", Address: "http://worker:8080"}))

	msg := core.NewMessage("sender", "remote", core.QueryRequestPayload{Query: "q"})
	require.NoError(t, b.Dispatch(context.Background(), msg))
	assert.Len(t, transport.sent, 1)

	transport.fail = errors.New("connection refused")
	err := b.Dispatch(context.Background(), core.NewMessage("sender", "remote", core.QueryRequestPayload{Query: "q"}))
	require.Error(t, err)
	var rerr *core.RoutingError
	assert.ErrorAs(t, err, &rerr)
	require.NotEmpty(t, sender.messages(), "remote failure must be reported to the sender")
}
