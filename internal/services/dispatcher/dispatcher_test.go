package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/alert"
	"github.com/NordCoder/Sentinel/internal/domain/outbox"
	intoutbox "github.com/NordCoder/Sentinel/internal/outbox"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSender struct {
	mu    sync.Mutex
	err   error
	calls int
	to    []string
}

func (s *stubSender) Channel() string { return "stub" }
func (s *stubSender) Send(_ context.Context, to, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.to = append(s.to, to)
	return s.err
}

func payload() alert.Payload {
	return alert.Payload{
		EndpointID: uuid.New(),
		URL:        "http://example.com",
		Reason:     alert.ReasonDown,
		Recipient:  "ops@example.com",
		Subject:    "Monitor DOWN: http://example.com",
		Message:    "Monitor DOWN: http://example.com (Error: timeout after 1m0s)",
		At:         time.Now().UTC(),
	}
}

func TestDispatch_EnqueuesWithoutDedup(t *testing.T) {
	ob := memory.NewOutboxRepo()
	d := New(ob)
	p := payload()

	require.NoError(t, d.Dispatch(context.Background(), p))
	require.NoError(t, d.Dispatch(context.Background(), p))

	msgs := ob.Messages()
	require.Len(t, msgs, 2)
	assert.NotEqual(t, msgs[0].IdempotencyKey, msgs[1].IdempotencyKey)
	assert.Equal(t, outbox.KindAlertRaised, msgs[0].Kind)

	var got alert.Payload
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, p.Message, got.Message)
}

func TestDispatch_EnqueueError(t *testing.T) {
	ob := memory.NewOutboxRepo()
	ob.Err = errors.New("db down")
	assert.Error(t, New(ob).Dispatch(context.Background(), payload()))
}

func TestDelivery_RecordFailureDoesNotBlockSend(t *testing.T) {
	alerts := memory.NewAlertRepo()
	alerts.Err = errors.New("alerts table locked")
	s := &stubSender{}
	d := NewDelivery(zap.NewNop(), alerts, s, nil)

	data, _ := json.Marshal(payload())
	require.NoError(t, d.Handle(context.Background(), data))
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, []string{"ops@example.com"}, s.to)
}

func TestDelivery_RecordsEvenWhenSendFails(t *testing.T) {
	alerts := memory.NewAlertRepo()
	s := &stubSender{err: errors.New("smtp down")}
	d := NewDelivery(zap.NewNop(), alerts, s, nil)

	p := payload()
	data, _ := json.Marshal(p)
	require.Error(t, d.Handle(context.Background(), data))

	recs, err := alerts.ListByEndpoint(context.Background(), p.EndpointID, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "stub", recs[0].Channel)
	assert.Equal(t, p.Message, recs[0].Message)
}

func TestDelivery_MalformedPayloadIsPermanent(t *testing.T) {
	d := NewDelivery(zap.NewNop(), memory.NewAlertRepo(), &stubSender{}, nil)
	err := d.Handle(context.Background(), []byte("{"))
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestDelivery_RetriesStopAtMaxAttempts(t *testing.T) {
	ob := memory.NewOutboxRepo()
	alerts := memory.NewAlertRepo()
	s := &stubSender{err: errors.New("smtp down")}
	delivery := NewDelivery(zap.NewNop(), alerts, s, nil)

	pol := retry.LoggedPolicy("alert_delivery", retry.PolicyConfig{
		Attempts: 4, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond,
	}, zap.NewNop())
	runner := intoutbox.NewOutboxRunner(zap.NewNop(), ob, delivery.Handlers(pol),
		intoutbox.RunnerConfig{BatchSize: 10, InProgressTTL: time.Hour})

	p := payload()
	require.NoError(t, New(ob).Dispatch(context.Background(), p))

	assert.Equal(t, 1, runner.Tick(context.Background()))
	assert.Equal(t, 4, s.calls)
	assert.Equal(t, outbox.StatusFailed, ob.Messages()[0].Status)

	// nothing left to deliver afterwards
	assert.Equal(t, 0, runner.Tick(context.Background()))
	assert.Equal(t, 4, s.calls)

	recs, err := alerts.ListByEndpoint(context.Background(), p.EndpointID, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 4, "one alert record per attempt")
}

func TestDelivery_SuccessMarksMessage(t *testing.T) {
	ob := memory.NewOutboxRepo()
	s := &stubSender{}
	delivery := NewDelivery(zap.NewNop(), memory.NewAlertRepo(), s, nil)
	runner := intoutbox.NewOutboxRunner(zap.NewNop(), ob,
		delivery.Handlers(retry.Policy{Attempts: 3}), intoutbox.RunnerConfig{BatchSize: 10})

	require.NoError(t, New(ob).Dispatch(context.Background(), payload()))
	runner.Tick(context.Background())

	assert.Equal(t, 1, s.calls)
	assert.Equal(t, outbox.StatusSuccess, ob.Messages()[0].Status)
}
