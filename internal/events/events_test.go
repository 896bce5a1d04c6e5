package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/specforge/internal/metrics"
	"github.com/p-blackswan/specforge/internal/models"
)

func sampleEvent() models.ChangeApproved {
	return models.ChangeApproved{
		Type:       models.EventChangeApproved,
		ChangeID:   "change-1",
		TaskID:     "task-1",
		ProjectID:  "project-1",
		FilePath:   "src/Login.jsx",
		Kind:       models.ChangeCreate,
		Capability: models.CapabilityDesign,
		Diff:       "+hello\n",
		ApprovedBy: "user-1",
		ApprovedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestBus_SubscribeAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	var order []string
	unsubA := bus.Subscribe(func(ev models.ChangeApproved) { order = append(order, "a:"+ev.ChangeID) })
	bus.Subscribe(func(ev models.ChangeApproved) { order = append(order, "b:"+ev.ChangeID) })

	require.NoError(t, bus.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, []string{"a:change-1", "b:change-1"}, order)

	unsubA()
	order = nil
	require.NoError(t, bus.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, []string{"b:change-1"}, order)
}

func TestCountApprovals(t *testing.T) {
	bus := NewBus()
	m := metrics.New()
	unsubscribe := CountApprovals(bus, m)

	d := NewDispatcher(time.Second, m, zerolog.Nop(), bus)
	d.Dispatch(context.Background(), sampleEvent())
	d.Wait()
	unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), sampleEvent()))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `specforge_approved_changes_total{capability="design",change_type="create"} 1`)
}

type failingPublisher struct{}

func (failingPublisher) Name() string { return "failing" }
func (failingPublisher) Publish(context.Context, models.ChangeApproved) error {
	return errors.New("nope")
}

func TestDispatcher_FanOutSurvivesFailures(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var got []models.ChangeApproved
	bus.Subscribe(func(ev models.ChangeApproved) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	d := NewDispatcher(time.Second, nil, zerolog.Nop(), failingPublisher{}, bus, NewLogPublisher(zerolog.Nop()))
	assert.Equal(t, []string{"failing", "bus", "log"}, d.Publishers())

	ev := sampleEvent()
	ev.Type = ""
	d.Dispatch(context.Background(), ev)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, models.EventChangeApproved, got[0].Type)
}

func TestDispatcher_OutlivesCallerContext(t *testing.T) {
	bus := NewBus()
	var delivered atomic.Bool
	bus.Subscribe(func(models.ChangeApproved) { delivered.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(time.Second, nil, zerolog.Nop(), bus)
	d.Dispatch(ctx, sampleEvent())
	cancel()
	d.Wait()
	assert.True(t, delivered.Load())
}

func TestWebhookPublisher_Delivers(t *testing.T) {
	var got models.ChangeApproved
	var ua, ct string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		ct = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, time.Second, 0, zerolog.Nop())
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	assert.Equal(t, webhookUserAgent, ua)
	assert.Equal(t, "application/json", ct)
	assert.Equal(t, sampleEvent(), got)
}

func TestWebhookPublisher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, time.Second, 2, zerolog.Nop())
	p.retry.BaseDelay = time.Millisecond
	p.retry.Jitter = false

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookPublisher_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, time.Second, 3, zerolog.Nop())
	p.retry.BaseDelay = time.Millisecond

	err := p.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
	assert.Equal(t, int32(1), calls.Load())
}

type mockSlackAPI struct {
	channel string
	options []slack.MsgOption
	err     error
}

func (m *mockSlackAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	m.channel = channelID
	m.options = options
	return channelID, "1234567890.123456", m.err
}

func TestSlackPublisher_Posts(t *testing.T) {
	api := &mockSlackAPI{}
	p := NewSlackPublisherWithAPI(api, "C123", zerolog.Nop())

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "C123", api.channel)
	assert.Len(t, api.options, 2)
}

func TestSlackPublisher_Error(t *testing.T) {
	api := &mockSlackAPI{err: errors.New("channel_not_found")}
	p := NewSlackPublisherWithAPI(api, "C404", zerolog.Nop())

	err := p.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "C404")
}

func TestApprovedBlocks(t *testing.T) {
	blocks := approvedBlocks(sampleEvent())
	require.Len(t, blocks, 3)
	section, ok := blocks[0].(*slack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, "src/Login.jsx")
	assert.Contains(t, section.Text.Text, "user-1")
	assert.Equal(t, "Change approved: create src/Login.jsx", approvedSummary(sampleEvent()))
}
