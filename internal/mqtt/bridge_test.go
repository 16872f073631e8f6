package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jkaflik/neo2mqtt/internal/bus"
	"github.com/jkaflik/neo2mqtt/internal/bus/bustest"
	"github.com/jkaflik/neo2mqtt/internal/shade"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShade struct {
	l       sync.Mutex
	calls   []string
	targets []int
	handler shade.UpdateHandler
	state   shade.State
}

func (f *fakeShade) call(name string) error {
	f.l.Lock()
	defer f.l.Unlock()

	f.calls = append(f.calls, name)
	if name == "stop" {
		return errors.New("stop is not supported")
	}

	return nil
}

func (f *fakeShade) Name() string { return "living room" }
func (f *fakeShade) Code() string { return "021.230" }
func (f *fakeShade) State() shade.State { return f.state }
func (f *fakeShade) OnUpdate(h shade.UpdateHandler) { f.handler = h }
func (f *fakeShade) Open(context.Context) error { return f.call("open") }
func (f *fakeShade) Close(context.Context) error { return f.call("close") }
func (f *fakeShade) Favorite(context.Context) error { return f.call("favorite") }
func (f *fakeShade) Stop(context.Context) error { return f.call("stop") }

func (f *fakeShade) SetTargetPosition(_ context.Context, position int) error {
	f.l.Lock()
	defer f.l.Unlock()

	f.targets = append(f.targets, position)
	return nil
}

func (f *fakeShade) Calls() []string {
	f.l.Lock()
	defer f.l.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeShade) Targets() []int {
	f.l.Lock()
	defer f.l.Unlock()

	return append([]int(nil), f.targets...)
}

func published(client *bustest.Client, topic string) func() string {
	return func() string {
		payload, _ := client.Last(topic)
		return payload
	}
}

func TestNewBridgePublishesInitialState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := bustest.NewClient()
	s := &fakeShade{state: shade.State{CurrentPosition: 50, TargetPosition: 50}}

	bridge := NewBridge(ctx, bus.New(client), s)

	assert.Equal(t, "neo2mqtt/021.230/state", bridge.StateTopic)
	assert.Equal(t, "neo2mqtt/021.230/position/set", bridge.PositionChangeTopic)

	assert.Eventually(t, func() bool { return len(client.Published()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, shade.ShadeOpenState, published(client, bridge.StateTopic)())
	assert.Equal(t, "50", published(client, bridge.PositionTopic)())
	assert.Equal(t, "50", published(client, bridge.TargetTopic)())
	assert.True(t, client.Published()[0].Retained())

	t.Run("positions are published as whole percents", func(t *testing.T) {
		s.handler(shade.State{CurrentPosition: 62.5, TargetPosition: 0, Direction: shade.Decreasing})

		assert.Eventually(t, func() bool { return published(client, bridge.PositionTopic)() == "63" }, time.Second, time.Millisecond)
		assert.Equal(t, shade.ShadeClosingState, published(client, bridge.StateTopic)())
		assert.Equal(t, "0", published(client, bridge.TargetTopic)())

		s.handler(shade.State{CurrentPosition: 100.0 / 3, TargetPosition: 25, Direction: shade.Decreasing})
		assert.Eventually(t, func() bool { return published(client, bridge.PositionTopic)() == "33" }, time.Second, time.Millisecond)
		assert.Equal(t, "25", published(client, bridge.TargetTopic)())
	})
}

func TestBridgePublishesLatestState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := bustest.NewClient()
	s := &fakeShade{state: shade.State{CurrentPosition: 50, TargetPosition: 50}}
	bridge := NewBridge(ctx, bus.New(client), s)

	for _, position := range []float64{50, 62.5, 75, 87.5, 100} {
		s.handler(shade.State{CurrentPosition: position, TargetPosition: 100, Direction: shade.Increasing})
	}
	s.handler(shade.State{CurrentPosition: 100, TargetPosition: 100, Direction: shade.Stopped})

	assert.Eventually(t, func() bool {
		return published(client, bridge.StateTopic)() == shade.ShadeOpenState && published(client, bridge.PositionTopic)() == "100"
	}, time.Second, time.Millisecond)

	// nothing older is published after the latest state
	time.Sleep(time.Millisecond * 20)
	assert.Equal(t, "100", published(client, bridge.PositionTopic)())
	assert.Equal(t, shade.ShadeOpenState, published(client, bridge.StateTopic)())
}

func TestBridgeSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := bustest.NewClient()
	s := &fakeShade{}
	bridge := NewBridge(ctx, bus.New(client), s)
	require.NoError(t, bridge.Subscribe(ctx))

	t.Run("commands run in arrival order", func(t *testing.T) {
		for _, cmd := range []string{"open", "close", "favorite", "stop", "dance"} {
			assert.True(t, client.Deliver(bridge.CommandTopic, []byte(cmd)))
		}
		assert.Eventually(t, func() bool { return len(s.Calls()) == 4 }, time.Second, time.Millisecond)
		assert.Equal(t, []string{"open", "close", "favorite", "stop"}, s.Calls())
	})

	t.Run("position changes", func(t *testing.T) {
		client.Deliver(bridge.PositionChangeTopic, []byte("100"))
		client.Deliver(bridge.PositionChangeTopic, []byte("half"))
		client.Deliver(bridge.PositionChangeTopic, []byte("25"))
		assert.Eventually(t, func() bool { return len(s.Targets()) == 2 }, time.Second, time.Millisecond)
		assert.Equal(t, []int{100, 25}, s.Targets())
	})

	t.Run("unsubscribe", func(t *testing.T) {
		require.NoError(t, bridge.Unsubscribe())
		assert.ElementsMatch(t, []string{bridge.CommandTopic, bridge.PositionChangeTopic}, client.Unsubscribes())
		assert.False(t, client.Deliver(bridge.CommandTopic, []byte("open")))
	})
}

func TestBridgeSetMetadata(t *testing.T) {
	client := bustest.NewClient()
	bridge := NewBridge(context.Background(), bus.New(client), &fakeShade{})

	require.NoError(t, bridge.SetMetadata(map[string]string{"room": "living"}))
	metadata, ok := client.Last(bridge.MetadataTopic)
	assert.True(t, ok)
	assert.JSONEq(t, `{"room":"living"}`, metadata)
}

func TestPublishHAAutoDiscovery(t *testing.T) {
	client := bustest.NewClient()
	b := bus.New(client)
	bridge := NewBridge(context.Background(), b, &fakeShade{})

	cover := NewHACoverFromMQTTBridge(bridge)
	require.NoError(t, PublishHAAutoDiscovery(b, "homeassistant", cover))

	payload, ok := client.Last("homeassistant/cover/neo2mqtt/021.230/config")
	require.True(t, ok)

	var discovered map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(payload), &discovered))
	assert.Equal(t, ShadeUUID("021.230").String(), discovered["uniq_id"])
	assert.Equal(t, bridge.CommandTopic, discovered["cmd_t"])
	assert.Equal(t, bridge.PositionChangeTopic, discovered["set_pos_t"])
	assert.NotContains(t, discovered, "pl_stop")

	t.Run("unique id is stable per code", func(t *testing.T) {
		assert.Equal(t, ShadeUUID("021.230"), ShadeUUID("021.230"))
		assert.NotEqual(t, ShadeUUID("021.230"), ShadeUUID("021.231"))
	})
}
