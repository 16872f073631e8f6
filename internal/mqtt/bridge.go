package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/jkaflik/neo2mqtt/internal/bus"
	"github.com/jkaflik/neo2mqtt/internal/shade"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	mqttOpenCmd     = "open"
	mqttCloseCmd    = "close"
	mqttFavoriteCmd = "favorite"
	mqttStopCmd     = "stop"
)

const topicPrefix = "neo2mqtt"

const commandBacklog = 16

type Bridge struct {
	bus   *bus.Bus
	shade shade.Shade

	StateTopic    string
	PositionTopic string
	TargetTopic   string
	MetadataTopic string

	CommandTopic        string
	PositionChangeTopic string

	l    sync.Mutex
	subs []*bus.Subscription

	pl      sync.Mutex
	latest  shade.State
	changed chan struct{}

	commands chan func()
}

// NewBridge publishes every state change of s until ctx is done. Publishing
// happens on its own goroutine and only the latest state is sent, so a slow
// broker never holds back the shade.
func NewBridge(ctx context.Context, b *bus.Bus, s shade.Shade) *Bridge {
	bridge := &Bridge{
		bus:      b,
		shade:    s,
		changed:  make(chan struct{}, 1),
		commands: make(chan func(), commandBacklog),
	}
	bridge.StateTopic = fmt.Sprintf("%s/%s/state", topicPrefix, s.Code())
	bridge.PositionTopic = fmt.Sprintf("%s/%s/position", topicPrefix, s.Code())
	bridge.TargetTopic = fmt.Sprintf("%s/%s/target", topicPrefix, s.Code())
	bridge.MetadataTopic = fmt.Sprintf("%s/%s/metadata", topicPrefix, s.Code())
	bridge.CommandTopic = fmt.Sprintf("%s/%s/set", topicPrefix, s.Code())
	bridge.PositionChangeTopic = fmt.Sprintf("%s/%s/position/set", topicPrefix, s.Code())

	update := bridge.onShadeUpdateHandler()
	update(s.State())
	s.OnUpdate(update)

	go bridge.publishLoop(ctx)
	go bridge.commandLoop(ctx)

	return bridge
}

func (b *Bridge) SetMetadata(value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if err := b.bus.PublishRetained(b.MetadataTopic, payload); err != nil {
		return errors.Wrapf(err, "%s: MQTT metadata publish failed", b.shade.Name())
	}

	return nil
}

// Subscribe starts accepting commands. Handlers are removed once ctx is done.
func (b *Bridge) Subscribe(ctx context.Context) error {
	command, err := b.bus.Subscribe(b.CommandTopic, b.onCommandHandler(ctx))
	if err != nil {
		return errors.Wrapf(err, "%s: MQTT command topic subscription failed", b.shade.Name())
	}
	b.retain(command)
	logrus.Infof("%s: MQTT command topic subscribed", b.shade.Name())

	position, err := b.bus.Subscribe(b.PositionChangeTopic, b.onPositionChangeHandler(ctx))
	if err != nil {
		return errors.Wrapf(err, "%s: MQTT position change topic subscription failed", b.shade.Name())
	}
	b.retain(position)
	logrus.Infof("%s: MQTT position change topic subscribed", b.shade.Name())

	go func() {
		<-ctx.Done()
		if err := b.Unsubscribe(); err != nil {
			logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.shade.Name(), err)
		}
	}()

	return nil
}

func (b *Bridge) Unsubscribe() (err error) {
	b.l.Lock()
	subs := b.subs
	b.subs = nil
	b.l.Unlock()

	for _, sub := range subs {
		err = multierr.Append(err, sub.Unsubscribe())
	}

	return err
}

func (b *Bridge) retain(sub *bus.Subscription) {
	b.l.Lock()
	b.subs = append(b.subs, sub)
	b.l.Unlock()
}

func (b *Bridge) onShadeUpdateHandler() shade.UpdateHandler {
	return func(state shade.State) {
		b.pl.Lock()
		b.latest = state
		b.pl.Unlock()

		select {
		case b.changed <- struct{}{}:
		default:
		}
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.changed:
		}

		b.pl.Lock()
		state := b.latest
		b.pl.Unlock()

		b.publishState(state)
	}
}

func (b *Bridge) publishState(state shade.State) {
	if err := b.bus.PublishRetained(b.StateTopic, []byte(state.Name())); err != nil {
		logrus.Errorf("%s: MQTT state publish failed: %s", b.shade.Name(), err)
	}
	if err := b.bus.PublishRetained(b.PositionTopic, []byte(formatPosition(state.CurrentPosition))); err != nil {
		logrus.Errorf("%s: MQTT position publish failed: %s", b.shade.Name(), err)
	}
	if err := b.bus.PublishRetained(b.TargetTopic, []byte(formatPosition(state.TargetPosition))); err != nil {
		logrus.Errorf("%s: MQTT target publish failed: %s", b.shade.Name(), err)
	}
}

// commandLoop runs shade commands one by one, in arrival order, away from
// the MQTT client's dispatch goroutine.
func (b *Bridge) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-b.commands:
			cmd()
		}
	}
}

func (b *Bridge) dispatch(name string, cmd func() error) {
	run := func() {
		if err := cmd(); err != nil {
			logrus.Error(err)
		}
	}

	select {
	case b.commands <- run:
	default:
		logrus.Errorf("%s: MQTT %s dropped, %d commands pending", b.shade.Name(), name, commandBacklog)
	}
}

func (b *Bridge) onCommandHandler(ctx context.Context) bus.Handler {
	return func(_ string, payload []byte) {
		cmd := string(payload)
		switch cmd {
		case mqttOpenCmd:
			b.dispatch(cmd, func() error { return b.shade.Open(ctx) })
		case mqttCloseCmd:
			b.dispatch(cmd, func() error { return b.shade.Close(ctx) })
		case mqttFavoriteCmd:
			b.dispatch(cmd, func() error { return b.shade.Favorite(ctx) })
		case mqttStopCmd:
			b.dispatch(cmd, func() error { return b.shade.Stop(ctx) })
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.shade.Name(), cmd)
		}
	}
}

func (b *Bridge) onPositionChangeHandler(ctx context.Context) bus.Handler {
	return func(_ string, payload []byte) {
		pos, err := strconv.Atoi(string(payload))
		if err != nil {
			logrus.Errorf("%s: MQTT invalid position %q received", b.shade.Name(), payload)
			return
		}

		b.dispatch("position "+strconv.Itoa(pos), func() error { return b.shade.SetTargetPosition(ctx, pos) })
	}
}

// formatPosition rounds to a whole percent, covers take integer positions only.
func formatPosition(position float64) string {
	return strconv.Itoa(int(math.Round(position)))
}
