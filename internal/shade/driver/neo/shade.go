package neo

import (
	"context"
	"sync"
	"time"

	"github.com/jkaflik/neo2mqtt/internal/bus"
	"github.com/jkaflik/neo2mqtt/internal/shade"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const DefaultSettleDelay = 25 * time.Second

type SensorMode string

const (
	SensorNone SensorMode = "none"
	SensorMQTT SensorMode = "mqtt"
)

type Config struct {
	Code      string
	Name      string
	MotorType string

	SensorMode   SensorMode
	SensorTopics []string

	CommandDelay time.Duration
	SettleDelay  time.Duration
}

type Bus interface {
	Subscribe(topic string, h bus.Handler) (*bus.Subscription, error)
	Publish(topic string, payload []byte) error
}

// Shade drives a single NEO shade. Commands go through its own queue, the
// position comes from the reconciler.
type Shade struct {
	cfg    Config
	topics SensorTopics

	reconciler *shade.Reconciler
	queue      *Queue
	bus        Bus

	ctx    context.Context
	cancel context.CancelFunc

	l    sync.Mutex
	subs []*bus.Subscription
}

func NewShade(ctx context.Context, cfg Config, t Transmitter, b Bus) (*Shade, error) {
	if cfg.Code == "" {
		return nil, errors.New("shade code is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Code
	}
	if cfg.MotorType == "" {
		cfg.MotorType = DefaultMotorType
	}
	if cfg.SensorMode == "" {
		cfg.SensorMode = SensorNone
	}
	if cfg.CommandDelay == 0 {
		cfg.CommandDelay = DefaultCommandDelay
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	switch cfg.SensorMode {
	case SensorNone:
	case SensorMQTT:
		if b == nil {
			return nil, errors.Errorf("%s: mqtt position sensors need a message bus", cfg.Name)
		}
		if len(cfg.SensorTopics) < 2 {
			return nil, errors.Errorf("%s: mqtt position sensors need at least 2 topics, got %d", cfg.Name, len(cfg.SensorTopics))
		}
	default:
		return nil, errors.Errorf("%s: %s is not supported position sensor type", cfg.Name, cfg.SensorMode)
	}

	s := &Shade{cfg: cfg, bus: b, reconciler: shade.NewReconciler(cfg.Name)}
	if cfg.SensorMode == SensorMQTT {
		s.topics = SensorTopics(cfg.SensorTopics)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.queue = NewQueue(s.ctx, cfg.Name, t, cfg.CommandDelay, s.refresh)

	return s, nil
}

// Start subscribes the position sensor topics.
func (s *Shade) Start() (err error) {
	for _, topic := range s.topics {
		sub, subErr := s.bus.Subscribe(topic, s.OnSensorMessage)
		if subErr != nil {
			err = multierr.Append(err, subErr)
			continue
		}

		s.l.Lock()
		s.subs = append(s.subs, sub)
		s.l.Unlock()
	}

	if err != nil {
		return errors.Wrapf(err, "%s: position sensors subscription failed", s.cfg.Name)
	}
	if len(s.topics) > 0 {
		logrus.Infof("%s: %d position sensors subscribed", s.cfg.Name, len(s.topics))
	}

	return nil
}

// Shutdown releases the sensor subscriptions. Pending settle callbacks
// become no-ops and queued commands are dropped.
func (s *Shade) Shutdown() (err error) {
	s.cancel()

	s.l.Lock()
	subs := s.subs
	s.subs = nil
	s.l.Unlock()

	for _, sub := range subs {
		err = multierr.Append(err, sub.Unsubscribe())
	}

	return err
}

func (s *Shade) Name() string {
	return s.cfg.Name
}

func (s *Shade) Code() string {
	return s.cfg.Code
}

func (s *Shade) State() shade.State {
	return s.reconciler.State()
}

func (s *Shade) OnUpdate(h shade.UpdateHandler) {
	s.reconciler.OnUpdate(h)
}

func (s *Shade) Open(ctx context.Context) error {
	logrus.Infof("%s: open", s.cfg.Name)

	return s.SetTargetPosition(ctx, shade.FullOpenPosition)
}

func (s *Shade) Close(ctx context.Context) error {
	logrus.Infof("%s: close", s.cfg.Name)

	return s.SetTargetPosition(ctx, shade.FullClosePosition)
}

func (s *Shade) Favorite(ctx context.Context) error {
	logrus.Infof("%s: favorite", s.cfg.Name)

	return s.SetTargetPosition(ctx, shade.FavoritePosition)
}

func (s *Shade) Stop(_ context.Context) error {
	return errors.Errorf("%s: stop is not supported by the controller", s.cfg.Name)
}

// SetTargetPosition sends the move for targetPosition and returns once the
// command is written. Unsupported targets are ignored. The settle timer of an
// earlier move is left running.
func (s *Shade) SetTargetPosition(ctx context.Context, targetPosition int) error {
	if err := s.ctx.Err(); err != nil {
		return errors.Wrapf(err, "%s: shade is shut down", s.cfg.Name)
	}

	move := s.reconciler.RequestMove(targetPosition)
	if move == shade.MoveNone {
		return nil
	}

	cmd, err := NewCommand(s.cfg.Code, move, s.cfg.MotorType)
	if err != nil {
		return err
	}

	logrus.Infof("%s: set target position to %d, %s", s.cfg.Name, targetPosition, cmd)
	result := s.queue.Enqueue(cmd)
	time.AfterFunc(s.cfg.SettleDelay, s.settle)

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSensorMessage feeds a contact sensor message into the position. Unknown
// topics and malformed payloads are ignored.
func (s *Shade) OnSensorMessage(topic string, payload []byte) {
	i, ok := s.topics.Index(topic)
	if !ok {
		logrus.Debugf("%s: %s is not a position sensor topic", s.cfg.Name, topic)
		return
	}

	closed, err := ParseContact(payload)
	if err != nil {
		logrus.Debugf("%s: %s: %s", s.cfg.Name, topic, err)
		return
	}

	s.reconciler.OnSensorEvent(s.topics.Reference(i), s.topics.Step(), closed)
}

func (s *Shade) settle() {
	if s.ctx.Err() != nil {
		return
	}

	logrus.Debugf("%s: settle", s.cfg.Name)
	s.reconciler.Settle(s.cfg.SensorMode == SensorNone)
	if s.cfg.SensorMode == SensorMQTT {
		s.pollSensors()
	}
}

func (s *Shade) refresh() {
	if s.cfg.SensorMode == SensorMQTT {
		s.pollSensors()
		return
	}

	s.reconciler.Neutralize()
}

func (s *Shade) pollSensors() {
	for _, topic := range s.topics {
		if err := s.bus.Publish(RefreshTopic(topic), []byte{}); err != nil {
			logrus.Errorf("%s: position sensor refresh failed: %s", s.cfg.Name, err)
		}
	}
}
