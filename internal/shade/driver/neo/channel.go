package neo

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultPort = 8839

// Transmitter delivers a single command to the controller. The protocol has
// no acknowledgement, a completed write is the only success signal.
type Transmitter interface {
	Transmit(ctx context.Context, cmd Command) error
}

// TCP opens one connection per command to the controller hub.
type TCP struct {
	Address string

	dialer net.Dialer
}

// NewTCP addresses the controller at host. Port 0 selects DefaultPort.
func NewTCP(host string, port int) *TCP {
	if port == 0 {
		port = DefaultPort
	}

	return &TCP{Address: net.JoinHostPort(host, strconv.Itoa(port))}
}

func (t *TCP) Transmit(ctx context.Context, cmd Command) error {
	conn, err := t.dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return errors.Wrapf(err, "%s: controller connect failed", t.Address)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logrus.Debugf("%s: controller connection close: %s", t.Address, err)
		}
	}()

	if _, err := conn.Write(cmd.Frame()); err != nil {
		return errors.Wrapf(err, "%s: command %s write failed", t.Address, cmd)
	}

	logrus.Infof("%s: sent command %s", t.Address, cmd)

	return nil
}

// PoolProxy bounds the number of concurrent transmissions sharing pool.
type PoolProxy struct {
	t Transmitter
	c chan struct{}
}

func NewPoolProxy(t Transmitter, pool chan struct{}) *PoolProxy {
	return &PoolProxy{t: t, c: pool}
}

func (p *PoolProxy) Transmit(ctx context.Context, cmd Command) error {
	select {
	case p.c <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		<-p.c
	}()

	return p.t.Transmit(ctx, cmd)
}
