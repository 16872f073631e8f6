package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/neo2mqtt/internal/bus"
	"github.com/jkaflik/neo2mqtt/internal/mqtt"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})

	configPath := flag.String("config", "config.yaml", "config.yaml file path")
	flag.Parse()

	if err := configLoader.Load(); err != nil {
		logrus.Fatal(err)
	}
	if err := loadConfigFromYamlFile(*configPath); err != nil {
		logrus.Fatal(err)
	}
	if err := validateConfig(&Cfg); err != nil {
		logrus.Fatal(err)
	}

	level, err := logrus.ParseLevel(Cfg.LogLevel)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())

	var b *bus.Bus
	opts := pahoOptsFromConfig()
	opts.OnConnect = func(m paho.Client) {
		logrus.Info("MQTT broker connected")
		if err := b.Resubscribe(); err != nil {
			logrus.Error(err)
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logrus.Errorf("MQTT broker connection lost: %s", err.Error())
	}

	m := paho.NewClient(opts)
	b = bus.New(m)
	if token := m.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatal(token.Error())
	}

	shades, bridges := neo2mqttFromConfig(ctx, b)
	for _, bridge := range bridges {
		if Cfg.HASS.Enabled {
			entity := mqtt.NewHACoverFromMQTTBridge(bridge)
			if err := mqtt.PublishHAAutoDiscovery(b, Cfg.HASS.TopicPrefix, entity); err != nil {
				logrus.Error(err)
			}
		}

		if err := bridge.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
	}
	logrus.Infof("%d shades ready", len(shades))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		oscall := <-c
		logrus.Infof("system call: %+v", oscall)
		cancel()
	}()

	<-ctx.Done()

	for _, s := range shades {
		if err := s.Shutdown(); err != nil {
			logrus.Errorf("%s: shutdown: %s", s.Name(), err)
		}
	}
	if err := b.Close(); err != nil {
		logrus.Error(err)
	}

	cleanupTime := time.Second
	logrus.Infof("cleanups for %s...", cleanupTime.String())
	time.Sleep(cleanupTime)
	m.Disconnect(250)
}
