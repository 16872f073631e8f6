package main

import (
	"context"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/neo2mqtt/internal/bus"
	"github.com/jkaflik/neo2mqtt/internal/mqtt"
	"github.com/jkaflik/neo2mqtt/internal/shade/driver/neo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v2"
)

type cfgShade struct {
	Code      string `yaml:"code" validate:"required"`
	Name      string `yaml:"name" validate:"required"`
	MotorType string `yaml:"motor_type" default:"bf"`

	PositionSensorType   string   `yaml:"position_sensor_type" default:"none" validate:"oneof=none mqtt"`
	PositionSensorTopics []string `yaml:"position_sensor_topics" validate:"dive,required"`

	Metadata map[string]interface{} `yaml:"metadata"`
}

type cfgController struct {
	Host           string        `yaml:"host" validate:"required" env:"HOST"`
	Port           int           `yaml:"port" validate:"min=0,max=65535" env:"PORT"`
	MaxConnections int           `yaml:"max_connections" default:"0" validate:"min=0" env:"MAX_CONNECTIONS"`
	CommandDelay   time.Duration `yaml:"command_delay" default:"500ms" env:"COMMAND_DELAY"`
	SettleDelay    time.Duration `yaml:"settle_delay" default:"25s" env:"SETTLE_DELAY"`
}

type cfgMQTT struct {
	ClientID string `yaml:"client_id" default:"neo2mqtt" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

type config struct {
	LogLevel string `yaml:"log_level" default:"info" env:"LOG_LEVEL"`

	MQTT       cfgMQTT       `yaml:"mqtt" env:"MQTT"`
	HASS       cfgHASS       `yaml:"hass" env:"HASS"`
	Controller cfgController `yaml:"controller" env:"CONTROLLER"`

	Shades []cfgShade `yaml:"shades" validate:"dive"`
}

var Cfg config

var configLoader = aconfig.LoaderFor(&Cfg, aconfig.Config{
	EnvPrefix: "N2M",
	SkipFlags: true,
	SkipFiles: true,
})

func loadConfigFromYamlFile(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "config file open failed")
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&Cfg); err != nil {
		return errors.Wrapf(err, "%s: config decode failed", filename)
	}

	return nil
}

// validateConfig fills per shade defaults and checks the result.
func validateConfig(cfg *config) error {
	for i := range cfg.Shades {
		if err := defaults.Set(&cfg.Shades[i]); err != nil {
			return errors.Wrapf(err, "shades[%d]: defaults failed", i)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	codes := map[string]bool{}
	for _, s := range cfg.Shades {
		if codes[s.Code] {
			return errors.Errorf("%s: duplicated shade code", s.Code)
		}
		codes[s.Code] = true

		if s.PositionSensorType == string(neo.SensorMQTT) && len(s.PositionSensorTopics) < 2 {
			return errors.Errorf("%s: mqtt position sensors need at least 2 topics", s.Name)
		}
	}

	return nil
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

func transmitterFromConfig() neo.Transmitter {
	t := neo.NewTCP(Cfg.Controller.Host, Cfg.Controller.Port)
	if Cfg.Controller.MaxConnections <= 0 {
		return t
	}

	return neo.NewPoolProxy(t, make(chan struct{}, Cfg.Controller.MaxConnections))
}

func shadeFromConfig(ctx context.Context, cfg cfgShade, t neo.Transmitter, b *bus.Bus) (*neo.Shade, error) {
	return neo.NewShade(ctx, neo.Config{
		Code:         cfg.Code,
		Name:         cfg.Name,
		MotorType:    cfg.MotorType,
		SensorMode:   neo.SensorMode(cfg.PositionSensorType),
		SensorTopics: cfg.PositionSensorTopics,
		CommandDelay: Cfg.Controller.CommandDelay,
		SettleDelay:  Cfg.Controller.SettleDelay,
	}, t, b)
}

// neo2mqttFromConfig sets up every configured shade. A shade failing to set
// up is skipped, the others keep working.
func neo2mqttFromConfig(ctx context.Context, b *bus.Bus) (shades []*neo.Shade, bridges []*mqtt.Bridge) {
	t := transmitterFromConfig()

	for _, cfg := range Cfg.Shades {
		s, err := shadeFromConfig(ctx, cfg, t, b)
		if err != nil {
			logrus.Error(err)
			continue
		}
		if err := s.Start(); err != nil {
			logrus.Error(err)
			continue
		}

		bridge := mqtt.NewBridge(ctx, b, s)
		if len(cfg.Metadata) > 0 {
			if err := bridge.SetMetadata(cfg.Metadata); err != nil {
				logrus.Error(err)
			}
		}

		shades = append(shades, s)
		bridges = append(bridges, bridge)
	}

	return shades, bridges
}
