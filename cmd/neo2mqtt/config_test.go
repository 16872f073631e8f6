package main

import (
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

const testConfig = `
log_level: debug
controller:
  host: 192.168.1.20
  settle_delay: 20s
shades:
  - code: "021.230"
    name: Living room
  - code: "021.231"
    name: Bedroom
    motor_type: tb
    position_sensor_type: mqtt
    position_sensor_topics:
      - zigbee2mqtt/bedroom_0
      - zigbee2mqtt/bedroom_1
      - zigbee2mqtt/bedroom_2
`

func parseTestConfig(t *testing.T, body string) config {
	t.Helper()

	var cfg config
	require.NoError(t, defaults.Set(&cfg))
	require.NoError(t, yaml.Unmarshal([]byte(body), &cfg))

	return cfg
}

func TestValidateConfig(t *testing.T) {
	cfg := parseTestConfig(t, testConfig)
	require.NoError(t, validateConfig(&cfg))

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Zero(t, cfg.Controller.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Controller.CommandDelay)
	assert.Equal(t, 20*time.Second, cfg.Controller.SettleDelay)

	require.Len(t, cfg.Shades, 2)
	assert.Equal(t, "bf", cfg.Shades[0].MotorType)
	assert.Equal(t, "none", cfg.Shades[0].PositionSensorType)
	assert.Equal(t, "tb", cfg.Shades[1].MotorType)
	assert.Len(t, cfg.Shades[1].PositionSensorTopics, 3)
}

func TestValidateConfigErrors(t *testing.T) {
	tests := map[string]string{
		"missing host": `
shades:
  - code: a
    name: A
`,
		"missing code": `
controller: {host: hub}
shades:
  - name: A
`,
		"unknown sensor type": `
controller: {host: hub}
shades:
  - code: a
    name: A
    position_sensor_type: ultrasonic
`,
		"single sensor topic": `
controller: {host: hub}
shades:
  - code: a
    name: A
    position_sensor_type: mqtt
    position_sensor_topics: [zigbee2mqtt/a]
`,
		"duplicated code": `
controller: {host: hub}
shades:
  - {code: a, name: A}
  - {code: a, name: B}
`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := parseTestConfig(t, body)
			assert.Error(t, validateConfig(&cfg))
		})
	}
}
