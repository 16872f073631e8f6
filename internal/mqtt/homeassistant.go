package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jkaflik/neo2mqtt/internal/bus"
	"github.com/jkaflik/neo2mqtt/internal/shade"
)

// namespace for shade unique ids, so the same code always maps to the same id
var shadeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/jkaflik/neo2mqtt"))

type haDevice struct {
	Identifiers  []string `json:"ids,omitempty"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
	Name         string   `json:"name,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
}

type haEntity struct {
	AvailabilityTopic string `json:"avty_t,omitempty"`
	UniqueID          string `json:"uniq_id,omitempty"`
	Name              string `json:"name,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`

	Device haDevice `json:"device,omitempty"`
}

type haCover struct {
	haEntity
	StateTopic       string `json:"stat_t"`
	CommandTopic     string `json:"cmd_t"`
	PositionTopic    string `json:"pos_t"`
	SetPositionTopic string `json:"set_pos_t"`
	PositionOpen     int    `json:"pos_open"`
	PositionClosed   int    `json:"pos_clsd"`
	PayloadOpen      string `json:"pl_open"`
	PayloadStop      string `json:"pl_stop,omitempty"`
	PayloadClose     string `json:"pl_cls"`

	code string
}

// ShadeUUID derives a stable identifier from the shade code.
func ShadeUUID(code string) uuid.UUID {
	return uuid.NewSHA1(shadeNamespace, []byte(code))
}

func NewHACoverFromMQTTBridge(bridge *Bridge) haCover {
	id := ShadeUUID(bridge.shade.Code()).String()

	return haCover{
		haEntity: haEntity{
			UniqueID:    id,
			Name:        bridge.shade.Name(),
			DeviceClass: "shade",

			Device: haDevice{
				Identifiers:  []string{id},
				Manufacturer: "NEO Smart",
				Model:        "Roller Shade",
				Name:         bridge.shade.Name(),
				SWVersion:    topicPrefix,
			},
		},
		StateTopic:       bridge.StateTopic,
		CommandTopic:     bridge.CommandTopic,
		PositionTopic:    bridge.PositionTopic,
		SetPositionTopic: bridge.PositionChangeTopic,
		PositionOpen:     shade.FullOpenPosition,
		PositionClosed:   shade.FullClosePosition,
		PayloadOpen:      mqttOpenCmd,
		PayloadClose:     mqttCloseCmd,

		code: bridge.shade.Code(),
	}
}

func PublishHAAutoDiscovery(b *bus.Bus, homeAssistantDiscoveryTopicPrefix string, haCover haCover) error {
	topic := fmt.Sprintf("%s/cover/%s/%s/config", homeAssistantDiscoveryTopicPrefix, topicPrefix, haCover.code)

	payload, err := json.Marshal(haCover)
	if err != nil {
		return err
	}

	return b.PublishRetained(topic, payload)
}
