package neo

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// SensorTopics is the ordered list of contact sensor topics along the
// shade's travel. The i-th topic sits at i*100/(N-1).
type SensorTopics []string

func (s SensorTopics) Index(topic string) (int, bool) {
	for i, t := range s {
		if t == topic {
			return i, true
		}
	}

	return -1, false
}

func (s SensorTopics) Reference(i int) float64 {
	if len(s) < 2 {
		return 0
	}

	return float64(i) * 100 / float64(len(s)-1)
}

// Step is the distance between two neighbouring sensors.
func (s SensorTopics) Step() float64 {
	if len(s) < 2 {
		return 0
	}

	return 100 / float64(len(s)-1)
}

func RefreshTopic(topic string) string {
	return topic + "/get"
}

type contactPayload struct {
	Contact *bool `json:"contact"`
}

// ParseContact reads the contact field of a sensor payload.
func ParseContact(payload []byte) (bool, error) {
	var p contactPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return false, errors.Wrap(err, "malformed sensor payload")
	}
	if p.Contact == nil {
		return false, errors.New("sensor payload has no contact field")
	}

	return *p.Contact, nil
}
