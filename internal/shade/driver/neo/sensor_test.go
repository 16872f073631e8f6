package neo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensorTopics(t *testing.T) {
	topics := SensorTopics{"s/0", "s/1", "s/2", "s/3", "s/4"}

	t.Run("reference positions", func(t *testing.T) {
		for i, expected := range []float64{0, 25, 50, 75, 100} {
			assert.Equal(t, expected, topics.Reference(i))
		}
		assert.Equal(t, 25.0, topics.Step())
	})

	t.Run("index", func(t *testing.T) {
		i, ok := topics.Index("s/3")
		assert.True(t, ok)
		assert.Equal(t, 3, i)

		_, ok = topics.Index("s/3/get")
		assert.False(t, ok)
	})

	t.Run("three sensors", func(t *testing.T) {
		three := SensorTopics{"a", "b", "c"}
		assert.Equal(t, 50.0, three.Reference(1))
		assert.Equal(t, 100.0, three.Reference(2))
	})

	t.Run("single sensor has no spacing", func(t *testing.T) {
		assert.Zero(t, SensorTopics{"a"}.Step())
		assert.Zero(t, SensorTopics{"a"}.Reference(0))
	})
}

func TestRefreshTopic(t *testing.T) {
	assert.Equal(t, "zigbee2mqtt/shade_0/get", RefreshTopic("zigbee2mqtt/shade_0"))
}

func TestParseContact(t *testing.T) {
	closed, err := ParseContact([]byte(`{"contact":true,"battery":100}`))
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = ParseContact([]byte(`{"contact":false}`))
	require.NoError(t, err)
	assert.False(t, closed)

	for _, payload := range []string{``, `not json`, `{}`, `{"contact":"yes"}`, `{"contact":null}`, `[true]`} {
		_, err := ParseContact([]byte(payload))
		assert.Error(t, err, payload)
	}
}
