package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerValidatesConfig(t *testing.T) {
	_, err := NewProducer(ProducerConfig{ChainID: 1})
	assert.Error(t, err)

	_, err = NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestProducerTopic(t *testing.T) {
	p, err := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, ChainID: 137})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "txrelay-transactions-137", p.Topic())

	p, err = NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, TopicPrefix: "relay", ChainID: 1})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "relay-1", p.Topic())
	assert.Equal(t, "txrelay-transactions-5", TopicName("  ", 5))
}

func TestNewConsumerValidatesConfig(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}, ChainID: 1})
	assert.Error(t, err)

	c, err := NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}, GroupID: "g", ChainID: 1})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
