package mq

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	KafkaProducer = mockProducer
	defer func() { KafkaProducer = nil }()

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "TRF123", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, string(value))

		assert.Equal(t, "peerpay.transfer.completed", msg.Topic)
		return nil
	})

	err := SendMessage("peerpay.transfer.completed", "TRF123", `{"ok":true}`)
	assert.NoError(t, err)
}

func TestSendMessageError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	KafkaProducer = mockProducer
	defer func() { KafkaProducer = nil }()

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := SendMessage("peerpay.transfer.completed", "TRF123", "{}")
	assert.Error(t, err)
}
