package realtime

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaExporter_ProducesEnvelopesInOrder(t *testing.T) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)

	session := uuid.New()
	var got []string
	check := func(val []byte) error {
		var env Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		got = append(got, env.Event)
		assert.Equal(t, session, env.SessionID)
		return nil
	}
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(check)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(check)

	exp := NewKafkaExporter(producer, "classlive.events", nil)
	hub := NewHub(nil, WithExporter(exp))
	hub.Publish(session, EventDoubtCreated, map[string]string{"text": "Why X?"})
	hub.Publish(session, EventDoubtUpvoted, map[string]int{"upvote_count": 1})

	require.NoError(t, exp.Close())
	assert.Equal(t, []string{EventDoubtCreated, EventDoubtUpvoted}, got)
}

func TestKafkaExporter_ExportAfterCloseIsIgnored(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	exp := NewKafkaExporter(producer, "classlive.events", nil)
	require.NoError(t, exp.Close())

	assert.NotPanics(t, func() {
		exp.Export(Envelope{Event: EventSessionEnded, SessionID: uuid.New()})
	})
	assert.NoError(t, exp.Close())
}
