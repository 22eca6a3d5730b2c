package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassification(t *testing.T) {
	t.Run("full response", func(t *testing.T) {
		c, err := ParseClassification(`{
			"topic": "문자 발송 오류",
			"urgency": "high",
			"sentiment": "negative",
			"intent": "장애 신고",
			"summary": "예약 문자가 발송되지 않음",
			"next_action": "발송 로그 확인",
			"confidence": 0.85
		}`)
		require.NoError(t, err)
		assert.Equal(t, "high", c.Urgency)
		assert.Equal(t, "문자 발송 오류", c.Topic)
		require.NotNil(t, c.Confidence)
		assert.InDelta(t, 0.85, *c.Confidence, 0.001)
	})

	t.Run("missing optional fields default to empty", func(t *testing.T) {
		c, err := ParseClassification(`{"urgency": "low"}`)
		require.NoError(t, err)
		assert.Empty(t, c.Topic)
		assert.Empty(t, c.Summary)
		assert.Nil(t, c.Confidence)
	})

	t.Run("code fences and prose are tolerated", func(t *testing.T) {
		c, err := ParseClassification("Here you go:\n```json\n{\"urgency\": \"Medium\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "medium", c.Urgency)
	})

	t.Run("urgency outside enum fails", func(t *testing.T) {
		_, err := ParseClassification(`{"urgency": "apocalyptic"}`)
		assert.Error(t, err)

		_, err = ParseClassification(`{"topic": "x"}`)
		assert.Error(t, err)
	})

	t.Run("no JSON fails", func(t *testing.T) {
		_, err := ParseClassification("I cannot classify this.")
		assert.Error(t, err)
	})

	t.Run("out-of-range confidence is dropped", func(t *testing.T) {
		c, err := ParseClassification(`{"urgency": "low", "confidence": 7.5}`)
		require.NoError(t, err)
		assert.Nil(t, c.Confidence)
	})
}
