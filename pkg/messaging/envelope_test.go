package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetadataGeneratesChain(t *testing.T) {
	before := time.Now().UnixMilli()
	metadata := NewMetadata("query-agent", "", "query.response")
	after := time.Now().UnixMilli()

	assert.NotEmpty(t, metadata.MessageID)
	assert.NotEmpty(t, metadata.CorrelationID)
	assert.NotEqual(t, metadata.MessageID, metadata.CorrelationID)
	assert.Equal(t, "query-agent", metadata.SenderAgent)
	assert.Equal(t, "query.response", metadata.ReplyTo)
	assert.GreaterOrEqual(t, metadata.TimestampMS, before)
	assert.LessOrEqual(t, metadata.TimestampMS, after)
}

func TestNewMetadataPreservesCorrelationID(t *testing.T) {
	metadata := NewMetadata("analysis-agent", "chain-7", "")
	assert.Equal(t, "chain-7", metadata.CorrelationID)
	assert.Empty(t, metadata.ReplyTo)
}

func TestNewMetadataUniqueMessageIDs(t *testing.T) {
	first := NewMetadata("a", "", "")
	second := NewMetadata("a", "", "")
	assert.NotEqual(t, first.MessageID, second.MessageID)
}

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	metadata := NewMetadata("query-agent", "corr-1", "query.response")
	payload := queryRequest{Query: "price of BTC", SessionID: "s-9"}

	body, err := Encode(metadata, payload)
	require.NoError(t, err)

	var decoded queryRequest
	gotMetadata, err := Decode(body, &decoded)
	require.NoError(t, err)

	assert.Equal(t, metadata, gotMetadata)
	assert.Equal(t, payload, decoded)
}

func TestEncodeGraftsMetadataKey(t *testing.T) {
	metadata := NewMetadata("monitor-agent", "corr-2", "")

	body, err := Encode(metadata, map[string]any{"metric": "tps", "value": 812.5})
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))

	sub, ok := wire["metadata"].(map[string]any)
	require.True(t, ok, "metadata sub-record missing")
	assert.Equal(t, "corr-2", sub["correlation_id"])
	assert.Equal(t, "monitor-agent", sub["sender_agent"])
	assert.Contains(t, sub, "message_id")
	assert.Contains(t, sub, "timestamp_ms")
	assert.Equal(t, "tps", wire["metric"])
}

func TestEncodeNilPayload(t *testing.T) {
	body, err := Encode(NewMetadata("a", "c", ""), nil)
	require.NoError(t, err)

	metadata, err := Decode(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "c", metadata.CorrelationID)
}

func TestEncodeRejectsNonObjectPayload(t *testing.T) {
	_, err := Encode(NewMetadata("a", "", ""), []int{1, 2, 3})
	require.Error(t, err)

	domainErr, ok := errdefs.As(err)
	require.True(t, ok)
	assert.Equal(t, errdefs.KindDataProcessing, domainErr.Kind)
	assert.False(t, domainErr.Retryable)
}

func TestDecodeMalformedBody(t *testing.T) {
	_, err := Decode([]byte("not json"), nil)
	require.Error(t, err)

	domainErr, ok := errdefs.As(err)
	require.True(t, ok)
	assert.Equal(t, errdefs.CodeInvalidDataFormat, domainErr.Code)
	assert.False(t, domainErr.Retryable)
}

func TestDecodeSchemaMismatch(t *testing.T) {
	body, err := Encode(NewMetadata("a", "c", ""), map[string]any{"query": 42})
	require.NoError(t, err)

	var decoded queryRequest
	_, err = Decode(body, &decoded)
	require.Error(t, err)

	domainErr, ok := errdefs.As(err)
	require.True(t, ok)
	assert.Equal(t, errdefs.CodeDataValidationFailed, domainErr.Code)
}
