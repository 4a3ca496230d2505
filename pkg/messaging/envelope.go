package messaging

import (
	"encoding/json"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"

	"github.com/google/uuid"
)

// Metadata is the envelope sub-record every payload carries on the wire.
// It is created once when a publish is initiated and immutable afterwards.
type Metadata struct {
	MessageID     string `json:"message_id"`
	CorrelationID string `json:"correlation_id"`
	TimestampMS   int64  `json:"timestamp_ms"`
	SenderAgent   string `json:"sender_agent"`
	ReplyTo       string `json:"reply_to,omitempty"`
}

// NewMetadata builds envelope metadata for sender. An empty correlationID
// starts a new logical chain with a generated id; responses pass the
// inbound chain's id through unchanged.
func NewMetadata(sender, correlationID, replyTo string) Metadata {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	return Metadata{
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		TimestampMS:   time.Now().UnixMilli(),
		SenderAgent:   sender,
		ReplyTo:       replyTo,
	}
}

// envelope is the wire frame: the metadata sub-record lives under the
// "metadata" key at the top level of the payload object.
type envelope struct {
	Metadata Metadata `json:"metadata"`
}

// Encode serializes payload as a JSON object with metadata grafted in under
// the "metadata" key. The payload must marshal to a JSON object (or be
// nil); anything else is a data-processing error.
func Encode(metadata Metadata, payload any) ([]byte, error) {
	body := map[string]json.RawMessage{}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errdefs.NewDataProcessing("payload is not serializable").WithCause(err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, errdefs.NewDataProcessing("payload must serialize to a JSON object").WithCause(err)
		}
	}

	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return nil, errdefs.NewDataProcessing("metadata is not serializable").WithCause(err)
	}
	body["metadata"] = rawMetadata

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, errdefs.NewDataProcessing("message encoding failed").WithCause(err)
	}
	return encoded, nil
}

// Decode splits a wire message into its metadata and payload. When payload
// is non-nil the full body is unmarshalled into it; payload types simply
// ignore the "metadata" key (or embed Metadata to capture it). Malformed
// bodies are data-processing errors, which the subscriber boundary turns
// into a dead-letter nack.
func Decode(body []byte, payload any) (Metadata, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Metadata{}, errdefs.NewDataProcessing("malformed message body").
			WithCode(errdefs.CodeInvalidDataFormat).
			WithCause(err)
	}

	if payload != nil {
		if err := json.Unmarshal(body, payload); err != nil {
			return env.Metadata, errdefs.NewDataProcessing("payload does not match schema").
				WithCode(errdefs.CodeDataValidationFailed).
				WithCause(err)
		}
	}

	return env.Metadata, nil
}
