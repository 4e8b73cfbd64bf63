package protocol

import "encoding/json"

// Carrier event discriminators. The carrier interface uses "event" as its
// discriminator field name and a Twilio Media Streams-shaped payload,
// following the conventions observed across the retrieval pack's telephony
// examples (streamSid, base64 μ-law 8kHz mono 20ms media frames).
const (
	CarrierEventStart = "start"
	CarrierEventMedia = "media"
	CarrierEventMark  = "mark"
	CarrierEventDTMF  = "dtmf"
	CarrierEventStop  = "stop"
)

// CarrierEvent is the flattened union of every inbound carrier media event
// (§6.2). Only fields relevant to Event are populated.
type CarrierEvent struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid,omitempty"`

	Start *CarrierStart `json:"start,omitempty"`
	Media *CarrierMedia `json:"media,omitempty"`
	DTMF  *CarrierDTMF  `json:"dtmf,omitempty"`
	Stop  *CarrierStop  `json:"stop,omitempty"`
}

// CarrierStart carries call/stream identifiers from the carrier's start event.
type CarrierStart struct {
	StreamSid string `json:"streamSid,omitempty"`
	CallSid   string `json:"callSid,omitempty"`
}

// CarrierMedia carries one base64 μ-law 8kHz mono 20ms audio frame.
type CarrierMedia struct {
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp,omitempty"`
}

// CarrierDTMF carries a single touch-tone digit.
type CarrierDTMF struct {
	Digit string `json:"digit"`
}

// CarrierStop carries the call identifier the carrier is tearing down.
type CarrierStop struct {
	CallSid string `json:"callSid,omitempty"`
}

// DecodeCarrierEvent parses a single inbound carrier frame. Unlike
// DecodeClientEvent, carrier shapes are defined by the carrier, not by this
// system, so unknown Event values are ignored rather than rejected —
// mark/other carrier bookkeeping events are forwarded here only for
// completeness of the union and may be safely dropped by callers.
func DecodeCarrierEvent(data []byte) (*CarrierEvent, error) {
	var evt CarrierEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, NewError(KindProtocol, "malformed carrier json: %v", err)
	}
	if evt.Event == "" {
		return nil, NewError(KindProtocol, "missing required field: event")
	}
	if evt.Event == CarrierEventMedia && (evt.Media == nil || evt.Media.Payload == "") {
		return nil, NewError(KindProtocol, "media.payload is required and non-empty")
	}
	return &evt, nil
}

// CarrierMediaOut is the only outbound carrier event the bridge emits: a
// media frame carrying μ-law audio back to the caller. The track field is
// intentionally omitted (§4.5, §9 open question 1 — the more conservative
// behavior across carriers).
type CarrierMediaOut struct {
	Event     string              `json:"event"`
	StreamSid string              `json:"streamSid"`
	Media     CarrierMediaPayload `json:"media"`
}

// CarrierMediaPayload holds the base64 μ-law payload of an outbound frame.
type CarrierMediaPayload struct {
	Payload string `json:"payload"`
}

// NewCarrierMediaOut builds an outbound media event for streamSid carrying
// the given base64 μ-law payload.
func NewCarrierMediaOut(streamSid, payloadBase64 string) *CarrierMediaOut {
	return &CarrierMediaOut{
		Event:     CarrierEventMedia,
		StreamSid: streamSid,
		Media:     CarrierMediaPayload{Payload: payloadBase64},
	}
}

// Encode marshals the outbound media event for a WebSocket text frame.
func (m *CarrierMediaOut) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// TwiMLStreamResponse renders the TwiML response to the carrier's voice
// webhook: exactly one <Connect><Stream url="..."> directive (§6.2).
func TwiMLStreamResponse(mediaURL string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<Response><Connect><Stream url="` + xmlEscapeAttr(mediaURL) + `"/></Connect></Response>`
}

// xmlEscapeAttr escapes the handful of characters that are unsafe inside a
// double-quoted XML attribute value.
func xmlEscapeAttr(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			out = append(out, "&amp;"...)
		case '<':
			out = append(out, "&lt;"...)
		case '>':
			out = append(out, "&gt;"...)
		case '"':
			out = append(out, "&quot;"...)
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
