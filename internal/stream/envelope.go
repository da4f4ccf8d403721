package stream

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/utc"

	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Frame types.
const (
	TypeInit   = "init"
	TypeUpdate = "update"
	TypePing   = "ping"
	TypePong   = "pong"

	classUpdateSuffix = "_update"
)

// Envelope is a push channel frame.
type Envelope struct {
	Type      string          `json:"type"`
	Entity    string          `json:"entity,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Seq       *uint64         `json:"seq,omitempty"`
}

// millisThreshold separates unix seconds from unix milliseconds.
const millisThreshold = 1e12

// ParseFrame turns a raw frame into an update. ok is false for frames that
// carry no state (keepalives, unknown types). A non-nil error means the frame
// was malformed and must be discarded.
func ParseFrame(raw []byte, receivedAt utc.Time) (u telemetry.Update, ok bool, err error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return u, false, errors.WrapParse("frame", "push channel", err)
	}

	class, isInit, known, err := classify(env)
	if err != nil || !known {
		return u, false, err
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return u, false, errors.NewParseError("frame", "push channel", "frame has no data", nil)
	}

	ts := receivedAt
	if len(env.Timestamp) > 0 && !bytes.Equal(env.Timestamp, []byte("null")) {
		ts, err = parseTimestamp(env.Timestamp)
		if err != nil {
			return u, false, err
		}
	}

	return telemetry.Update{
		Class:           class,
		Payload:         json.RawMessage(data),
		Source:          telemetry.Push,
		SourceTimestamp: ts,
		Init:            isInit,
		Sequence:        env.Seq,
	}, true, nil
}

// classify resolves the entity class of a frame. known is false for frames
// that should be ignored.
func classify(env Envelope) (class telemetry.EntityClass, isInit, known bool, err error) {
	entity := func() (telemetry.EntityClass, error) {
		if env.Entity == "" {
			return telemetry.Metrics, nil
		}
		return telemetry.ParseEntityClass(env.Entity)
	}

	switch typ := strings.ToLower(env.Type); {
	case typ == TypeInit:
		class, err = entity()
		return class, true, err == nil, wrapEntity(err)
	case typ == TypeUpdate:
		if env.Entity == "" {
			return "", false, false, errors.NewParseError("frame", "push channel", "update frame without entity", nil)
		}
		class, err = entity()
		return class, false, err == nil, wrapEntity(err)
	case strings.HasSuffix(typ, classUpdateSuffix):
		class, err = telemetry.ParseEntityClass(strings.TrimSuffix(typ, classUpdateSuffix))
		if err != nil {
			return "", false, false, nil
		}
		return class, false, true, nil
	default:
		// ping, pong and unknown types carry no state
		return "", false, false, nil
	}
}

func wrapEntity(err error) error {
	if err == nil {
		return nil
	}
	return errors.NewParseError("frame", "push channel", "unknown entity", err)
}

// parseTimestamp accepts RFC 3339 strings and unix seconds or milliseconds.
func parseTimestamp(raw json.RawMessage) (utc.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return utc.New(t), nil
		}
		// numeric strings are tolerated
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(f), nil
		}
		return utc.Time{}, errors.NewParseError("frame", "push channel", "invalid timestamp "+strconv.Quote(s), nil)
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return utc.Time{}, errors.WrapParse("frame", "push channel", err)
	}
	return fromUnix(f), nil
}

func fromUnix(f float64) utc.Time {
	if f >= millisThreshold {
		return utc.New(time.UnixMilli(int64(f)))
	}
	sec, frac := math.Modf(f)
	return utc.New(time.Unix(int64(sec), int64(frac*1e9)))
}
