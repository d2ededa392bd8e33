package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const schemaVersion = 2

var errExpired = errors.New("cache entry expired")

// envelope is the current entry layout.
type envelope struct {
	Schema     int             `json:"schema"`
	Stage      string          `json:"stage"`
	CreatedAt  time.Time       `json:"created_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
	Payload    json.RawMessage `json:"payload"`
}

// legacyEnvelope is the layout written before stage tagging.
type legacyEnvelope struct {
	Result   json.RawMessage `json:"result"`
	CachedAt float64         `json:"cached_at"`
}

// decoder unwraps one historical layout down to its payload.
type decoder struct {
	version string
	unwrap  func(raw []byte, stage string, now time.Time, maxAge time.Duration) (json.RawMessage, error)
}

// decoders are tried newest first.
var decoders = []decoder{
	{version: "v2", unwrap: unwrapV2},
	{version: "v1", unwrap: unwrapV1},
	{version: "v0", unwrap: unwrapV0},
}

func encode(stage string, v interface{}, now time.Time, ttl time.Duration) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", stage, err)
	}
	return json.Marshal(envelope{
		Schema:     schemaVersion,
		Stage:      stage,
		CreatedAt:  now.UTC(),
		TTLSeconds: int64(ttl / time.Second),
		Payload:    payload,
	})
}

// decode reconstructs a T from raw. It returns errExpired for an entry past
// its TTL and a joined description of every decoder failure otherwise.
func decode[T any](raw []byte, stage string, now time.Time, maxAge time.Duration) (T, error) {
	var zero T
	failures := make([]string, 0, len(decoders))

	for _, d := range decoders {
		payload, err := d.unwrap(raw, stage, now, maxAge)
		if errors.Is(err, errExpired) {
			return zero, err
		}
		if err != nil {
			failures = append(failures, d.version+": "+err.Error())
			continue
		}

		var v T
		if err := strictUnmarshal(payload, &v); err != nil {
			failures = append(failures, d.version+": payload: "+err.Error())
			continue
		}
		return v, nil
	}
	return zero, fmt.Errorf("no decoder accepted entry (%s)", strings.Join(failures, "; "))
}

func unwrapV2(raw []byte, stage string, now time.Time, _ time.Duration) (json.RawMessage, error) {
	var env envelope
	if err := strictUnmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Schema != schemaVersion {
		return nil, fmt.Errorf("schema %d", env.Schema)
	}
	if len(env.Payload) == 0 {
		return nil, errors.New("missing payload")
	}
	if env.Stage != stage {
		return nil, fmt.Errorf("stage %q, want %q", env.Stage, stage)
	}
	if env.TTLSeconds > 0 && now.After(env.CreatedAt.Add(time.Duration(env.TTLSeconds)*time.Second)) {
		return nil, errExpired
	}
	return env.Payload, nil
}

func unwrapV1(raw []byte, _ string, now time.Time, maxAge time.Duration) (json.RawMessage, error) {
	var env legacyEnvelope
	if err := strictUnmarshal(raw, &env); err != nil {
		return nil, err
	}
	if len(env.Result) == 0 {
		return nil, errors.New("missing result")
	}
	if env.CachedAt > 0 && maxAge > 0 {
		cachedAt := time.Unix(0, int64(env.CachedAt*float64(time.Second)))
		if now.Sub(cachedAt) > maxAge {
			return nil, errExpired
		}
	}
	return env.Result, nil
}

func unwrapV0(raw []byte, _ string, _ time.Time, _ time.Duration) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("empty entry")
	}
	return trimmed, nil
}

func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after value")
	}
	return nil
}
