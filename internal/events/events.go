// Package events defines the object-change notifications the worker
// consumes and the parsing of raw transport message bodies into them.
package events

import (
	"encoding/json"
	"net/url"
)

// ChangeEvent describes one newly written object. Immutable; consumed
// exactly once per processing attempt.
type ChangeEvent struct {
	Bucket    string
	Key       string
	SizeBytes int64
}

type notification struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// Parse extracts the object-change events bundled in one transport
// message body. Object keys arrive percent-encoded with '+' for spaces
// and are decoded here. A body that is valid JSON but carries no
// records yields an empty slice; a body that is not JSON at all returns
// an error so the caller can log it, but both cases are treated as
// vacuously successful by the consumer.
func Parse(body []byte) ([]ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}

	evs := make([]ChangeEvent, 0, len(n.Records))
	for _, rec := range n.Records {
		if rec.S3.Bucket.Name == "" || rec.S3.Object.Key == "" {
			continue
		}
		key := rec.S3.Object.Key
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		evs = append(evs, ChangeEvent{
			Bucket:    rec.S3.Bucket.Name,
			Key:       key,
			SizeBytes: rec.S3.Object.Size,
		})
	}
	return evs, nil
}
