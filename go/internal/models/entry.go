package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is a submitted session as stored in the sessions document. On the
// wire it is the session object with id and submissionTime added.
type Entry struct {
	ID             uuid.UUID
	SubmissionTime time.Time
	Session        Session
}

// Elapsed is the ranking metric of the entry.
func (e Entry) Elapsed() (time.Duration, bool) {
	return e.Session.Elapsed()
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	sess := e.Session.Value()
	sess["id"] = e.ID.String()
	sess["submissionTime"] = e.SubmissionTime.Format(time.RFC3339Nano)
	return json.Marshal(sess)
}

// UnmarshalJSON implements json.Unmarshaler. Entries written before ids were
// assigned, or with an id that is not a UUID, decode with uuid.Nil.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return err
	}

	var raw struct {
		ID             json.RawMessage `json:"id"`
		SubmissionTime json.RawMessage `json:"submissionTime"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}

	out := Entry{Session: sess}
	var id string
	if err := json.Unmarshal(raw.ID, &id); err == nil {
		if parsed, err := uuid.Parse(id); err == nil {
			out.ID = parsed
		}
	}
	if ts := ParseTimestamp(raw.SubmissionTime); ts != nil {
		out.SubmissionTime = *ts
	}

	*e = out
	return nil
}
