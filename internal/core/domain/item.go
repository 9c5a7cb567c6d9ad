package domain

import "time"

type ItemState string

const (
	ItemIdle      ItemState = "idle"
	ItemLoading   ItemState = "loading"
	ItemSucceeded ItemState = "succeeded"
	ItemFailed    ItemState = "failed"
)

// Artifact is the audio produced for one script line.
type Artifact struct {
	MIMEType   string
	Data       []byte
	SampleRate int
}

// ItemStatus is the state of one work item in a batch.
type ItemStatus struct {
	State    ItemState `json:"state"`
	Artifact *Artifact `json:"-"`
	Message  string    `json:"message,omitempty"`
	// RetryAt is wall-clock time after which a retry is expected to find a usable credential.
	RetryAt   time.Time `json:"retry_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary counts item outcomes of a batch.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
