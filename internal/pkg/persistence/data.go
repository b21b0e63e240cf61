package persistence

import "time"

type (
	// Job is the durable record of one admitted unit of work
	Job struct {
		ID          string `bson:"ID" json:"id"`
		AccessToken string `bson:"accessToken" json:"accessToken"`
		OwnerID     string `bson:"ownerID,omitempty" json:"ownerID,omitempty"`

		Source       string `bson:"source" json:"source"`
		Fingerprint  string `bson:"fingerprint" json:"fingerprint"`
		SizeBytes    int64  `bson:"sizeBytes" json:"sizeBytes"`
		OriginalName string `bson:"originalName,omitempty" json:"originalName,omitempty"`
		Params       Params `bson:"params,omitempty" json:"params,omitempty"`

		Status   string `bson:"status" json:"status"`
		Progress int32  `bson:"progress" json:"progress"`
		Stage    string `bson:"stage,omitempty" json:"stage,omitempty"`
		Message  string `bson:"message,omitempty" json:"message,omitempty"`

		CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
		StartedAt   *time.Time `bson:"startedAt,omitempty" json:"startedAt,omitempty"`
		LastSeen    *time.Time `bson:"lastSeen,omitempty" json:"lastSeen,omitempty"`
		CompletedAt *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
		FailedAt    *time.Time `bson:"failedAt,omitempty" json:"failedAt,omitempty"`
		CancelledAt *time.Time `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`

		EstimatedDurSec float64 `bson:"estimatedDurSec,omitempty" json:"estimatedDurSec,omitempty"`

		Result    *Result           `bson:"result,omitempty" json:"result,omitempty"`
		Artifacts map[string]string `bson:"artifacts,omitempty" json:"artifacts,omitempty"`
		ErrorCode string            `bson:"errorCode,omitempty" json:"errorCode,omitempty"`
		Error     string            `bson:"error,omitempty" json:"error,omitempty"`

		RetryCount int32  `bson:"retryCount" json:"retryCount"`
		RetryOf    string `bson:"retryOf,omitempty" json:"retryOf,omitempty"`
	}

	// Params keeps optional processing hints provided by a caller
	Params struct {
		SpeakerCount     int    `bson:"speakerCount,omitempty" json:"speakerCount,omitempty"`
		Language         string `bson:"language,omitempty" json:"language,omitempty"`
		LanguageOverride bool   `bson:"languageOverride,omitempty" json:"languageOverride,omitempty"`
	}

	// Result is the final payload of a completed job
	Result struct {
		Text            string    `bson:"text,omitempty" json:"text,omitempty"`
		Language        string    `bson:"language,omitempty" json:"language,omitempty"`
		Segments        []Segment `bson:"segments,omitempty" json:"segments,omitempty"`
		TranslationNote string    `bson:"translationNote,omitempty" json:"translationNote,omitempty"`
	}

	// Segment is one time-stamped speaker-attributed span of the final transcript
	Segment struct {
		Start       float64 `bson:"start" json:"start"`
		End         float64 `bson:"end" json:"end"`
		Speaker     string  `bson:"speaker,omitempty" json:"speaker,omitempty"`
		Text        string  `bson:"text" json:"text"`
		Translation string  `bson:"translation,omitempty" json:"translation,omitempty"`
	}
)
