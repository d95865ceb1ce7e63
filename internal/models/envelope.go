// Package models defines the data structures for outbound collector envelopes.
package models

import "strconv"

// Role classifies a participant for talk-time alerting purposes.
type Role string

const (
	RoleCandidate Role = "Candidate"
	RolePanelist  Role = "Panelist"
	RoleUnknown   Role = "Unknown"
)

// Utterance is one flushed, contiguous span of audio attributed to a
// single speaker between two boundaries. Immutable once produced.
type Utterance struct {
	SpeakerID   string
	Data        []byte
	StartMs     int64
	EndMs       int64
	UserID      string
	DisplayName string
	Email       string
	Role        Role
}

// DurationMs returns the elapsed time covered by the utterance.
func (u Utterance) DurationMs() int64 {
	return u.EndMs - u.StartMs
}

// AudioMessage is the envelope for one utterance sent to the collector.
type AudioMessage struct {
	Type           string `json:"type"`
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	Buffer         string `json:"buffer"`
	SpeakStartTime string `json:"speakStartTime"`
	SpeakEndTime   string `json:"speakEndTime"`
	Role           Role   `json:"role"`
}

// VideoFormat describes the dimensions and rate of a video frame stream.
type VideoFormat struct {
	Width     int     `json:"Width"`
	Height    int     `json:"Height"`
	FrameRate float64 `json:"FrameRate"`
}

// VideoMetadata carries per-frame metadata. OriginalFormat is nil when the
// frame was not transcoded upstream.
type VideoMetadata struct {
	Format         VideoFormat  `json:"format"`
	OriginalFormat *VideoFormat `json:"originalFormat"`
	Timestamp      int64        `json:"timestamp"`
	FrameIndex     int64        `json:"frameIndex"`
}

// VideoMessage is the envelope for one video frame sent to the collector.
type VideoMessage struct {
	Type     string        `json:"type"`
	Buffer   string        `json:"buffer"`
	Metadata VideoMetadata `json:"metadata"`
}

// MeetingEvent signals a meeting lifecycle transition
// (meeting_started, meeting_ended).
type MeetingEvent struct {
	Type      string `json:"type"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime,omitempty"`
}

// Question is a single structured interview question.
type Question struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	IsMark   bool   `json:"isMark"`
}

// QuestionSet groups the structured question block for a session.
// The core treats its contents as opaque.
type QuestionSet struct {
	Motivation   Question `json:"motivation"`
	Opportunity  Question `json:"opportunity"`
	Availability Question `json:"availability"`
	Technical    Question `json:"technical"`
	Salary       Question `json:"salary"`
}

// InterviewDetails describes the session to the collector after connect.
type InterviewDetails struct {
	Type           string      `json:"type"`
	MeetingID      string      `json:"meetingId"`
	StartTime      string      `json:"startTime"`
	EndTime        string      `json:"endTime,omitempty"`
	CandidateEmail string      `json:"candidateEmail"`
	Questions      QuestionSet `json:"questions"`
}

// TalkAlert is emitted when a panelist's in-window speaking time crosses
// the alert threshold.
type TalkAlert struct {
	Type                string  `json:"type"`
	PanelistID          string  `json:"panelistId"`
	PanelistEmail       string  `json:"panelistEmail"`
	PanelistName        string  `json:"panelistName"`
	SpeakingTimeSeconds float64 `json:"speakingTimeSeconds"`
	WindowStart         int64   `json:"windowStart"`
	WindowEnd           int64   `json:"windowEnd"`
	Message             string  `json:"message"`
}

// FormatMs renders a millisecond timestamp the way the collector expects
// string-typed time fields.
func FormatMs(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
