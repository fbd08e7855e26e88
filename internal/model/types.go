package model

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// VideoStatus is both the run status and, during processing, the
// current phase. Progress ranges per phase are owned by the pipeline.
type VideoStatus string

const (
	StatusPending     VideoStatus = "pending"
	StatusDecomposing VideoStatus = "decomposing"
	StatusGenerating  VideoStatus = "generating"
	StatusStitching   VideoStatus = "stitching"
	StatusAudio       VideoStatus = "audio"
	StatusMerging     VideoStatus = "merging"
	StatusTranscoding VideoStatus = "transcoding"
	StatusCompleted   VideoStatus = "completed"
	StatusFailed      VideoStatus = "failed"
)

func (s VideoStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Processing reports whether the run currently occupies the pipeline.
func (s VideoStatus) Processing() bool {
	switch s {
	case StatusDecomposing, StatusGenerating, StatusStitching,
		StatusAudio, StatusMerging, StatusTranscoding:
		return true
	}
	return false
}

type TransitionType string

const (
	TransitionCrossfade TransitionType = "crossfade"
	TransitionCut       TransitionType = "cut"
)

type Scene struct {
	SceneNumber       int            `json:"scene_number"`
	ScenePrompt       string         `json:"scene_prompt"`
	VisualDescription string         `json:"visual_description,omitempty"`
	ContinuityNotes   string         `json:"continuity_notes,omitempty"`
	NarrationText     string         `json:"narration_text,omitempty"`
	StartTime         float64        `json:"start_time"`
	EndTime           float64        `json:"end_time"`
	TransitionType    TransitionType `json:"transition_type"`
}

type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentGenerating SegmentStatus = "generating"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
)

type Segment struct {
	SegmentNumber int           `json:"segment_number"`
	Status        SegmentStatus `json:"status"`
	JobID         string        `json:"job_id,omitempty"`
	FilePath      string        `json:"file_path,omitempty"`
	LastFramePath string        `json:"last_frame_path,omitempty"`
	RetryCount    int           `json:"retry_count"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	CompletedAt   time.Time     `json:"completed_at,omitempty"`
}

type FileRef struct {
	Path     string  `json:"path"`
	URL      string  `json:"url"`
	Size     int64   `json:"size"`
	Format   string  `json:"format"`
	Duration float64 `json:"duration,omitempty"`
}

// VideoFiles keys the named artifacts of a finished run.
type VideoFiles struct {
	Stitched720 *FileRef `json:"stitched_720p,omitempty"`
	Final720    *FileRef `json:"final_720p,omitempty"`
	Final480    *FileRef `json:"final_480p,omitempty"`
	Audio       *FileRef `json:"audio,omitempty"`
	Thumbnail   *FileRef `json:"thumbnail,omitempty"`
}

type VideoMetadata struct {
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FPS       float64 `json:"fps,omitempty"`
	Codec     string  `json:"codec,omitempty"`
	VoiceID   string  `json:"voice_id,omitempty"`
	VoiceName string  `json:"voice_name,omitempty"`
}

// Video is the whole run document: the immutable request fields plus
// the mutable processing state the orchestrator advances.
type Video struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	OriginalPrompt  string        `json:"original_prompt"`
	EnhancedPrompt  string        `json:"enhanced_prompt,omitempty"`
	Title           string        `json:"title"`
	TargetDuration  int           `json:"target_duration"`
	SegmentDuration int           `json:"segment_duration"`
	SegmentCount    int           `json:"segment_count"`
	Scenes          []Scene       `json:"scenes,omitempty"`
	Status          VideoStatus   `json:"status"`
	Progress        int           `json:"progress"`
	CurrentPhase    string        `json:"current_phase,omitempty"`
	CurrentSegment  int           `json:"current_segment,omitempty"`
	Segments        []Segment     `json:"segments"`
	Files           VideoFiles    `json:"files"`
	Metadata        VideoMetadata `json:"metadata"`
	ActualDuration  float64       `json:"actual_duration,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	CancelRequested bool          `json:"cancel_requested"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CompletedAt     time.Time     `json:"completed_at,omitempty"`
}

func (v *Video) CompletedSegments() int {
	n := 0
	for _, s := range v.Segments {
		if s.Status == SegmentCompleted {
			n++
		}
	}
	return n
}

func (v *Video) FailedSegments() int {
	n := 0
	for _, s := range v.Segments {
		if s.Status == SegmentFailed {
			n++
		}
	}
	return n
}

// SegmentDurationFor applies the 5-second special case: a 5-second
// video is a single 5-second segment, everything else slices at the
// configured nominal size.
func SegmentDurationFor(targetDuration, nominal int) int {
	if targetDuration == 5 {
		return 5
	}
	return nominal
}

func SegmentCountFor(targetDuration, segmentDuration int) int {
	if segmentDuration <= 0 {
		return 0
	}
	return (targetDuration + segmentDuration - 1) / segmentDuration
}

type LockMetadata struct {
	VideoID             string    `json:"video_id,omitempty"`
	UserID              string    `json:"user_id,omitempty"`
	TargetDuration      int       `json:"target_duration,omitempty"`
	EstimatedCompletion time.Time `json:"estimated_completion,omitempty"`
}

type ProcessingLock struct {
	Key       string       `json:"key"`
	IsLocked  bool         `json:"is_locked"`
	LockedBy  string       `json:"locked_by,omitempty"`
	LockedAt  time.Time    `json:"locked_at,omitempty"`
	ExpiresAt time.Time    `json:"expires_at,omitempty"`
	Metadata  LockMetadata `json:"metadata"`
}

type CacheEntryMetadata struct {
	ScenePrompt   string  `json:"scene_prompt"`
	SegmentNumber int     `json:"segment_number"`
	Duration      float64 `json:"duration,omitempty"`
}

type CacheEntry struct {
	Hash      string             `json:"hash"`
	FilePath  string             `json:"file_path"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt time.Time          `json:"expires_at"`
	Metadata  CacheEntryMetadata `json:"metadata"`
}

type RunEventType string

const (
	EventRunCreated    RunEventType = "run_created"
	EventPhaseStarted  RunEventType = "phase_started"
	EventSegmentStatus RunEventType = "segment_status"
	EventProgress      RunEventType = "progress"
	EventRunCompleted  RunEventType = "run_completed"
	EventRunFailed     RunEventType = "run_failed"
)

type RunEvent struct {
	Seq     int64          `json:"seq"`
	VideoID string         `json:"video_id"`
	Type    RunEventType   `json:"type"`
	TS      time.Time      `json:"ts"`
	Payload map[string]any `json:"payload,omitempty"`
}
