package models

import (
	"encoding/json"
	"strings"
)

// RecordingFileExt is appended to the recording key to form its filename
const RecordingFileExt = ".json"

// SessionRecording is one captured browsing session for a site version.
// The (Version, SessionID) pair is its identity; every write replaces the stored snapshot in full.
type SessionRecording struct {
	SessionID string                 `json:"sessionId"`
	Version   string                 `json:"version"`
	StartTime int64                  `json:"startTime"`         // Unix milliseconds
	EndTime   *int64                 `json:"endTime,omitempty"` // Unix milliseconds, absent while the session is live
	Events    []json.RawMessage      `json:"events"`            // Opaque to the store
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// RecordingMetadata is the listing projection of a SessionRecording.
// It is recomputed from the stored recording on every listing pass.
type RecordingMetadata struct {
	Filename   string                 `json:"filename"`
	SessionID  string                 `json:"sessionId"`
	Version    string                 `json:"version"`
	StartTime  int64                  `json:"startTime"`
	EndTime    *int64                 `json:"endTime,omitempty"`
	Duration   int64                  `json:"duration"`
	EventCount int                    `json:"eventCount"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// StoredRecording describes where an upsert landed
type StoredRecording struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// RecordingKey builds the stable storage key for a (version, sessionId) pair
func RecordingKey(version, sessionID string) string {
	return version + "_" + sessionID
}

// RecordingFilename returns the deterministic filename for a key
func RecordingFilename(key string) string {
	return key + RecordingFileExt
}

// KeyFromFilename strips the recording extension. ok is false for non-recording names.
func KeyFromFilename(name string) (string, bool) {
	if !strings.HasSuffix(name, RecordingFileExt) || strings.HasPrefix(name, ".") {
		return "", false
	}
	key := strings.TrimSuffix(name, RecordingFileExt)
	return key, key != ""
}

// Key returns the recording's storage key
func (r *SessionRecording) Key() string {
	return RecordingKey(r.Version, r.SessionID)
}

// Duration is endTime - startTime, or 0 while endTime is absent
func (r *SessionRecording) Duration() int64 {
	if r.EndTime == nil {
		return 0
	}
	return *r.EndTime - r.StartTime
}

// Project derives the listing metadata for this recording
func (r *SessionRecording) Project(filename string) RecordingMetadata {
	return RecordingMetadata{
		Filename:   filename,
		SessionID:  r.SessionID,
		Version:    r.Version,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Duration:   r.Duration(),
		EventCount: len(r.Events),
		Metadata:   r.Metadata,
	}
}

// RecordingUpdate is pushed to live dashboards whenever a recording snapshot changes
type RecordingUpdate struct {
	Type      string `json:"type"` // "recording_updated"
	Key       string `json:"key"`
	Version   string `json:"version,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Source    string `json:"source"` // "local", "relay", "watcher"
	Timestamp int64  `json:"timestamp"`
}

// SplitRecordingKey recovers version and sessionId from a key.
// Versions containing "_" make the split ambiguous; the first separator wins.
func SplitRecordingKey(key string) (version, sessionID string, ok bool) {
	idx := strings.Index(key, "_")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}
