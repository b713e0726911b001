package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type TrackReference struct {
	ExternalID       string `json:"external_id"`
	Title            string `json:"title"`
	Artist           string `json:"artist"`
	ExpectedDuration int    `json:"expected_duration,omitempty"`
	ArtworkURL       string `json:"artwork_url,omitempty"`
	CollectionID     string `json:"collection_id,omitempty"`
	CollectionName   string `json:"collection_name,omitempty"`
}

func (r TrackReference) HasExpectedDuration() bool {
	return r.ExpectedDuration > 0
}

func (r TrackReference) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return fmt.Errorf("external id is required")
	}

	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required for %s", r.ExternalID)
	}

	if strings.TrimSpace(r.Artist) == "" {
		return fmt.Errorf("artist is required for %s", r.ExternalID)
	}

	if r.ExpectedDuration < 0 {
		return fmt.Errorf("expected duration of %s must not be negative", r.ExternalID)
	}

	return nil
}

func (r TrackReference) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("external_id", r.ExternalID).
		Str("title", r.Title).
		Str("artist", r.Artist).
		Int("expected_duration", r.ExpectedDuration).
		Str("collection_id", r.CollectionID)
}

type Candidate struct {
	SourceID        string `json:"source_id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Provider        string `json:"provider,omitempty"`
}

func (c Candidate) HasDuration() bool {
	return c.DurationSeconds > 0
}

// DurationDelta is the absolute difference to expected seconds.
func (c Candidate) DurationDelta(expected int) int {
	d := c.DurationSeconds - expected
	if d < 0 {
		return -d
	}

	return d
}

type Artifact struct {
	ExternalID      string    `json:"external_id"`
	Path            string    `json:"path"`
	ArtworkPath     string    `json:"artwork_path,omitempty"`
	Title           string    `json:"title"`
	Artist          string    `json:"artist"`
	DurationSeconds int       `json:"duration_seconds"`
	Container       Container `json:"container"`
	Tier            string    `json:"tier"`
	CollectionID    string    `json:"collection_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type Collection struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ArtifactIDs  []string `json:"artifact_ids"`
	CoverPath    string   `json:"cover_path,omitempty"`
	PlaylistPath string   `json:"playlist_path,omitempty"`
}
