// Package models provides data model definitions for StorySync.
package models

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
)

// Story is a user-submitted story as returned by the story service and
// mirrored into the local collections.
type Story struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description"`
	PhotoURL    string     `json:"photoUrl,omitempty"`
	Lat         *float64   `json:"lat,omitempty"`
	Lon         *float64   `json:"lon,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CachedAt    *time.Time `json:"cachedAt,omitempty"` // Cache only
	SavedAt     *time.Time `json:"savedAt,omitempty"`  // Favorites only
	IsPending   bool       `json:"isPending,omitempty"`
}

// Location is a story's optional geolocation.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location returns the story's location, or nil when it has none.
func (s *Story) Location() *Location {
	if s.Lat == nil || s.Lon == nil {
		return nil
	}
	return &Location{Lat: *s.Lat, Lon: *s.Lon}
}

// Clone returns a copy that shares no pointers with s.
func (s *Story) Clone() *Story {
	c := *s
	if s.Lat != nil {
		v := *s.Lat
		c.Lat = &v
	}
	if s.Lon != nil {
		v := *s.Lon
		c.Lon = &v
	}
	if s.CachedAt != nil {
		v := *s.CachedAt
		c.CachedAt = &v
	}
	if s.SavedAt != nil {
		v := *s.SavedAt
		c.SavedAt = &v
	}
	return &c
}

// NewStory is the input of a create-story submission.
type NewStory struct {
	Description string
	Photo       []byte
	// PhotoName is the upload filename; defaults to "photo.jpg".
	PhotoName string
	Lat       *float64
	Lon       *float64
}

// Validate checks the required fields.
func (n *NewStory) Validate() error {
	if strings.TrimSpace(n.Description) == "" || len(n.Photo) == 0 {
		return fmt.Errorf("description and photo are required")
	}
	if (n.Lat == nil) != (n.Lon == nil) {
		return fmt.Errorf("lat and lon must be provided together")
	}
	return nil
}

// Float returns a pointer to v, for optional coordinates.
func Float(v float64) *float64 {
	return &v
}

const tempIDPrefix = "temp_"

var tempIDPattern = regexp.MustCompile(`^temp_\d+_\d+$`)

// NewTempID returns a client-side id of the form temp_<unix-millis>_<0..9999>
// for a story that has not reached the server yet.
func NewTempID(now time.Time) string {
	return fmt.Sprintf("%s%d_%d", tempIDPrefix, now.UnixMilli(), rand.IntN(10000))
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return tempIDPattern.MatchString(id)
}

// PendingPhotoURL is the photo URL given to a pending story whose photo only
// exists in the local binary store.
func PendingPhotoURL(tempID string) string {
	return "pending://" + tempID
}
