// Package fieldlayout holds the known field-relative poses of every fiducial
// tag on the field. A Layout is immutable once built and safe for concurrent
// readers.
package fieldlayout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/banshee-data/fieldpose/internal/geom"
)

// maxLayoutFileSize bounds the layout file read from disk.
const maxLayoutFileSize = 1 * 1024 * 1024

// Tag is one fiducial and its field-relative pose.
type Tag struct {
	ID   int       `json:"ID"`
	Pose geom.Pose `json:"pose"`
}

// Field is the playing surface size in metres.
type Field struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
}

// Layout maps tag IDs to field poses.
type Layout struct {
	tags  map[int]geom.Pose
	field Field
}

type layoutFile struct {
	Tags  []Tag `json:"tags"`
	Field Field `json:"field"`
}

// New builds a layout from tags. Duplicate IDs are rejected.
func New(tags []Tag, field Field) (*Layout, error) {
	l := &Layout{
		tags:  make(map[int]geom.Pose, len(tags)),
		field: field,
	}
	for _, t := range tags {
		if _, dup := l.tags[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tag id %d in field layout", t.ID)
		}
		l.tags[t.ID] = t.Pose
	}
	return l, nil
}

// Lookup returns the field pose of tag id. ok is false for tags that are not
// on this field, which is an expected condition rather than an error.
func (l *Layout) Lookup(id int) (pose geom.Pose, ok bool) {
	pose, ok = l.tags[id]
	return pose, ok
}

// Tags returns every tag sorted by ID.
func (l *Layout) Tags() []Tag {
	out := make([]Tag, 0, len(l.tags))
	for id, pose := range l.tags {
		out = append(out, Tag{ID: id, Pose: pose})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tags in the layout.
func (l *Layout) Len() int {
	return len(l.tags)
}

// Field returns the field dimensions.
func (l *Layout) Field() Field {
	return l.field
}

// Parse decodes a layout in the WPILib AprilTag layout JSON format.
func Parse(data []byte) (*Layout, error) {
	var raw layoutFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse field layout JSON: %w", err)
	}
	return New(raw.Tags, raw.Field)
}

// Load reads a layout file from disk. The file must have a .json extension
// and be under 1MB.
func Load(path string) (*Layout, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("field layout file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat field layout file: %w", err)
	}
	if fileInfo.Size() > maxLayoutFileSize {
		return nil, fmt.Errorf("field layout file too large: %d bytes (max %d)", fileInfo.Size(), maxLayoutFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read field layout file: %w", err)
	}
	return Parse(data)
}

// MarshalJSON encodes the layout in the same format Parse accepts.
func (l *Layout) MarshalJSON() ([]byte, error) {
	return json.Marshal(layoutFile{Tags: l.Tags(), Field: l.field})
}
