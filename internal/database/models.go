package database

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// File is a cataloged media file.
type File struct {
	ID              string         `json:"id"`
	LocationID      string         `json:"locationId"`
	AbsolutePath    string         `json:"absolutePath"`
	RelativePath    string         `json:"relativePath"`
	Name            string         `json:"name"`
	Extension       string         `json:"extension"`
	Size            int64          `json:"size"`
	Width           int            `json:"width"`
	Height          int            `json:"height"`
	DateCreated     time.Time      `json:"dateCreated"`
	DateModified    time.Time      `json:"dateModified"`
	DateAdded       time.Time      `json:"dateAdded"`
	DateLastIndexed time.Time      `json:"dateLastIndexed"`
	Tags            []string       `json:"tags"`
	ExtraProperties map[string]any `json:"extraProperties"`
	Broken          bool           `json:"broken"`
}

// TagRow is a persisted tag.
type TagRow struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Color              string    `json:"color"`
	Description        string    `json:"description"`
	IsHidden           bool      `json:"isHidden"`
	IsVisibleInherited bool      `json:"isVisibleInherited"`
	IsHeader           bool      `json:"isHeader"`
	DateAdded          time.Time `json:"dateAdded"`
	FileCount          int       `json:"fileCount"`
	IsFileCountDirty   bool      `json:"isFileCountDirty"`
	ParentID           string    `json:"parentId"`
	Position           int       `json:"position"`
	Aliases            []string  `json:"aliases"`
}

// ImplicationRow is an edge "TagID implies ImpliedID".
type ImplicationRow struct {
	TagID     string `json:"tagId"`
	ImpliedID string `json:"impliedId"`
}

// PropertyType is the declared type of an extra property.
type PropertyType string

// Extra property types
const (
	PropertyNumber PropertyType = "number"
	PropertyText   PropertyType = "text"
)

// ExtraProperty is a user-defined file property.
type ExtraProperty struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      PropertyType `json:"type"`
	DateAdded time.Time    `json:"dateAdded"`
}

// PropertyValue is one stored extra property value.
type PropertyValue struct {
	FileID     string `json:"fileId"`
	PropertyID string `json:"propertyId"`
	Value      any    `json:"value"`
}

// SubLocation is a directory below a location.
type SubLocation struct {
	Name         string        `json:"name"`
	IsExcluded   bool          `json:"isExcluded"`
	Tags         []string      `json:"tags,omitempty"`
	SubLocations []SubLocation `json:"subLocations,omitempty"`
}

// Location is a watched root directory.
type Location struct {
	ID              string        `json:"id"`
	Path            string        `json:"path"`
	DateAdded       time.Time     `json:"dateAdded"`
	Index           int           `json:"index"`
	IsWatchingFiles bool          `json:"isWatchingFiles"`
	SubLocations    []SubLocation `json:"subLocations"`
}

// SavedSearch is a named, persisted query tree. RootGroup holds the
// encoded tree.
type SavedSearch struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Index     int             `json:"index"`
	RootGroup json.RawMessage `json:"rootGroup"`
}

// Snapshot is the full contents of the store, for export and import.
type Snapshot struct {
	Version         int              `json:"version"`
	Locations       []Location       `json:"locations"`
	Tags            []TagRow         `json:"tags"`
	Implications    []ImplicationRow `json:"implications"`
	ExtraProperties []ExtraProperty  `json:"extraProperties"`
	Files           []File           `json:"files"`
	SavedSearches   []SavedSearch    `json:"savedSearches"`
}

// Row is a file produced by a scan together with the value it was ordered
// by. The pair is what a Cursor resumes from.
type Row struct {
	File       File
	OrderValue any
}

// Cursor marks a position in an ordered scan. Scans resume strictly after
// (or before) it.
type Cursor struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// Counts are the global file counters.
type Counts struct {
	Total    int `json:"total"`
	Untagged int `json:"untagged"`
	Missing  int `json:"missing"`
}
