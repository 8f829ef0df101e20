// Package publications provides a client for the external publication
// source: a paginated list endpoint returning raw records plus a per-record
// document download endpoint.
package publications

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// RawRecord is the mapped, bounded form of one upstream publication record.
// It is transient: the resolver turns it into catalog rows, it is never
// persisted as-is.
type RawRecord struct {
	Title         string
	Abstract      string
	DOI           string
	PublishedYear int
	VenueTitle    string
	ISSN          string
	EISSN         string
	Publisher     string
	Volume        int
	IssueNumber   int
	Pages         string
	Language      string
	Keywords      []string
	Authors       []RawAuthor
	Documents     []DocumentRef
}

// RawAuthor is one author name from the upstream record. Exactly one per
// record should be marked corresponding; when none is, the first author is
// treated as corresponding downstream.
type RawAuthor struct {
	Name          string
	Corresponding bool
}

// DocumentRef points at a downloadable artifact attached to the record.
type DocumentRef struct {
	URL  string
	Kind string
}

// CorrespondingAuthor returns the name of the corresponding author, falling
// back to the first listed author. Empty when the record has no authors.
func (r *RawRecord) CorrespondingAuthor() string {
	for _, a := range r.Authors {
		if a.Corresponding {
			return a.Name
		}
	}
	if len(r.Authors) > 0 {
		return r.Authors[0].Name
	}
	return ""
}

// CoAuthorNames returns every author name except the corresponding one,
// in upstream order.
func (r *RawRecord) CoAuthorNames() []string {
	primary := r.CorrespondingAuthor()
	var names []string
	seen := false
	for _, a := range r.Authors {
		if !seen && a.Name == primary {
			seen = true
			continue
		}
		names = append(names, a.Name)
	}
	return names
}

// Page is one fetched page of raw records. Fetched is the number of records
// on the wire before filtering, which can exceed len(Records) when unusable
// records are dropped; callers must advance offsets by Fetched.
type Page struct {
	Records []RawRecord
	Fetched int
	Total   int
	HasMore bool
}

// listResponse is the wire shape of the upstream list endpoint.
type listResponse struct {
	Total   int         `json:"total"`
	Count   int         `json:"count"`
	Results []apiRecord `json:"results"`
}

// apiRecord mirrors the upstream payload. The upstream is loosely typed:
// numbers arrive as numbers or strings depending on the record's age, and
// most fields are optional.
type apiRecord struct {
	Title     string        `json:"title"`
	Abstract  string        `json:"abstract"`
	DOI       string        `json:"doi"`
	Year      flexInt       `json:"year"`
	Journal   apiJournal    `json:"journal"`
	Volume    flexInt       `json:"volume"`
	Issue     flexInt       `json:"issue"`
	Pages     string        `json:"pages"`
	Language  string        `json:"language"`
	Keywords  []string      `json:"keywords"`
	Authors   []apiAuthor   `json:"authors"`
	Documents []apiDocument `json:"documents"`
}

type apiJournal struct {
	Title     string `json:"title"`
	ISSN      string `json:"issn"`
	EISSN     string `json:"eissn"`
	Publisher string `json:"publisher"`
}

type apiAuthor struct {
	Name          string `json:"name"`
	Corresponding bool   `json:"corresponding"`
}

type apiDocument struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// flexInt decodes a JSON number, a numeric string, or null into an int.
// Anything unparseable decodes to zero rather than failing the page.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// MarshalJSON keeps flexInt symmetric for test fixtures.
func (f flexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(f))
}
