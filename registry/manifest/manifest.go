// Package manifest describes asset sets stored in a content-addressable storage.
//
// A manifest is a JSON object mapping logical paths to entries:
//
//	{
//	  // comments are allowed
//	  "css/style.css": {"integrity": "sha256-...", "size": 1234, "mime_type": "text/css"}
//	}
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/registry"
)

// Manifest describes the JSON manifest file format.
type Manifest map[string]ManifestEntry

// ManifestEntry describes a single asset in the manifest.
type ManifestEntry struct {
	// Integrity is a string or a list of strings containing the expected SRI digests of the asset.
	// See https://developer.mozilla.org/en-US/docs/Web/Security/Subresource_Integrity
	// When a list is used, only one digest per algorithm is allowed.
	// The digests must all be of the same data.
	Integrity json.RawMessage `json:"integrity"`
	// Size of the asset in bytes. Together with a checksum it forms the CAS digest.
	Size *int64 `json:"size"`
	// MIMEType is optional. If empty, it is detected from the path and content.
	MIMEType string `json:"mime_type,omitempty"`
}

// DecodeError is returned for manifests that are not well-formed JSON of the expected shape.
type DecodeError struct {
	Err error
}

func (e DecodeError) Error() string {
	return "decoding manifest: " + e.Err.Error()
}

func (e DecodeError) Unwrap() error {
	return e.Err
}

// Decode reads a manifest, allowing comments and trailing commas.
func Decode(r io.Reader) (Manifest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(raw)))
	decoder.DisallowUnknownFields()
	var m Manifest
	if err := decoder.Decode(&m); err != nil {
		return nil, DecodeError{Err: err}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode writes the manifest as indented JSON with sorted keys.
func (m Manifest) Encode(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(m)
}

func (m Manifest) validate() error {
	if len(m) == 0 {
		return errors.New("empty manifest")
	}
	issues := []string{}
	for _, path := range m.paths() {
		entry := m[path]
		issuesForPath := []string{}
		if err := registry.ValidatePath(path); err != nil {
			issuesForPath = append(issuesForPath, err.Error())
		}
		sriList, err := entry.integrityStrings()
		if err != nil {
			issuesForPath = append(issuesForPath, err.Error())
		} else if len(sriList) == 0 {
			issuesForPath = append(issuesForPath, `"integrity" may not be empty`)
		} else if _, err := integrity.IntegrityFromString(sriList...); err != nil {
			issuesForPath = append(issuesForPath, err.Error())
		}
		if entry.Size == nil {
			issuesForPath = append(issuesForPath, `"size" must be provided`)
		} else if *entry.Size < 0 {
			issuesForPath = append(issuesForPath, `"size" must be a non-negative integer`)
		}
		if len(issuesForPath) > 0 {
			issues = append(issues, path+": "+strings.Join(issuesForPath, ", "))
		}
	}
	if len(issues) > 0 {
		return errors.New("manifest validation failed: \n  " + strings.Join(issues, "\n  "))
	}
	return nil
}

func (m Manifest) paths() []string {
	paths := make([]string, 0, len(m))
	for path := range m {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

func (e ManifestEntry) integrityStrings() ([]string, error) {
	var integrity []string
	var singleIntegrity string
	if err := json.Unmarshal(e.Integrity, &integrity); err == nil {
		// already a list
	} else if err := json.Unmarshal(e.Integrity, &singleIntegrity); err == nil {
		integrity = []string{singleIntegrity}
	} else {
		return nil, errors.New(`"integrity" must be a string or a list of strings`)
	}
	return integrity, nil
}

// ParsedIntegrity parses the integrity field of a validated entry.
func (e ManifestEntry) ParsedIntegrity() (integrity.Integrity, error) {
	sriList, err := e.integrityStrings()
	if err != nil {
		return integrity.Integrity{}, err
	}
	return integrity.IntegrityFromString(sriList...)
}

// NewEntry builds an entry from parsed values.
func NewEntry(i integrity.Integrity, size int64, mimeType string) ManifestEntry {
	var integrityJSON []byte
	var sriList []string
	for checksum := range i.Items() {
		sriList = append(sriList, checksum.ToSRI())
	}
	if len(sriList) == 1 {
		integrityJSON, _ = json.Marshal(sriList[0])
	} else {
		integrityJSON, _ = json.Marshal(sriList)
	}
	return ManifestEntry{
		Integrity: integrityJSON,
		Size:      &size,
		MIMEType:  mimeType,
	}
}

func (e ManifestEntry) String() string {
	size := "?"
	if e.Size != nil {
		size = fmt.Sprint(*e.Size)
	}
	return fmt.Sprintf("%s (%s bytes)", e.Integrity, size)
}
