package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// Network values accepted by the remote for the network metadata key.
const (
	NetworkPublic  = "public"
	NetworkPrivate = "private"
)

// Metadata is the per-upload metadata carried on the creation request.
type Metadata struct {
	Filename  string
	Filetype  string
	Network   string
	GroupID   string
	KeyValues map[string]string
}

// Encode renders the metadata as the creation request's Upload-Metadata
// header value: comma-separated "key base64(value)" pairs. Empty values
// are omitted; keyvalues is serialized as a base64-encoded JSON object.
// Keys are emitted in a fixed order so the header is deterministic.
func (m Metadata) Encode() (string, error) {
	pairs := make([]string, 0, 5)

	add := func(key, value string) {
		if value == "" {
			return
		}
		enc := base64.StdEncoding.EncodeToString([]byte(value))
		pairs = append(pairs, key+" "+enc)
	}

	add("filename", m.Filename)
	add("filetype", m.Filetype)
	add("network", m.Network)
	add("group_id", m.GroupID)

	if len(m.KeyValues) > 0 {
		raw, err := json.Marshal(m.KeyValues)
		if err != nil {
			return "", fmt.Errorf("failed to marshal keyvalues: %w", err)
		}
		add("keyvalues", string(raw))
	}

	return strings.Join(pairs, ","), nil
}

// DecodeMetadata parses an Upload-Metadata header value back into a key
// to value map. Used by tests and by callers inspecting a server echo.
func DecodeMetadata(header string) (map[string]string, error) {
	out := make(map[string]string)
	if header == "" {
		return out, nil
	}
	for _, pair := range strings.Split(header, ",") {
		fields := strings.SplitN(strings.TrimSpace(pair), " ", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed metadata pair %q", pair)
		}
		raw, err := base64.StdEncoding.DecodeString(fields[1])
		if err != nil {
			return nil, fmt.Errorf("metadata key %s: %w", fields[0], err)
		}
		out[fields[0]] = string(raw)
	}
	return out, nil
}

// DetectFiletype infers a MIME type from the file name's extension,
// falling back to application/octet-stream.
func DetectFiletype(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		// Strip any charset parameter; the remote wants a bare type.
		if i := strings.Index(t, ";"); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		return t
	}
	return "application/octet-stream"
}
