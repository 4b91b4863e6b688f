package ingest

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"strings"

	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/types"
)

// parseForIdentity parses raw in its declared format into a flat
// key/value document usable for identity-purpose field extraction and
// mapping. It is deliberately shallow: it is not a full schema decoder,
// only enough structure to drive raw_path lookups for normalization rules.
func parseForIdentity(format types.RawFormat, raw []byte) (map[string]any, error) {
	switch format {
	case types.FormatJSON:
		return parseJSON(raw)
	case types.FormatCSV:
		return parseCSV(raw)
	case types.FormatXML:
		return parseXML(raw)
	default:
		return nil, &errs.UnparseableInput{Format: string(format), Reason: "no identity parser registered for this format"}
	}
}

func parseJSON(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &errs.UnparseableInput{Format: string(types.FormatJSON), Reason: err.Error()}
	}
	return doc, nil
}

// parseCSV treats the first row as a header and the second as the single
// record's values — the raw-intake protocol is one observation per call,
// never a batch.
func parseCSV(raw []byte) (map[string]any, error) {
	r := csv.NewReader(strings.NewReader(string(raw)))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, &errs.UnparseableInput{Format: string(types.FormatCSV), Reason: err.Error()}
	}
	if len(rows) != 2 {
		return nil, &errs.UnparseableInput{Format: string(types.FormatCSV), Reason: "expected a header row and exactly one data row"}
	}
	header, data := rows[0], rows[1]
	doc := make(map[string]any, len(header))
	for i, col := range header {
		if i < len(data) {
			doc[col] = data[i]
		}
	}
	return doc, nil
}

// xmlField is a single flattened leaf element, used to decode an
// arbitrary-shape document without a fixed schema.
type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type xmlDoc struct {
	XMLName xml.Name
	Fields  []xmlField `xml:",any"`
}

// parseXML flattens a single-level-nested XML document into a map keyed by
// element local name. Nested structure beyond one level is not represented
// — XML sources are expected to carry a flat field set for identity
// purposes, per the mapping rules declared against them.
func parseXML(raw []byte) (map[string]any, error) {
	var doc xmlDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, &errs.UnparseableInput{Format: string(types.FormatXML), Reason: err.Error()}
	}
	out := make(map[string]any, len(doc.Fields))
	for _, f := range doc.Fields {
		out[f.XMLName.Local] = strings.TrimSpace(f.Value)
	}
	return out, nil
}

// getPath reads a dot-separated path from a nested map[string]any document.
func getPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath writes a dot-separated path into a nested map[string]any
// document, creating intermediate maps as needed.
func setPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// extractLineageLinks reads an optional "lineage_links" array off a parsed
// raw document into typed LineageLink values. Entries missing a recognized
// shape are skipped rather than erroring here — lineage.ValidateLinks is
// the single place that rejects a malformed or untyped link.
func extractLineageLinks(parsed map[string]any) []types.LineageLink {
	raw, ok := parsed["lineage_links"].([]any)
	if !ok {
		return nil
	}
	links := make([]types.LineageLink, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		links = append(links, types.LineageLink{
			Type:          types.LineageType(asString(m["type"])),
			TargetEventID: asString(m["target_event_id"]),
			Evidence:      asString(m["evidence"]),
			Version:       asString(m["version"]),
		})
	}
	return links
}

// asString renders v as a string the way canonical field values are
// represented for identity-key purposes: numbers and bools get their
// default Go formatting, strings pass through unchanged.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}
