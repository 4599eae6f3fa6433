package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/roomdag/internal/event"
)

// LoadEvents reads events from path: a YAML list when the file ends in
// .yaml or .yml, JSON Lines otherwise. Events without an event_id get
// their reference hash.
func LoadEvents(path string) ([]*event.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return parseYAMLEvents(data)
	default:
		return parseJSONLines(data)
	}
}

func parseJSONLines(data []byte) ([]*event.Event, error) {
	var out []*event.Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		ev, err := decodeEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseYAMLEvents(data []byte) ([]*event.Event, error) {
	var docs []map[string]any
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	out := make([]*event.Event, 0, len(docs))
	for i, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		ev, err := decodeEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeEvent(raw []byte) (*event.Event, error) {
	var ev event.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.PrevEvents == nil {
		ev.PrevEvents = event.IDList{}
	}
	if ev.AuthEvents == nil {
		ev.AuthEvents = event.IDList{}
	}
	if ev.ID == "" {
		id, err := event.ReferenceID(&ev)
		if err != nil {
			return nil, err
		}
		ev.ID = id
	}
	return &ev, nil
}
