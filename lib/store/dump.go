package store

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/sKV/lib/value"
	"gopkg.in/yaml.v3"
)

// DumpFormat selects the output format of Dump.
type DumpFormat string

const (
	DumpText DumpFormat = "text"
	DumpYAML DumpFormat = "yaml"
)

type dumpEntry struct {
	Key   string `yaml:"key"`
	Type  string `yaml:"type"`
	Value any    `yaml:"value"`
}

type dumpPartition struct {
	Name    string      `yaml:"name"`
	Entries []dumpEntry `yaml:"entries"`
}

type dumpDoc struct {
	Global dumpPartition `yaml:"global"`
	Save   dumpPartition `yaml:"save"`
}

// Dump writes both in-memory partitions to w. The partitions are copied
// under the lock, writing happens outside of it.
func (s *Store) Dump(w io.Writer, format DumpFormat) error {
	s.mu.Lock()
	slot := s.activeSlot
	global := s.global.Snapshot()
	save := s.save.Snapshot()
	s.mu.Unlock()

	saveName := slot
	if saveName == "" {
		saveName = "No active save file"
	}

	switch format {
	case DumpText, "":
		if err := dumpText(w, "[Global Data]", global); err != nil {
			return err
		}
		return dumpText(w, fmt.Sprintf("[Save Data For : %s]", saveName), save)
	case DumpYAML:
		doc := dumpDoc{
			Global: dumpPartition{Name: "global", Entries: toDumpEntries(global)},
			Save:   dumpPartition{Name: slot, Entries: toDumpEntries(save)},
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return NewError(RetCInvalidArgument, fmt.Sprintf("unknown dump format %q", format))
	}
}

func dumpText(w io.Writer, title string, entries []value.Entry) error {
	if _, err := fmt.Fprintf(w, "--- %s ---\n", title); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "  %s  %s  %s\n", e.Key, e.Value.Type(), e.Value.Format()); err != nil {
			return err
		}
	}
	return nil
}

func toDumpEntries(entries []value.Entry) []dumpEntry {
	out := make([]dumpEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, dumpEntry{Key: e.Key, Type: e.Value.Type().String(), Value: e.Value.Any()})
	}
	return out
}
