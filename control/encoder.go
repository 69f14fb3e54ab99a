package control

import (
	"fmt"
	"io"
	"strings"
)

// Encoder writes records to a control-file-format byte stream: known fields
// in the fixed registry order, unknown (carry-over) fields in their
// original relative order, each record terminated by a blank line.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one record. A field is omitted when its value is empty.
func (e *Encoder) Encode(rec *Record) error {
	written := make(map[Field]bool)

	writeField := func(name Field, value string) error {
		if value == "" {
			return nil
		}
		if err := e.writeEntry(name, value); err != nil {
			return err
		}
		written[name] = true
		return nil
	}

	for _, name := range registryOrder {
		if v, ok := rec.Get(name); ok {
			if err := writeField(name, v); err != nil {
				return err
			}
		}
	}

	for _, entry := range rec.Entries {
		canon := CanonicalFieldName(string(entry.Name))
		if written[canon] {
			continue
		}
		isKnown := false
		for _, name := range registryOrder {
			if name == canon {
				isKnown = true
				break
			}
		}
		if isKnown {
			continue // already emitted (or empty and skipped) above
		}
		if err := writeField(canon, entry.Value); err != nil {
			return err
		}
	}

	_, err := fmt.Fprint(e.w, "\n")
	return err
}

func (e *Encoder) writeEntry(name Field, value string) error {
	switch name {
	case FieldDescription:
		return e.writeDescription(value)
	case FieldConffiles:
		return e.writeConffiles(value)
	}
	_, err := fmt.Fprintf(e.w, "%s: %s\n", name, value)
	return err
}

// writeDescription handles the multi-line synopsis/extended-description
// convention: first line is the value as-is, subsequent lines are indented
// by one space, and a blank logical line is emitted as a lone ".".
func (e *Encoder) writeDescription(value string) error {
	lines := strings.Split(value, "\n")
	if _, err := fmt.Fprintf(e.w, "%s: %s\n", FieldDescription, lines[0]); err != nil {
		return err
	}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			if _, err := fmt.Fprint(e.w, " .\n"); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(e.w, " %s\n", line); err != nil {
			return err
		}
	}
	return nil
}

// writeConffiles emits the multi-line Conffiles field: a bare "Conffiles:"
// header line followed by one indented "<path> <hash>" continuation line
// per entry, matching original_source/lib/dump.c's w_conffiles.
func (e *Encoder) writeConffiles(value string) error {
	if _, err := fmt.Fprintf(e.w, "%s:\n", FieldConffiles); err != nil {
		return err
	}
	for _, line := range strings.Split(value, "\n") {
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintf(e.w, " %s\n", line); err != nil {
			return err
		}
	}
	return nil
}
