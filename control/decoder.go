package control

import (
	"bufio"
	"io"
	"strings"
)

// Decoder reads successive paragraphs (records) from a control-file-format
// byte stream: fields "Name: value", continuation lines beginning with
// whitespace, paragraphs separated by a blank line.
type Decoder struct {
	sc   *bufio.Scanner
	done bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{sc: sc}
}

// Next reads and returns the next record. It returns io.EOF when the stream
// is exhausted.
func (d *Decoder) Next() (*Record, error) {
	if d.done {
		return nil, io.EOF
	}

	rec := &Record{}
	var curName string
	var curValue strings.Builder
	haveField := false
	sawAnyLine := false

	flush := func() {
		if haveField {
			rec.Entries = append(rec.Entries, Entry{
				Name:  CanonicalFieldName(curName),
				Value: strings.TrimRight(curValue.String(), "\n"),
			})
			haveField = false
			curValue.Reset()
		}
	}

	for d.sc.Scan() {
		line := d.sc.Text()

		if strings.TrimSpace(line) == "" {
			// Blank line: paragraph boundary.
			if !sawAnyLine {
				continue // skip leading blank lines between paragraphs
			}
			flush()
			return rec, nil
		}
		sawAnyLine = true

		if line[0] == ' ' || line[0] == '\t' {
			// Continuation line. A lone "." marks an empty line in the value.
			trimmed := strings.TrimSpace(line)
			if trimmed == "." {
				curValue.WriteString("\n")
			} else {
				curValue.WriteString("\n" + strings.TrimPrefix(strings.TrimPrefix(line, " "), "\t"))
			}
			continue
		}

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue // malformed line outside a field; ignore rather than abort
		}
		flush()
		curName = strings.TrimSpace(line[:idx])
		curValue.WriteString(strings.TrimSpace(line[idx+1:]))
		haveField = true
	}

	if err := d.sc.Err(); err != nil {
		return nil, err
	}

	d.done = true
	if !sawAnyLine {
		return nil, io.EOF
	}
	flush()
	return rec, nil
}

// DecodeAll reads every record in the stream.
func DecodeAll(r io.Reader) ([]*Record, error) {
	dec := NewDecoder(r)
	var out []*Record
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
