// Package archive reads the outer ar-container of a binary package archive
// and the tar-format member streams it holds, per spec.md §4.5 and §6's
// "archive format" description.
package archive

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/blakesmith/ar"
)

// Members holds the three ar entries of an archive in the order spec.md §6
// mandates: a version marker, the control metadata tarball, and the file
// payload tarball.
type Members struct {
	// VersionMarker is the verbatim content of the `debian-binary` member.
	VersionMarker string
	// Control is the (possibly gzip-compressed) control.tar member content.
	Control []byte
	// ControlCompressed reports whether Control is gzip-compressed.
	ControlCompressed bool
	// Data is the (possibly gzip-compressed) data.tar member content.
	Data []byte
	// DataCompressed reports whether Data is gzip-compressed.
	DataCompressed bool
}

// ReadContainer reads an archive's outer ar members from r. It accepts
// either `.tar` or `.tar.gz` variants of the control and data members,
// matching what real archives in the wild may use.
func ReadContainer(r io.Reader) (*Members, error) {
	m := &Members{}
	ra := ar.NewReader(r)
	for {
		hdr, err := ra.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading ar header: %w", err)
		}
		name := strings.TrimSpace(hdr.Name)
		switch {
		case name == "debian-binary":
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, ra); err != nil {
				return nil, fmt.Errorf("reading debian-binary: %w", err)
			}
			m.VersionMarker = buf.String()
		case strings.HasPrefix(name, "control.tar"):
			content := make([]byte, hdr.Size)
			if _, err := io.ReadFull(ra, content); err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
			m.Control = content
			m.ControlCompressed = strings.HasSuffix(name, ".gz")
		case strings.HasPrefix(name, "data.tar"):
			content := make([]byte, hdr.Size)
			if _, err := io.ReadFull(ra, content); err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
			m.Data = content
			m.DataCompressed = strings.HasSuffix(name, ".gz")
		}
	}
	if m.Control == nil {
		return nil, fmt.Errorf("archive: missing control.tar member")
	}
	if m.Data == nil {
		return nil, fmt.Errorf("archive: missing data.tar member")
	}
	return m, nil
}

// ControlReader returns a reader over the decompressed control tar stream.
func (m *Members) ControlReader() (io.Reader, error) {
	return decompress(m.Control, m.ControlCompressed)
}

// DataReader returns a reader over the decompressed data tar stream.
func (m *Members) DataReader() (io.Reader, error) {
	return decompress(m.Data, m.DataCompressed)
}

func decompress(content []byte, compressed bool) (io.Reader, error) {
	r := bytes.NewReader(content)
	if !compressed {
		return r, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	return gz, nil
}

// WriteContainer assembles an archive's ar members from control and data tar
// content, writing the standard three members in order. Used by tests to
// construct fixtures without shelling out to a packaging tool.
func WriteContainer(w io.Writer, control, data []byte) error {
	aw := ar.NewWriter(w)
	if err := aw.WriteGlobalHeader(); err != nil {
		return fmt.Errorf("writing ar global header: %w", err)
	}
	if err := writeMember(aw, "debian-binary", []byte("2.0\n")); err != nil {
		return err
	}
	if err := writeMember(aw, "control.tar.gz", control); err != nil {
		return err
	}
	if err := writeMember(aw, "data.tar.gz", data); err != nil {
		return err
	}
	return nil
}

func writeMember(w *ar.Writer, name string, body []byte) error {
	hdr := &ar.Header{
		Name:    name,
		Size:    int64(len(body)),
		Mode:    0644,
		ModTime: time.Now(),
	}
	if err := w.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing %s header: %w", name, err)
	}
	_, err := w.Write(body)
	if err != nil {
		return fmt.Errorf("writing %s body: %w", name, err)
	}
	return nil
}
