package telemetry

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// MergeFiles merges result logs produced by independent nodes into a single
// log written to dst. Within each cycle the virtual user count of every
// record becomes the sum over all nodes and thread ids are shifted so they
// stay unique. Run configuration is taken from the first log.
//
// Both passes stream their input; no log is held in memory.
func MergeFiles(dst io.Writer, paths []string) error {
	if len(paths) == 0 {
		return errors.New("no result logs to merge")
	}

	perFile := make([]map[int]int, len(paths))
	for i, path := range paths {
		cycles, err := scanCycles(path)
		if err != nil {
			return err
		}
		perFile[i] = cycles
	}

	totals := make(map[int]int)
	offsets := make([]map[int]int, len(paths))
	for i, cycles := range perFile {
		offsets[i] = make(map[int]int, len(cycles))
		for cycle := range cycles {
			offsets[i][cycle] = totals[cycle]
		}
		for cycle, cvus := range cycles {
			totals[cycle] += cvus
		}
	}

	enc := xml.NewEncoder(dst)
	for i, path := range paths {
		m := merger{
			enc:     enc,
			first:   i == 0,
			nodes:   len(paths),
			totals:  totals,
			offsets: offsets[i],
		}
		if err := m.copyFile(path); err != nil {
			return err
		}
	}
	if err := enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: ElemRoot}}); err != nil {
		return err
	}
	if err := enc.EncodeToken(xml.CharData("\n")); err != nil {
		return err
	}
	return enc.Flush()
}

func scanCycles(path string) (map[int]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cycles := make(map[int]int)
	dec := xml.NewDecoder(f)
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return cycles, nil
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 1 && isRecordElement(t.Name.Local) {
				cycle := attrInt(t.Attr, "cycle", NoCycle)
				if cvus := attrInt(t.Attr, "cvus", 0); cvus > cycles[cycle] {
					cycles[cycle] = cvus
				}
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("scan %s: %w", path, err)
				}
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
}

type merger struct {
	enc     *xml.Encoder
	first   bool
	nodes   int
	totals  map[int]int
	offsets map[int]int
}

func (m merger) copyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("merge %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				depth++
				if !m.first {
					continue
				}
				if err := m.enc.EncodeToken(t.Copy()); err != nil {
					return err
				}
				if err := m.emitNodes(); err != nil {
					return err
				}
				continue
			}
			if depth == 1 && t.Name.Local == ElemConfig && !m.first {
				if err := dec.Skip(); err != nil {
					return fmt.Errorf("merge %s: %w", path, err)
				}
				continue
			}
			if depth == 1 && isRecordElement(t.Name.Local) {
				t = m.rewrite(t)
			}
			depth++
			if err := m.enc.EncodeToken(t.Copy()); err != nil {
				return err
			}
		case xml.EndElement:
			depth--
			if depth == 0 {
				continue
			}
			if err := m.enc.EncodeToken(t); err != nil {
				return err
			}
			if depth == 1 {
				if err := m.enc.EncodeToken(xml.CharData("\n")); err != nil {
					return err
				}
			}
		case xml.CharData:
			if depth <= 1 {
				continue
			}
			if err := m.enc.EncodeToken(t.Copy()); err != nil {
				return err
			}
		}
	}
}

func (m merger) emitNodes() error {
	if err := m.enc.EncodeToken(xml.CharData("\n")); err != nil {
		return err
	}
	if m.nodes < 2 {
		return nil
	}
	start := xml.StartElement{
		Name: xml.Name{Local: ElemConfig},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "key"}, Value: "nodes"},
			{Name: xml.Name{Local: "value"}, Value: strconv.Itoa(m.nodes)},
		},
	}
	if err := m.enc.EncodeToken(start); err != nil {
		return err
	}
	if err := m.enc.EncodeToken(start.End()); err != nil {
		return err
	}
	return m.enc.EncodeToken(xml.CharData("\n"))
}

func (m merger) rewrite(t xml.StartElement) xml.StartElement {
	cycle := attrInt(t.Attr, "cycle", NoCycle)
	attrs := make([]xml.Attr, len(t.Attr))
	copy(attrs, t.Attr)
	for i, a := range attrs {
		switch a.Name.Local {
		case "cvus":
			attrs[i].Value = fmt.Sprintf("%03d", m.totals[cycle])
		case "thread_id":
			if n, err := strconv.Atoi(a.Value); err == nil {
				attrs[i].Value = fmt.Sprintf("%03d", n+m.offsets[cycle])
			}
		}
	}
	t.Attr = attrs
	return t
}

func isRecordElement(name string) bool {
	return name == ElemRecord || name == ElemLegacyTest || name == ElemLegacyResponse
}

func attrInt(attrs []xml.Attr, name string, def int) int {
	for _, a := range attrs {
		if a.Name.Local == name {
			if n, err := strconv.Atoi(a.Value); err == nil {
				return n
			}
			return def
		}
	}
	return def
}
