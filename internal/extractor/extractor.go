// Package extractor turns a raw pptx payload into an ordered Deck.
//
// A pptx file is an OOXML zip package. Slide order comes from the sldIdLst
// of ppt/presentation.xml, resolved through the package relationships; the
// zip entry order and slide file names carry no meaning. Within a slide,
// each text-bearing shape contributes its paragraphs in encounter order, and
// multi-line shape text is split into independent sections. The first
// section of every slide is that slide's title.
package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"pptxplainer/internal/domain"
)

// ErrInvalidFormat marks payloads that are not a well-formed pptx package.
var ErrInvalidFormat = errors.New("not a valid pptx package")

const (
	presentationPart     = "ppt/presentation.xml"
	presentationRelsPart = "ppt/_rels/presentation.xml.rels"
)

type presentationXML struct {
	SlideIDs []slideIDXML `xml:"sldIdLst>sldId"`
}

type slideIDXML struct {
	RelID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
}

type relationshipsXML struct {
	Relationships []relationshipXML `xml:"Relationship"`
}

type relationshipXML struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
}

type slideXML struct {
	Shapes []shapeXML `xml:"cSld>spTree>sp"`
}

type shapeXML struct {
	TextBody *textBodyXML `xml:"txBody"`
}

type textBodyXML struct {
	Paragraphs []paragraphXML `xml:"p"`
}

type paragraphXML struct {
	Text string
}

// UnmarshalXML flattens a paragraph into its rendered text. Runs and fields
// contribute their a:t content in document order, and a:br soft line breaks
// become newlines so text on either side stays on separate lines.
func (p *paragraphXML) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder

	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var text string
				if err = d.DecodeElement(&text, &t); err != nil {
					return err
				}
				b.WriteString(text)
			case "br":
				b.WriteString("\n")
				if err = d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if t.Name == start.Name {
				p.Text = b.String()
				return nil
			}
		}
	}
}

// Extract parses the payload into a Deck. Slides that yield no text are
// dropped entirely; they never appear as empty placeholders.
func Extract(payload []byte) (domain.Deck, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[f.Name] = f
	}

	slideParts, err := slidePartNames(parts)
	if err != nil {
		return nil, err
	}

	var deck domain.Deck
	for _, name := range slideParts {
		sections, err := slideSections(parts, name)
		if err != nil {
			return nil, err
		}
		if len(sections) == 0 {
			continue
		}

		deck = append(deck, domain.Slide{
			Title:    sections[0],
			Sections: sections[1:],
		})
	}

	return deck, nil
}

// slidePartNames resolves the ordered slide part names from the presentation
// part and its relationships.
func slidePartNames(parts map[string]*zip.File) ([]string, error) {
	presData, err := readPart(parts, presentationPart)
	if err != nil {
		return nil, err
	}

	var pres presentationXML
	if err = xml.Unmarshal(presData, &pres); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidFormat, presentationPart, err)
	}

	relsData, err := readPart(parts, presentationRelsPart)
	if err != nil {
		return nil, err
	}

	var rels relationshipsXML
	if err = xml.Unmarshal(relsData, &rels); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidFormat, presentationRelsPart, err)
	}

	targets := make(map[string]string, len(rels.Relationships))
	for _, rel := range rels.Relationships {
		targets[rel.ID] = rel.Target
	}

	names := make([]string, 0, len(pres.SlideIDs))
	for _, slideID := range pres.SlideIDs {
		target, ok := targets[slideID.RelID]
		if !ok {
			return nil, fmt.Errorf("%w: unresolved slide relationship %q",
				ErrInvalidFormat, slideID.RelID)
		}

		names = append(names, resolveTarget(target))
	}

	return names, nil
}

// resolveTarget turns a relationship target into a zip part name. Targets are
// relative to the ppt/ directory unless they start with a slash.
func resolveTarget(target string) string {
	if strings.HasPrefix(target, "/") {
		return path.Clean(strings.TrimPrefix(target, "/"))
	}

	return path.Clean(path.Join("ppt", target))
}

// slideSections collects the non-empty text sections of one slide in shape
// and line encounter order.
func slideSections(parts map[string]*zip.File, name string) ([]string, error) {
	data, err := readPart(parts, name)
	if err != nil {
		return nil, err
	}

	var slide slideXML
	if err = xml.Unmarshal(data, &slide); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidFormat, name, err)
	}

	var sections []string
	for _, shape := range slide.Shapes {
		if shape.TextBody == nil {
			continue
		}

		lines := make([]string, 0, len(shape.TextBody.Paragraphs))
		for _, paragraph := range shape.TextBody.Paragraphs {
			lines = append(lines, paragraph.Text)
		}

		shapeText := strings.Join(lines, "\n")
		for _, section := range strings.Split(shapeText, "\n") {
			if strings.TrimSpace(section) == "" {
				continue
			}

			sections = append(sections, section)
		}
	}

	return sections, nil
}

func readPart(parts map[string]*zip.File, name string) ([]byte, error) {
	f, ok := parts[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing part %s", ErrInvalidFormat, name)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open part %s: %v", ErrInvalidFormat, name, err)
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read part %s: %v", ErrInvalidFormat, name, err)
	}

	return data, nil
}
