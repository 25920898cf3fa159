package toast

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Placement selects where the image is rendered.
type Placement string

const (
	PlacementBanner Placement = "banner"
	PlacementLogo   Placement = "logo"
)

// Image is a staged image referenced by the toast.
type Image struct {
	Path      string
	Placement Placement
}

// Payload is a fully built toast. XML is the ToastGeneric document handed to
// the Windows notifier; the remaining fields let other backends render the
// same notification.
type Payload struct {
	CorrelationID   string
	Title           string
	Message         string
	Image           *Image
	BodyArguments   string
	ButtonLabel     string
	ButtonArguments string
	XML             string
}

type toastDoc struct {
	XMLName        xml.Name   `xml:"toast"`
	Launch         string     `xml:"launch,attr"`
	ActivationType string     `xml:"activationType,attr"`
	Visual         visualDoc  `xml:"visual"`
	Actions        actionsDoc `xml:"actions"`
	Audio          audioDoc   `xml:"audio"`
}

type visualDoc struct {
	Binding bindingDoc `xml:"binding"`
}

type bindingDoc struct {
	Template string    `xml:"template,attr"`
	Texts    []string  `xml:"text"`
	Image    *imageDoc `xml:"image,omitempty"`
}

type imageDoc struct {
	Placement string `xml:"placement,attr"`
	Src       string `xml:"src,attr"`
	HintCrop  string `xml:"hint-crop,attr,omitempty"`
}

type actionsDoc struct {
	Actions []actionDoc `xml:"action"`
}

type actionDoc struct {
	Content        string `xml:"content,attr"`
	Arguments      string `xml:"arguments,attr"`
	ActivationType string `xml:"activationType,attr"`
}

type audioDoc struct {
	Src string `xml:"src,attr"`
}

const defaultSound = "ms-winsoundevent:Notification.Default"

func render(p *Payload) (string, error) {
	doc := toastDoc{
		Launch:         p.BodyArguments,
		ActivationType: "foreground",
		Visual: visualDoc{Binding: bindingDoc{
			Template: "ToastGeneric",
			Texts:    []string{p.Title, p.Message},
		}},
		Actions: actionsDoc{Actions: []actionDoc{{
			Content:        p.ButtonLabel,
			Arguments:      p.ButtonArguments,
			ActivationType: "foreground",
		}}},
		Audio: audioDoc{Src: defaultSound},
	}

	if p.Image != nil {
		img := &imageDoc{Placement: "hero", Src: fileURI(p.Image.Path)}
		if p.Image.Placement == PlacementLogo {
			img.Placement = "appLogoOverride"
			img.HintCrop = "circle"
		}
		doc.Visual.Binding.Image = img
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal toast xml: %w", err)
	}
	return string(out), nil
}

func fileURI(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// checkText rejects strings that cannot be represented in an XML 1.0
// document. encoding/xml would otherwise silently replace them.
func checkText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s is not valid UTF-8", field)
	}
	for _, r := range s {
		if !isXMLChar(r) {
			return fmt.Errorf("%s contains character %U not allowed in XML", field, r)
		}
	}
	return nil
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}
