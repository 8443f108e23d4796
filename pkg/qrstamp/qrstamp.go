// Package qrstamp renders the provenance QR badge stamped into every
// map document: scan it and you get the source file, its digest and the
// generation time, even from a printout of the map.
package qrstamp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"image/color"
	"io"

	qrcode "github.com/skip2/go-qrcode"
)

// Options tune the badge. Zero values pick a white-on-dark 256 px code
// at medium recovery, readable at report-footer size.
type Options struct {
	SizePx int
	Fg     color.RGBA
	Bg     color.RGBA
}

func (o *Options) fill() {
	if o.SizePx <= 0 {
		o.SizePx = 256
	}
	if (o.Fg == color.RGBA{}) {
		o.Fg = color.RGBA{0x1a, 0x1a, 0x1a, 0xff}
	}
	if (o.Bg == color.RGBA{}) {
		o.Bg = color.RGBA{0xff, 0xff, 0xff, 0xff}
	}
}

// EncodePNG writes the QR for payload as PNG.
func EncodePNG(w io.Writer, payload string, opt Options) error {
	if payload == "" {
		return fmt.Errorf("empty QR payload")
	}
	opt.fill()

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("build QR: %w", err)
	}
	qr.ForegroundColor = opt.Fg
	qr.BackgroundColor = opt.Bg

	png, err := qr.PNG(opt.SizePx)
	if err != nil {
		return fmt.Errorf("render QR: %w", err)
	}
	_, err = w.Write(png)
	return err
}

// DataURI returns the badge as an inline image source, ready for an
// <img src=…> in a self-contained HTML document.
func DataURI(payload string, opt Options) (template.URL, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, payload, opt); err != nil {
		return "", err
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}
