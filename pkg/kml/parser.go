// Package kml extracts location records from a KML geolocation export.
//
// The parser is a streaming pipeline: one goroutine walks the XML token
// stream and cuts out raw <Placemark> envelopes, a bounded pool of
// workers turns envelopes into validated records, and the caller-facing
// result is reassembled in document order no matter how the workers were
// scheduled. Broken placemarks are skipped with one warning each; only a
// document that is not KML at all, or not well formed, fails the run.
package kml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
)

// ParseError is the fatal parse failure: the named document is not
// usable as KML. Per-placemark trouble never produces one.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

var errNotKML = errors.New("no KML structure recognized")

// Config controls one parse run. Workers <= 0 means one worker per CPU.
// Logf receives exactly one line per skipped placemark and may be nil.
type Config struct {
	Workers int
	Logf    func(format string, args ...any)
}

// Result is the outcome of a successful parse. Records are in document
// order. Skipped counts dropped placemarks, Undated the kept records
// without a usable timestamp.
type Result struct {
	Records []locations.Record
	Skipped int
	Undated int
}

// rawPlacemark is one <Placemark> subtree cut out of the token stream,
// leaves still unparsed. seq is the 1-based document position.
type rawPlacemark struct {
	seq    int
	name   string
	when   string
	coords string
	desc   string
	fields [][2]string
}

type outcome struct {
	seq    int
	rec    locations.Record
	ok     bool
	name   string
	reason string
}

// ParseFile opens path and parses it. The open failure is reported as a
// plain error so the caller can tell an unreadable file from a broken one.
func ParseFile(ctx context.Context, path string, cfg Config) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open KML: %w", err)
	}
	defer f.Close()
	return Parse(ctx, f, path, cfg)
}

// Parse reads one KML document from r. path only labels errors and log
// lines. Output order equals document order.
func Parse(ctx context.Context, r io.Reader, path string, cfg Config) (Result, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	envelopes := make(chan rawPlacemark, workers)
	outcomes := make(chan outcome, workers)
	tokErr := make(chan error, 1)

	go func() {
		defer close(envelopes)
		tokErr <- tokenize(ctx, r, envelopes)
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for env := range envelopes {
				select {
				case outcomes <- decode(env):
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	all := make([]outcome, 0, 256)
	for out := range outcomes {
		all = append(all, out)
	}
	if err := <-tokErr; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, &ParseError{Path: path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Workers finish in arbitrary order; the document order comes back
	// here, and so does the deterministic order of the skip warnings.
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	var res Result
	res.Records = make([]locations.Record, 0, len(all))
	for _, out := range all {
		if !out.ok {
			res.Skipped++
			label := out.name
			if label == "" {
				label = "unnamed"
			}
			logf("placemark #%d (%s) skipped: %s", out.seq, label, out.reason)
			continue
		}
		if !out.rec.TimeValid {
			res.Undated++
		}
		res.Records = append(res.Records, out.rec)
	}
	return res, nil
}

// ========================
// Token stream walker
// ========================

// tokenize cuts placemark envelopes out of the XML stream. It returns
// errNotKML when the document never showed a KML root, and the decoder
// error verbatim when the XML itself is broken. A well-formed KML with
// zero placemarks is fine here; the caller decides what an empty result
// means.
func tokenize(ctx context.Context, r io.Reader, out chan<- rawPlacemark) error {
	dec := xml.NewDecoder(r)

	var (
		sawKML      bool
		inPlacemark bool
		inPoint     bool
		seq         int
		cur         rawPlacemark
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("XML decode: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "kml", "Document", "Folder":
				sawKML = true
			case "Placemark":
				sawKML = true
				seq++
				inPlacemark = true
				cur = rawPlacemark{seq: seq}
			case "name":
				if inPlacemark {
					_ = dec.DecodeElement(&cur.name, &el)
				}
			case "when":
				if inPlacemark {
					_ = dec.DecodeElement(&cur.when, &el)
				}
			case "description":
				if inPlacemark {
					_ = dec.DecodeElement(&cur.desc, &el)
				}
			case "Point":
				if inPlacemark {
					inPoint = true
				}
			case "coordinates":
				// Only the Point geometry carries the record position;
				// LineString and polygon outlines are not placemark fixes.
				if inPlacemark && inPoint && cur.coords == "" {
					_ = dec.DecodeElement(&cur.coords, &el)
				}
			case "Data":
				if inPlacemark {
					var d struct {
						Name  string `xml:"name,attr"`
						Value string `xml:"value"`
					}
					_ = dec.DecodeElement(&d, &el)
					if strings.TrimSpace(d.Name) != "" {
						cur.fields = append(cur.fields, [2]string{
							strings.TrimSpace(d.Name), strings.TrimSpace(d.Value),
						})
					}
				}
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "Point":
				inPoint = false
			case "Placemark":
				if inPlacemark {
					inPlacemark = false
					select {
					case out <- cur:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	}

	if !sawKML {
		return errNotKML
	}
	return nil
}

// ========================
// Envelope decoding
// ========================

func decode(env rawPlacemark) outcome {
	out := outcome{seq: env.seq, name: strings.TrimSpace(env.name)}

	coords := strings.TrimSpace(env.coords)
	if coords == "" {
		out.reason = "no coordinates"
		return out
	}
	parts := strings.Split(coords, ",")
	if len(parts) < 2 {
		out.reason = fmt.Sprintf("coordinates %q not lon,lat", coords)
		return out
	}
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLon != nil || errLat != nil {
		out.reason = fmt.Sprintf("coordinates %q not numeric", coords)
		return out
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		out.reason = fmt.Sprintf("coordinates out of range (lat=%v, lon=%v)", lat, lon)
		return out
	}

	rec := locations.Record{
		Name:        out.name,
		Lat:         lat,
		Lon:         lon,
		Description: stripMarkup(env.desc),
	}
	if t, ok := parseWhen(env.when); ok {
		rec.Time = t
		rec.TimeValid = true
	}
	if len(env.fields) > 0 {
		rec.Fields = make(map[string]string, len(env.fields))
		for _, kv := range env.fields {
			rec.Fields[kv[0]] = kv[1]
		}
	}

	out.rec = rec
	out.ok = true
	return out
}

// whenLayouts are the timestamp shapes seen in forensic exports: full
// RFC 3339, the same without a zone (taken as UTC) and a bare date.
var whenLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseWhen normalizes a <when> value to UTC at whole seconds. An
// unrecognized value leaves the record undated rather than dropping it.
func parseWhen(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range whenLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), true
		}
	}
	return time.Time{}, false
}

// stripMarkup flattens the HTML fragments forensic tools stuff into
// <description> down to plain text: tags removed, entities decoded,
// whitespace collapsed.
func stripMarkup(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsRune(s, '<') {
		var b strings.Builder
		b.Grow(len(s))
		inTag := false
		for _, r := range s {
			switch {
			case r == '<':
				inTag = true
			case r == '>':
				inTag = false
				b.WriteByte(' ')
			case !inTag:
				b.WriteRune(r)
			}
		}
		s = b.String()
	}
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}
