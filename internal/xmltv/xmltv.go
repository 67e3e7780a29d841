// Package xmltv parses XMLTV guide feeds.
//
// Unlike the per-entry-tolerant M3U parse, an XMLTV parse is all-or-nothing:
// a malformed programme, an unparseable timestamp, or an unknown document
// encoding fails the whole fetch. Partial guide data is worse than none for
// the now/next computation, so nothing short of a clean parse is committed.
package xmltv

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/oncue-tv/oncue/internal/epg"
	"github.com/oncue-tv/oncue/internal/faults"
)

// Parse decodes an XMLTV document into guide channels and programs with
// start/stop normalized to unix seconds regardless of the feed's timezone
// offset notation.
func Parse(data []byte, now time.Time) (*epg.FetchResult, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader

	result := &epg.FetchResult{FetchedAt: now.Unix()}
	sawRoot := false
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &faults.ParseError{Format: "xmltv", Msg: "decode", Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "tv":
			sawRoot = true
		case "channel":
			gc, err := decodeChannel(dec, &se)
			if err != nil {
				return nil, err
			}
			if gc.ID != "" {
				result.Channels = append(result.Channels, gc)
			}
		case "programme":
			p, err := decodeProgramme(dec, &se)
			if err != nil {
				return nil, err
			}
			result.Programs = append(result.Programs, p)
		default:
			if sawRoot {
				if err := dec.Skip(); err != nil && !errors.Is(err, io.EOF) {
					return nil, &faults.ParseError{Format: "xmltv", Msg: "skip " + se.Name.Local, Err: err}
				}
			}
		}
	}
	if !sawRoot {
		return nil, &faults.ParseError{Format: "xmltv", Msg: "root <tv> element not found"}
	}
	return result, nil
}

type xmlChannel struct {
	ID           string   `xml:"id,attr"`
	DisplayNames []string `xml:"display-name"`
	Icon         struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
}

func decodeChannel(dec *xml.Decoder, se *xml.StartElement) (epg.GuideChannel, error) {
	var node xmlChannel
	if err := dec.DecodeElement(&node, se); err != nil {
		return epg.GuideChannel{}, &faults.ParseError{Format: "xmltv", Msg: "channel element", Err: err}
	}
	gc := epg.GuideChannel{ID: strings.TrimSpace(node.ID), IconURL: node.Icon.Src}
	for _, dn := range node.DisplayNames {
		if name := strings.TrimSpace(dn); name != "" {
			gc.DisplayName = name
			break
		}
	}
	return gc, nil
}

type xmlProgramme struct {
	Start      string `xml:"start,attr"`
	Stop       string `xml:"stop,attr"`
	Channel    string `xml:"channel,attr"`
	Title      string `xml:"title"`
	Desc       string `xml:"desc"`
	Categories []string `xml:"category"`
	Icon       struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
	EpisodeNums []struct {
		System string `xml:"system,attr"`
		Value  string `xml:",chardata"`
	} `xml:"episode-num"`
	Rating struct {
		Value string `xml:"value"`
	} `xml:"rating"`
}

func decodeProgramme(dec *xml.Decoder, se *xml.StartElement) (epg.Program, error) {
	var node xmlProgramme
	if err := dec.DecodeElement(&node, se); err != nil {
		return epg.Program{}, &faults.ParseError{Format: "xmltv", Msg: "programme element", Err: err}
	}
	channelID := strings.TrimSpace(node.Channel)
	if channelID == "" {
		return epg.Program{}, &faults.ParseError{Format: "xmltv", Msg: "programme without channel attribute"}
	}
	start, err := ParseTime(node.Start)
	if err != nil {
		return epg.Program{}, &faults.ParseError{Format: "xmltv", Msg: "programme start " + strconv.Quote(node.Start), Err: err}
	}
	end, err := ParseTime(node.Stop)
	if err != nil {
		return epg.Program{}, &faults.ParseError{Format: "xmltv", Msg: "programme stop " + strconv.Quote(node.Stop), Err: err}
	}
	if start >= end {
		return epg.Program{}, &faults.ParseError{
			Format: "xmltv",
			Msg:    fmt.Sprintf("programme on %s has start >= stop", channelID),
		}
	}
	p := epg.Program{
		ID:          channelID + "@" + strconv.FormatInt(start, 10),
		ChannelID:   channelID,
		Title:       strings.TrimSpace(node.Title),
		Description: strings.TrimSpace(node.Desc),
		Start:       start,
		End:         end,
		IconURL:     node.Icon.Src,
		Rating:      strings.TrimSpace(node.Rating.Value),
	}
	if len(node.Categories) > 0 {
		p.Category = strings.TrimSpace(node.Categories[0])
	}
	for _, en := range node.EpisodeNums {
		applyEpisodeNum(&p, en.System, strings.TrimSpace(en.Value))
	}
	return p, nil
}

// applyEpisodeNum fills season/episode from the common systems:
// xmltv_ns "season.episode.part" (zero-based) and onscreen "SxxEyy".
func applyEpisodeNum(p *epg.Program, system, value string) {
	if value == "" {
		return
	}
	switch strings.ToLower(system) {
	case "xmltv_ns":
		parts := strings.Split(value, ".")
		if len(parts) >= 1 {
			if n, err := strconv.Atoi(strings.TrimSpace(strings.Split(parts[0], "/")[0])); err == nil {
				p.Season = n + 1
			}
		}
		if len(parts) >= 2 {
			if n, err := strconv.Atoi(strings.TrimSpace(strings.Split(parts[1], "/")[0])); err == nil {
				p.EpisodeNumber = n + 1
			}
		}
	default:
		if p.Episode == "" {
			p.Episode = value
		}
	}
}

// xmltv timestamp layouts, most specific first. Feeds without an offset
// are treated as UTC.
var timeLayouts = []string{
	"20060102150405 -0700",
	"20060102150405 -07:00",
	"20060102150405",
	"200601021504 -0700",
	"200601021504",
	"20060102",
}

// ParseTime normalizes an XMLTV timestamp to unix seconds.
func ParseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unsupported timestamp %q", s)
}

// charsetReader accepts the encodings XMLTV feeds actually use. Anything
// else fails the fetch.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	case "iso-8859-1", "latin1", "windows-1252":
		return &latin1Reader{r: input}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", charset)
	}
}

// latin1Reader transcodes ISO-8859-1 bytes to UTF-8. Windows-1252 is read
// as latin1; the C1 range differences do not occur in guide text we care
// about preserving byte-exactly.
type latin1Reader struct {
	r   io.Reader
	buf [1024]byte
}

func (l *latin1Reader) Read(p []byte) (int, error) {
	max := len(p) / 2
	if max > len(l.buf) {
		max = len(l.buf)
	}
	if max == 0 {
		max = 1
	}
	n, err := l.r.Read(l.buf[:max])
	out := 0
	for _, b := range l.buf[:n] {
		if b < 0x80 {
			p[out] = b
			out++
		} else {
			p[out] = 0xC0 | b>>6
			p[out+1] = 0x80 | b&0x3F
			out += 2
		}
	}
	return out, err
}
