// Package m3u parses M3U playlists into catalog channels.
//
// The parse is deliberately tolerant and line-oriented: one malformed entry
// is logged and skipped without aborting the rest of the playlist. Unknown
// EXTINF attributes are preserved verbatim on the channel — dropping a
// well-formed attribute we don't recognize is treated as a defect.
package m3u

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/oncue-tv/oncue/internal/catalog"
	"github.com/oncue-tv/oncue/internal/metrics"
)

const maxLineSize = 1 << 20 // 1 MiB per line

// Attributes the catalog maps onto typed Channel fields; everything else
// lands in Channel.Attrs.
const (
	attrTVGID      = "tvg-id"
	attrTVGName    = "tvg-name"
	attrTVGLogo    = "tvg-logo"
	attrTVGChNo    = "tvg-chno"
	attrGroupTitle = "group-title"
)

// Parse scans data and returns the channels and derived groups for
// sourceID. An entry is a URL line preceded by an #EXTINF directive; a URL
// line with no directive synthesizes a channel named after the URL.
func Parse(data []byte, sourceID string, log zerolog.Logger) ([]catalog.Channel, []catalog.ChannelGroup, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(nil, maxLineSize)

	var channels []catalog.Channel
	var extinf string
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || line == "#EXTM3U" || strings.HasPrefix(line, "#EXTM3U "):
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			extinf = line
			continue
		case strings.HasPrefix(line, "#"):
			// Other directives (#EXTGRP, #EXTVLCOPT, ...) are not entry
			// terminators; keep the pending EXTINF.
			continue
		}
		ch := channelFromEntry(extinf, line, sourceID, lineNo, log)
		channels = append(channels, ch)
		extinf = ""
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return channels, deriveGroups(channels), nil
}

func channelFromEntry(extinf, url, sourceID string, lineNo int, log zerolog.Logger) catalog.Channel {
	ch := catalog.Channel{
		ID:       stableID(url, extinf),
		URL:      url,
		SourceID: sourceID,
	}
	if extinf == "" {
		// No directive: synthesize with the URL as the name.
		ch.Name = url
		return ch
	}
	name, attrs, warns := parseEXTINF(extinf)
	for _, w := range warns {
		metrics.ParseWarnings.WithLabelValues("m3u").Inc()
		log.Warn().Int("line", lineNo).Str("source_id", sourceID).Msg(w)
	}
	ch.Name = name
	if ch.Name == "" {
		ch.Name = url
	}
	for key, val := range attrs {
		switch key {
		case attrTVGID:
			ch.TVGID = val
		case attrTVGName:
			ch.TVGName = val
		case attrTVGLogo:
			ch.LogoURL = val
		case attrGroupTitle:
			ch.Group = val
		case attrTVGChNo:
			n, err := strconv.Atoi(val)
			if err != nil {
				metrics.ParseWarnings.WithLabelValues("m3u").Inc()
				log.Warn().Int("line", lineNo).Str("source_id", sourceID).
					Msgf("malformed %s %q", attrTVGChNo, val)
				continue
			}
			ch.ChannelNumber = n
		default:
			if ch.Attrs == nil {
				ch.Attrs = make(map[string]string)
			}
			ch.Attrs[key] = val
		}
	}
	return ch
}

// parseEXTINF splits "#EXTINF:<duration> key="value" ...,Name" into the
// display name and the attribute map. Malformed duration or attribute
// syntax is reported as a warning, never an error: the entry is kept with
// whatever parsed cleanly.
func parseEXTINF(line string) (name string, attrs map[string]string, warns []string) {
	attrs = make(map[string]string)
	rest := strings.TrimPrefix(line, "#EXTINF:")
	if idx := strings.LastIndex(rest, ","); idx >= 0 {
		name = strings.TrimSpace(rest[idx+1:])
		rest = rest[:idx]
	}

	rest = strings.TrimSpace(rest)
	// Leading duration token, e.g. "-1" or "12.5".
	dur := rest
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		dur = rest[:i]
		rest = strings.TrimSpace(rest[i+1:])
	} else {
		rest = ""
	}
	if dur != "" {
		if _, err := strconv.ParseFloat(dur, 64); err != nil {
			warns = append(warns, "malformed EXTINF duration "+strconv.Quote(dur))
		}
	}

	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			warns = append(warns, "malformed EXTINF attribute near "+strconv.Quote(rest))
			break
		}
		before := strings.TrimSpace(rest[:eq])
		key := before
		if idx := strings.LastIndex(before, " "); idx >= 0 {
			key = strings.TrimSpace(before[idx+1:])
		}
		rest = strings.TrimSpace(rest[eq+1:])
		if len(rest) < 2 {
			warns = append(warns, "unterminated EXTINF attribute "+strconv.Quote(key))
			break
		}
		quote := rest[0]
		if quote != '"' && quote != '\'' {
			warns = append(warns, "unquoted EXTINF attribute "+strconv.Quote(key))
			break
		}
		rest = rest[1:]
		end := strings.IndexByte(rest, quote)
		if end < 0 {
			warns = append(warns, "unterminated EXTINF attribute "+strconv.Quote(key))
			break
		}
		attrs[strings.ToLower(key)] = rest[:end]
		rest = rest[end+1:]
	}
	return name, attrs, warns
}

func deriveGroups(channels []catalog.Channel) []catalog.ChannelGroup {
	byID := make(map[string]*catalog.ChannelGroup)
	var order []string
	for _, ch := range channels {
		if ch.Group == "" {
			continue
		}
		id := catalog.GroupID(ch.SourceID, ch.Group)
		g, ok := byID[id]
		if !ok {
			g = &catalog.ChannelGroup{ID: id, Name: ch.Group, SourceID: ch.SourceID}
			byID[id] = g
			order = append(order, id)
		}
		g.ChannelCount++
	}
	out := make([]catalog.ChannelGroup, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

func stableID(url, extinf string) string {
	h := uint64(0)
	for _, c := range url {
		h = h*31 + uint64(c)
	}
	for _, c := range extinf {
		h = h*31 + uint64(c)
	}
	return "ch_" + strconv.FormatUint(h, 10)
}
