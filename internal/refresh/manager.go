// Package refresh orchestrates playlist and EPG source lifecycles:
// ingestion, per-source coalesced refreshes, atomic catalog commits, and
// persistence.
//
// Concurrency model: any number of sources may refresh at once, but each
// source is serialized against itself. A refresh requested while one is
// already in flight for the same source joins the in-flight operation and
// shares its outcome — exactly one upstream fetch happens. Catalog reads
// never wait on a refresh; they see the last committed snapshot until the
// replacement commits.
package refresh

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oncue-tv/oncue/internal/catalog"
	"github.com/oncue-tv/oncue/internal/epg"
	"github.com/oncue-tv/oncue/internal/faults"
	"github.com/oncue-tv/oncue/internal/httpclient"
	"github.com/oncue-tv/oncue/internal/m3u"
	"github.com/oncue-tv/oncue/internal/metrics"
	"github.com/oncue-tv/oncue/internal/source"
	"github.com/oncue-tv/oncue/internal/store"
	"github.com/oncue-tv/oncue/internal/xmltv"
	"github.com/oncue-tv/oncue/internal/xtream"
)

type inflight struct {
	done chan struct{}
	err  error
}

// Manager owns the configured sources and the committed catalog/guide
// state built from them.
type Manager struct {
	log     zerolog.Logger
	fetcher *httpclient.Fetcher
	store   *store.Store
	secrets source.SecureStore
	catalog *catalog.Catalog
	now     func() time.Time

	mu          sync.Mutex
	sources     map[string]*source.PlaylistSource
	epgSources  map[string]*source.EPGSource
	guides      map[string]*epg.FetchResult // epg source id -> committed guide
	correlator  *epg.Correlator
	inflightSrc map[string]*inflight
	inflightEPG map[string]*inflight
}

// New builds a manager over the given collaborators.
func New(log zerolog.Logger, st *store.Store, secrets source.SecureStore, cat *catalog.Catalog, fetcher *httpclient.Fetcher) *Manager {
	if fetcher == nil {
		fetcher = &httpclient.Fetcher{}
	}
	return &Manager{
		log:         log,
		fetcher:     fetcher,
		store:       st,
		secrets:     secrets,
		catalog:     cat,
		now:         time.Now,
		sources:     make(map[string]*source.PlaylistSource),
		epgSources:  make(map[string]*source.EPGSource),
		guides:      make(map[string]*epg.FetchResult),
		correlator:  epg.NewCorrelator(&epg.FetchResult{}),
		inflightSrc: make(map[string]*inflight),
		inflightEPG: make(map[string]*inflight),
	}
}

// SetClock overrides the manager's time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Load restores sources, channels and guides from the store. Sources that
// were mid-refresh when the process died come back with IsRefreshing
// cleared.
func (m *Manager) Load() error {
	raw, err := m.store.List(store.PrefixSources)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, data := range raw {
		var s source.PlaylistSource
		if err := store.Decode(data, &s); err != nil {
			return fmt.Errorf("restore %s: %w", key, err)
		}
		s.IsRefreshing = false
		m.sources[s.ID] = &s

		var channels []catalog.Channel
		ok, err := m.store.Get(store.KeyChannels(s.ID), &channels)
		if err != nil {
			return err
		}
		if ok {
			m.catalog.ReplaceSource(s.ID, channels)
		}
	}
	rawEPG, err := m.store.List(store.PrefixEPGSources)
	if err != nil {
		return err
	}
	for key, data := range rawEPG {
		var es source.EPGSource
		if err := store.Decode(data, &es); err != nil {
			return fmt.Errorf("restore %s: %w", key, err)
		}
		es.IsRefreshing = false
		m.epgSources[es.ID] = &es

		var guide epg.FetchResult
		ok, err := m.store.Get(store.KeyEPG(es.ID), &guide)
		if err != nil {
			return err
		}
		if ok {
			m.guides[es.ID] = &guide
		}
	}
	m.rebuildCorrelatorLocked()
	return nil
}

// ── source CRUD ──────────────────────────────────────────────────────────────

// AddM3USource validates and registers a new m3u source. When the form
// carries an EPG URL, an associated EPG source is created alongside.
func (m *Manager) AddM3USource(form source.AddM3UForm) (source.PlaylistSource, error) {
	s, err := form.Source(m.now().Unix())
	if err != nil {
		return source.PlaylistSource{}, err
	}
	if err := m.store.Put(store.KeySource(s.ID), &s); err != nil {
		return source.PlaylistSource{}, err
	}
	m.mu.Lock()
	m.sources[s.ID] = &s
	m.mu.Unlock()

	if s.M3U.EPGURL != "" {
		es := source.EPGSource{
			ID:               source.NewID(),
			Name:             s.Name + " EPG",
			URL:              s.M3U.EPGURL,
			PlaylistSourceID: s.ID,
		}
		if err := m.store.Put(store.KeyEPGSource(es.ID), &es); err != nil {
			return source.PlaylistSource{}, err
		}
		m.mu.Lock()
		m.epgSources[es.ID] = &es
		m.mu.Unlock()
	}
	return s, nil
}

// AddXtreamSource validates and registers a new xtream source; the
// password goes straight to the secure store.
func (m *Manager) AddXtreamSource(form source.AddXtreamForm) (source.PlaylistSource, error) {
	s, password, err := form.Source(m.now().Unix())
	if err != nil {
		return source.PlaylistSource{}, err
	}
	if err := m.secrets.Put(source.CredentialKey(s.ID), password); err != nil {
		return source.PlaylistSource{}, err
	}
	if err := m.store.Put(store.KeySource(s.ID), &s); err != nil {
		return source.PlaylistSource{}, err
	}
	m.mu.Lock()
	m.sources[s.ID] = &s
	m.mu.Unlock()
	return s, nil
}

// AddEPGSource registers a standalone EPG feed.
func (m *Manager) AddEPGSource(name, url, playlistSourceID string) (source.EPGSource, error) {
	es := source.EPGSource{
		ID:               source.NewID(),
		Name:             name,
		URL:              url,
		PlaylistSourceID: playlistSourceID,
	}
	if es.Name == "" || es.URL == "" {
		return source.EPGSource{}, &faults.ValidationError{Field: "epg_source", Msg: "name and url required"}
	}
	if err := m.store.Put(store.KeyEPGSource(es.ID), &es); err != nil {
		return source.EPGSource{}, err
	}
	m.mu.Lock()
	m.epgSources[es.ID] = &es
	m.mu.Unlock()
	return es, nil
}

// RemoveSource deletes a playlist source and cascades to its channels and
// stored secrets. Associated EPG sources survive: the association is a
// lookup relation, not ownership.
func (m *Manager) RemoveSource(id string) error {
	m.mu.Lock()
	_, ok := m.sources[id]
	delete(m.sources, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such source %s", id)
	}
	m.catalog.RemoveSource(id)
	if err := m.store.Delete(store.KeySource(id)); err != nil {
		return err
	}
	if err := m.store.Delete(store.KeyChannels(id)); err != nil {
		return err
	}
	if err := m.secrets.Delete(source.CredentialKey(id)); err != nil {
		return err
	}
	metrics.CatalogChannels.DeleteLabelValues(id)
	return nil
}

// RemoveEPGSource deletes an EPG feed and its committed guide.
func (m *Manager) RemoveEPGSource(id string) error {
	m.mu.Lock()
	_, ok := m.epgSources[id]
	delete(m.epgSources, id)
	delete(m.guides, id)
	m.rebuildCorrelatorLocked()
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such epg source %s", id)
	}
	if err := m.store.Delete(store.KeyEPGSource(id)); err != nil {
		return err
	}
	return m.store.Delete(store.KeyEPG(id))
}

// Sources returns the playlist sources sorted by creation time.
func (m *Manager) Sources() []source.PlaylistSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]source.PlaylistSource, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// EPGSources returns the configured EPG feeds.
func (m *Manager) EPGSources() []source.EPGSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]source.EPGSource, 0, len(m.epgSources))
	for _, es := range m.epgSources {
		out = append(out, *es)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Source returns one playlist source record.
func (m *Manager) Source(id string) (source.PlaylistSource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return source.PlaylistSource{}, false
	}
	return *s, true
}

// ── refresh ──────────────────────────────────────────────────────────────────

// RefreshSource ingests a playlist source. Coalesced per source: if a
// refresh for id is already in flight this call waits for it and returns
// its outcome without starting a second fetch. A failed refresh records
// LastError on the source and leaves the previous catalog snapshot intact.
func (m *Manager) RefreshSource(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sources[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no such source %s", id)
	}
	if op, running := m.inflightSrc[id]; running {
		m.mu.Unlock()
		metrics.RefreshCoalesced.Inc()
		select {
		case <-op.done:
			return op.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	op := &inflight{done: make(chan struct{})}
	m.inflightSrc[id] = op
	s.IsRefreshing = true
	snapshot := *s
	m.mu.Unlock()
	_ = m.store.Put(store.KeySource(id), &snapshot)

	started := m.now()
	channels, result, err := m.ingest(ctx, &snapshot)
	op.err = err

	m.mu.Lock()
	s.IsRefreshing = false
	if err != nil {
		s.LastError = err.Error()
	} else {
		s.LastError = ""
		s.LastRefreshed = m.now().Unix()
		s.ChannelCount = len(channels)
		if s.Type == source.TypeXtream && result != nil {
			s.Xtream.ServerInfo = result.ServerInfo
			s.Xtream.UserInfo = result.UserInfo
		}
	}
	record := *s
	delete(m.inflightSrc, id)
	m.mu.Unlock()

	if err == nil {
		// Single commit: readers flip from the old snapshot to the new one
		// atomically; a failure above never reaches this point.
		m.catalog.ReplaceSource(id, channels)
		_ = m.store.Put(store.KeyChannels(id), channels)
		metrics.CatalogChannels.WithLabelValues(id).Set(float64(len(channels)))
	}
	_ = m.store.Put(store.KeySource(id), &record)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if faults.IsAuth(err) {
			metrics.AuthFailures.Inc()
		}
		m.log.Warn().Str("source_id", id).Str("type", string(record.Type)).Err(err).Msg("source refresh failed")
	} else {
		m.log.Info().Str("source_id", id).Str("type", string(record.Type)).
			Int("channels", len(channels)).Msg("source refreshed")
	}
	metrics.RefreshTotal.WithLabelValues(string(record.Type), outcome).Inc()
	metrics.RefreshDuration.Observe(m.now().Sub(started).Seconds())

	close(op.done)
	return err
}

// ingest fetches and parses one source without touching shared state.
func (m *Manager) ingest(ctx context.Context, s *source.PlaylistSource) ([]catalog.Channel, *xtream.Result, error) {
	switch s.Type {
	case source.TypeM3U:
		var data []byte
		var err error
		if s.M3U.URL != "" {
			data, err = m.fetcher.Fetch(ctx, s.M3U.URL)
		} else {
			data, err = os.ReadFile(s.M3U.LocalPath)
		}
		if err != nil {
			return nil, nil, err
		}
		channels, _, err := m3u.Parse(data, s.ID, m.log)
		return channels, nil, err
	case source.TypeXtream:
		password, ok, err := m.secrets.Get(source.CredentialKey(s.ID))
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, &faults.AuthError{Msg: "no stored credentials"}
		}
		client := &xtream.Client{
			Fetcher: m.fetcher,
			Creds: xtream.Credentials{
				ServerURL: s.Xtream.ServerURL,
				Username:  s.Xtream.Username,
				Password:  password,
			},
			OutputFormat: s.Xtream.OutputFormat,
		}
		result, err := client.FetchLive(ctx, s.ID)
		if err != nil {
			return nil, nil, err
		}
		return result.Channels, result, nil
	default:
		return nil, nil, fmt.Errorf("unknown source type %q", s.Type)
	}
}

// RefreshEPG ingests an EPG feed. All-or-nothing: a parse failure leaves
// the previously committed guide untouched. Coalesced per feed like
// playlist refreshes.
func (m *Manager) RefreshEPG(ctx context.Context, id string) error {
	m.mu.Lock()
	es, ok := m.epgSources[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no such epg source %s", id)
	}
	if op, running := m.inflightEPG[id]; running {
		m.mu.Unlock()
		metrics.RefreshCoalesced.Inc()
		select {
		case <-op.done:
			return op.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	op := &inflight{done: make(chan struct{})}
	m.inflightEPG[id] = op
	es.IsRefreshing = true
	url := es.URL
	m.mu.Unlock()

	data, err := m.fetcher.Fetch(ctx, url)
	var guide *epg.FetchResult
	if err == nil {
		guide, err = xmltv.Parse(data, m.now())
	}
	op.err = err

	m.mu.Lock()
	es.IsRefreshing = false
	if err != nil {
		es.LastError = err.Error()
	} else {
		es.LastError = ""
		es.LastRefreshed = m.now().Unix()
		m.guides[id] = guide
		m.rebuildCorrelatorLocked()
	}
	record := *es
	delete(m.inflightEPG, id)
	m.mu.Unlock()

	if err == nil {
		_ = m.store.Put(store.KeyEPG(id), guide)
		m.log.Info().Str("epg_source_id", id).
			Int("channels", len(guide.Channels)).Int("programs", len(guide.Programs)).
			Msg("epg refreshed")
	} else {
		m.log.Warn().Str("epg_source_id", id).Err(err).Msg("epg refresh failed")
	}
	_ = m.store.Put(store.KeyEPGSource(id), &record)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RefreshTotal.WithLabelValues("epg", outcome).Inc()

	close(op.done)
	return err
}

// RefreshAll refreshes every playlist and EPG source concurrently and
// returns the first error, if any.
func (m *Manager) RefreshAll(ctx context.Context) error {
	m.mu.Lock()
	srcIDs := make([]string, 0, len(m.sources))
	for id := range m.sources {
		srcIDs = append(srcIDs, id)
	}
	epgIDs := make([]string, 0, len(m.epgSources))
	for id := range m.epgSources {
		epgIDs = append(epgIDs, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(srcIDs)+len(epgIDs))
	for _, id := range srcIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.RefreshSource(ctx, id); err != nil {
				errCh <- err
			}
		}(id)
	}
	for _, id := range epgIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.RefreshEPG(ctx, id); err != nil {
				errCh <- err
			}
		}(id)
	}
	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// ── guide projection ─────────────────────────────────────────────────────────

// rebuildCorrelatorLocked merges all committed guides into one correlator.
// Caller holds m.mu.
func (m *Manager) rebuildCorrelatorLocked() {
	merged := &epg.FetchResult{}
	for _, g := range m.guides {
		merged.Channels = append(merged.Channels, g.Channels...)
		merged.Programs = append(merged.Programs, g.Programs...)
	}
	m.correlator = epg.NewCorrelator(merged)
}

// Correlator returns the current guide index. The returned value is
// immutable; a concurrent EPG commit swaps in a new one.
func (m *Manager) Correlator() *epg.Correlator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.correlator
}

// NowNext computes the now/next projection for a catalog channel.
func (m *Manager) NowNext(channelID string) (epg.NowNext, bool) {
	ch, ok := m.catalog.Lookup(channelID)
	if !ok {
		return epg.NowNext{}, false
	}
	return m.Correlator().NowNextFor(ch.TVGID, ch.TVGName, m.now().Unix()), true
}
