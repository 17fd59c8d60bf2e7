// Package store implements the local posting store: a hot in-memory index
// in front of immutable on-disk segments. Deletions are applied to memory
// immediately and recorded as tombstones against segments, in memory and in
// a log beside them, until the next compaction rewrites them.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/store/segment"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// Index owns the memory index, the segment readers and the tombstones.
//
// mu guards readers and the memory/flush handoff: ordinary reads and writes
// hold it shared, Flush and Compact hold it exclusively.
type Index struct {
	mu      sync.RWMutex
	mem     *index.MemoryIndex
	writer  *segment.Writer
	readers []*segment.Reader

	// Tombstones record, per term and per (term, doc), how many of the
	// current readers they mask. Readers at a position >= the recorded
	// value were written after the deletion and stay visible.
	tombMu    sync.Mutex
	deadTerms map[ring.Hash]int
	deadDocs  map[ring.Hash]map[string]int
	tombs     *tombstoneLog

	cfg    config.StoreConfig
	logger *slog.Logger
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	HotTerms   int   `json:"hot_terms"`
	HotBytes   int64 `json:"hot_bytes"`
	Segments   int   `json:"segments"`
	Tombstones int   `json:"tombstones"`
}

func Open(cfg config.StoreConfig) (*Index, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store data directory: %w", err)
	}
	ix := &Index{
		mem:       index.NewMemoryIndex(),
		writer:    segment.NewWriter(cfg.DataDir),
		deadTerms: make(map[ring.Hash]int),
		deadDocs:  make(map[ring.Hash]map[string]int),
		cfg:       cfg,
		logger:    slog.Default().With("component", "posting-store"),
	}
	if err := ix.loadExistingSegments(); err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	tombs, records, err := openTombstoneLog(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	ix.tombs = tombs
	ix.replayTombstones(records)
	return ix, nil
}

// Fast is the RAM-only view used for the first selection phase.
func (ix *Index) Fast() *View {
	return &View{ix: ix, full: false}
}

// Full is the view over memory and every segment.
func (ix *Index) Full() *View {
	return &View{ix: ix, full: true}
}

// AddDocument indexes text under docID in the hot index, flushing to disk
// once the hot index exceeds the configured size.
func (ix *Index) AddDocument(docID string, text string) error {
	ix.mu.RLock()
	terms := ix.mem.AddDocument(docID, text)
	size := ix.mem.Size()
	ix.mu.RUnlock()
	ix.logger.Debug("document indexed in memory",
		"doc_id", docID,
		"terms", terms,
		"mem_size", size,
	)
	return ix.maybeFlush(size)
}

// AddPostings merges postings for one term into the hot index.
func (ix *Index) AddPostings(termHash ring.Hash, postings index.PostingList) error {
	ix.mu.RLock()
	ix.mem.AddPostings(termHash, postings)
	size := ix.mem.Size()
	ix.mu.RUnlock()
	return ix.maybeFlush(size)
}

func (ix *Index) maybeFlush(size int64) error {
	if ix.cfg.SegmentMaxSize <= 0 || size < ix.cfg.SegmentMaxSize {
		return nil
	}
	ix.logger.Info("memory index reached max size, flushing to disk",
		"size", size,
		"threshold", ix.cfg.SegmentMaxSize,
	)
	if err := ix.Flush(); err != nil {
		return fmt.Errorf("flushing memory index: %w", err)
	}
	return nil
}

// RemovePosting deletes one posting from memory and masks it on disk.
func (ix *Index) RemovePosting(termHash ring.Hash, docID string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.mem.RemovePosting(termHash, docID)
	if len(ix.readers) == 0 {
		return nil
	}
	ix.tombMu.Lock()
	docs, ok := ix.deadDocs[termHash]
	if !ok {
		docs = make(map[string]int)
		ix.deadDocs[termHash] = docs
	}
	docs[docID] = len(ix.readers)
	err := ix.tombs.append(tombstone{Term: termHash, Doc: docID, Through: ix.newestSegmentLocked()})
	ix.tombMu.Unlock()
	return err
}

// RemoveTermGroup drops every posting of termHash.
func (ix *Index) RemoveTermGroup(termHash ring.Hash) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.mem.RemoveTermGroup(termHash)
	if len(ix.readers) == 0 {
		return nil
	}
	ix.tombMu.Lock()
	ix.deadTerms[termHash] = len(ix.readers)
	delete(ix.deadDocs, termHash)
	err := ix.tombs.append(tombstone{Term: termHash, Through: ix.newestSegmentLocked()})
	ix.tombMu.Unlock()
	return err
}

// RemovePostings deletes exactly docIDs from termHash and reports how many of
// them were present anywhere in the store.
func (ix *Index) RemovePostings(termHash ring.Hash, docIDs map[string]struct{}) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	present, err := ix.mergedLocked(termHash, true, true)
	if err != nil {
		return 0, apperrors.Corruption(termHash, err)
	}
	removed := 0
	for _, p := range present {
		if _, ok := docIDs[p.DocID]; ok {
			removed++
		}
	}
	ix.mem.RemovePostings(termHash, docIDs)
	if len(ix.readers) == 0 {
		return removed, nil
	}
	ix.tombMu.Lock()
	docs, ok := ix.deadDocs[termHash]
	if !ok {
		docs = make(map[string]int, len(docIDs))
		ix.deadDocs[termHash] = docs
	}
	through := ix.newestSegmentLocked()
	records := make([]tombstone, 0, len(docIDs))
	for id := range docIDs {
		docs[id] = len(ix.readers)
		records = append(records, tombstone{Term: termHash, Doc: id, Through: through})
	}
	err = ix.tombs.append(records...)
	ix.tombMu.Unlock()
	return removed, err
}

// newestSegmentLocked names the segment a new tombstone masks through. The
// caller holds mu and there is at least one reader.
func (ix *Index) newestSegmentLocked() string {
	return filepath.Base(ix.readers[len(ix.readers)-1].Path())
}

// replayTombstones rebuilds the in-memory tombstones from the log. Records
// naming a segment that is no longer loaded were applied by a compaction.
func (ix *Index) replayTombstones(records []tombstone) {
	upto := make(map[string]int, len(ix.readers))
	for i, r := range ix.readers {
		upto[filepath.Base(r.Path())] = i + 1
	}
	applied := 0
	for _, t := range records {
		n, ok := upto[t.Through]
		if !ok {
			continue
		}
		if t.Doc == "" {
			ix.deadTerms[t.Term] = n
			delete(ix.deadDocs, t.Term)
		} else {
			docs, ok := ix.deadDocs[t.Term]
			if !ok {
				docs = make(map[string]int)
				ix.deadDocs[t.Term] = docs
			}
			docs[t.Doc] = n
		}
		applied++
	}
	if len(records) > 0 {
		ix.logger.Info("tombstones recovered", "records", len(records), "applied", applied)
	}
}

// mergedLocked returns the visible postings of termHash. The caller holds mu.
// Memory wins over segments and newer segments win over older ones.
func (ix *Index) mergedLocked(termHash ring.Hash, hot, disk bool) (index.PostingList, error) {
	byDoc := make(map[string]index.Posting)
	if hot {
		if g, ok := ix.mem.Group(termHash); ok {
			for _, p := range g.Postings {
				byDoc[p.DocID] = p
			}
		}
	}
	if disk {
		ix.tombMu.Lock()
		termUpto := ix.deadTerms[termHash]
		docUpto := make(map[string]int, len(ix.deadDocs[termHash]))
		for id, upto := range ix.deadDocs[termHash] {
			docUpto[id] = upto
		}
		ix.tombMu.Unlock()

		for i := len(ix.readers) - 1; i >= termUpto; i-- {
			postings, err := ix.readers[i].Postings(termHash)
			if err != nil {
				return nil, fmt.Errorf("segment %s: %w", filepath.Base(ix.readers[i].Path()), err)
			}
			for _, p := range postings {
				if i < docUpto[p.DocID] {
					continue
				}
				if _, seen := byDoc[p.DocID]; !seen {
					byDoc[p.DocID] = p
				}
			}
		}
	}
	result := make(index.PostingList, 0, len(byDoc))
	for _, p := range byDoc {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DocID < result[j].DocID })
	return result, nil
}

// termHashesLocked lists candidate terms in ascending ring order. The caller
// holds mu.
func (ix *Index) termHashesLocked(hot, disk bool) []ring.Hash {
	var hashes []ring.Hash
	if hot {
		hashes = ix.mem.TermHashes()
	}
	if !disk || len(ix.readers) == 0 {
		return hashes
	}
	set := make(map[ring.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	for _, r := range ix.readers {
		for _, h := range r.TermHashes() {
			set[h] = struct{}{}
		}
	}
	all := make([]ring.Hash, 0, len(set))
	for h := range set {
		all = append(all, h)
	}
	sort.Slice(all, func(i, j int) bool { return ring.Less(all[i], all[j]) })
	return all
}

// Flush writes the hot index to a new segment.
func (ix *Index) Flush() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	snapshot := ix.mem.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}
	name, err := ix.writer.Write(snapshot)
	if err != nil {
		return fmt.Errorf("writing segment: %w", err)
	}
	reader, err := segment.OpenReader(filepath.Join(ix.cfg.DataDir, name))
	if err != nil {
		return fmt.Errorf("opening new segment for reading: %w", err)
	}
	ix.readers = append(ix.readers, reader)
	ix.mem.Reset()
	ix.logger.Info("segment flushed",
		"segment", name,
		"terms", reader.Terms(),
		"docs", reader.DocCount(),
		"active_segments", len(ix.readers),
	)
	return nil
}

// Compact merges all segments into one, applying and clearing tombstones.
// Terms that cannot be read are dropped.
func (ix *Index) Compact() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tombMu.Lock()
	pending := len(ix.deadTerms) + len(ix.deadDocs)
	ix.tombMu.Unlock()
	if len(ix.readers) == 0 || (len(ix.readers) == 1 && pending == 0) {
		return nil
	}

	// Memory is flushed separately; only segments are merged here.
	terms := ix.termHashesLocked(false, true)
	groups := make([]index.TermGroup, 0, len(terms))
	dropped := 0
	for _, h := range terms {
		postings, err := ix.mergedLocked(h, false, true)
		if err != nil {
			ix.logger.Error("dropping unreadable term during compaction",
				"term_hash", h.String(),
				"error", err,
			)
			dropped++
			continue
		}
		if len(postings) > 0 {
			groups = append(groups, index.TermGroup{TermHash: h, Postings: postings})
		}
	}

	var merged []*segment.Reader
	if len(groups) > 0 {
		name, err := ix.writer.Write(groups)
		if err != nil {
			return fmt.Errorf("writing compacted segment: %w", err)
		}
		reader, err := segment.OpenReader(filepath.Join(ix.cfg.DataDir, name))
		if err != nil {
			return fmt.Errorf("opening compacted segment: %w", err)
		}
		merged = []*segment.Reader{reader}
	}
	old := ix.readers
	ix.readers = merged
	for _, r := range old {
		if err := r.Close(); err != nil {
			ix.logger.Error("closing segment reader", "segment", r.Path(), "error", err)
		}
		if err := os.Remove(r.Path()); err != nil {
			ix.logger.Error("removing merged segment", "segment", r.Path(), "error", err)
		}
	}
	ix.tombMu.Lock()
	ix.deadTerms = make(map[ring.Hash]int)
	ix.deadDocs = make(map[ring.Hash]map[string]int)
	if err := ix.tombs.reset(); err != nil {
		ix.logger.Error("clearing tombstone log", "error", err)
	}
	ix.tombMu.Unlock()
	ix.logger.Info("segments compacted",
		"merged_segments", len(old),
		"terms", len(groups),
		"dropped_terms", dropped,
		"tombstones_applied", pending,
	)
	return nil
}

// StartMaintenance runs the periodic flush and merge loops until ctx is
// cancelled, then performs a final flush.
func (ix *Index) StartMaintenance(ctx context.Context) {
	flushEvery := ix.cfg.FlushInterval
	if flushEvery <= 0 {
		flushEvery = 30 * time.Second
	}
	mergeEvery := ix.cfg.MergeInterval
	if mergeEvery <= 0 {
		mergeEvery = 5 * time.Minute
	}
	go func() {
		flushTicker := time.NewTicker(flushEvery)
		mergeTicker := time.NewTicker(mergeEvery)
		defer flushTicker.Stop()
		defer mergeTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				ix.logger.Info("maintenance loop stopping, performing final flush")
				if err := ix.Flush(); err != nil {
					ix.logger.Error("final flush failed", "error", err)
				}
				return
			case <-flushTicker.C:
				if ix.Stats().HotTerms > 0 {
					if err := ix.Flush(); err != nil {
						ix.logger.Error("periodic flush failed", "error", err)
					}
				}
			case <-mergeTicker.C:
				if ix.needsMerge() {
					if err := ix.Compact(); err != nil {
						ix.logger.Error("periodic compaction failed", "error", err)
					}
				}
			}
		}
	}()
}

func (ix *Index) needsMerge() bool {
	st := ix.Stats()
	return st.Tombstones > 0 || (ix.cfg.MaxSegmentsBeforeMerge > 0 && st.Segments >= ix.cfg.MaxSegmentsBeforeMerge)
}

func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.tombMu.Lock()
	tombs := len(ix.deadTerms)
	for _, docs := range ix.deadDocs {
		tombs += len(docs)
	}
	ix.tombMu.Unlock()
	return Stats{
		HotTerms:   ix.mem.TermCount(),
		HotBytes:   ix.mem.Size(),
		Segments:   len(ix.readers),
		Tombstones: tombs,
	}
}

// Close flushes, compacts, and closes every segment reader.
func (ix *Index) Close() error {
	if err := ix.Flush(); err != nil {
		ix.logger.Error("final flush on close failed", "error", err)
	}
	if err := ix.Compact(); err != nil {
		ix.logger.Error("compaction on close failed", "error", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, r := range ix.readers {
		if err := r.Close(); err != nil {
			ix.logger.Error("closing segment reader", "error", err)
		}
	}
	ix.readers = nil
	return ix.tombs.close()
}

func (ix *Index) loadExistingSegments() error {
	entries, err := os.ReadDir(ix.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading data directory: %w", err)
	}
	names := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), segment.Extension) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		reader, err := segment.OpenReader(filepath.Join(ix.cfg.DataDir, name))
		if err != nil {
			ix.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		ix.readers = append(ix.readers, reader)
		ix.logger.Info("loaded existing segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	ix.logger.Info("segment recovery complete", "segments_loaded", len(ix.readers))
	return nil
}
