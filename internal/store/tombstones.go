package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

const tombstoneFile = "tombstones.log"

// tombstone masks a term, or one document of a term, in every segment up to
// and including Through. Segments are named so that name order is write
// order, which keeps records valid across a restart.
type tombstone struct {
	Term    ring.Hash `json:"h"`
	Doc     string    `json:"d,omitempty"`
	Through string    `json:"s"`
}

// tombstoneLog is an append-only JSON-lines file next to the segments. It is
// truncated once compaction has applied every record.
type tombstoneLog struct {
	f   *os.File
	enc *json.Encoder
}

func openTombstoneLog(dataDir string) (*tombstoneLog, []tombstone, error) {
	path := filepath.Join(dataDir, tombstoneFile)
	records, err := readTombstones(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening tombstone log: %w", err)
	}
	return &tombstoneLog{f: f, enc: json.NewEncoder(f)}, records, nil
}

// readTombstones stops at the first undecodable line, which can only be a
// record torn by a crash mid-write.
func readTombstones(path string) ([]tombstone, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading tombstone log: %w", err)
	}
	defer f.Close()

	var records []tombstone
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var t tombstone
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
			break
		}
		records = append(records, t)
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("scanning tombstone log: %w", err)
	}
	return records, nil
}

func (l *tombstoneLog) append(records ...tombstone) error {
	for _, t := range records {
		if err := l.enc.Encode(t); err != nil {
			return fmt.Errorf("appending tombstone: %w", err)
		}
	}
	return nil
}

func (l *tombstoneLog) reset() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating tombstone log: %w", err)
	}
	return nil
}

func (l *tombstoneLog) close() error {
	return l.f.Close()
}
