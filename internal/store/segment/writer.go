package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// MagicBytes identifies a valid .seg posting segment.
const (
	MagicBytes    uint32 = 0x44485453
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".seg"
)

// Header is the 64-byte header written at the start of every segment.
type Header struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
}

// DictEntry maps a term hash to its postings offset and length in the
// segment file. Entries are stored in ascending ring order.
type DictEntry struct {
	TermHash   ring.Hash `json:"h"`
	PostOffset int64     `json:"o"`
	PostLen    int       `json:"l"`
	DocFreq    int       `json:"d"`
}

// Writer serialises term groups into new segment files.
type Writer struct {
	dataDir string
	seq     atomic.Uint64
}

func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates a new segment holding groups, which must be
// sorted by term hash. It writes to a .tmp file first and renames on success.
func (w *Writer) Write(groups []index.TermGroup) (string, error) {
	if len(groups) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	name := fmt.Sprintf("seg_%020d_%04d%s", time.Now().UnixNano(), w.seq.Add(1)%10000, Extension)
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	headerBytes := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(headerBytes[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(headerBytes[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(headerBytes[8:12], uint32(len(groups)))
	binary.LittleEndian.PutUint64(headerBytes[48:56], uint64(time.Now().Unix()))
	if _, err := f.Write(headerBytes); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	postingsStart := int64(HeaderSize)
	offset := postingsStart
	dict := make([]DictEntry, 0, len(groups))
	docIDs := make(map[string]struct{})
	for _, g := range groups {
		data, err := json.Marshal(g.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for term %s: %w", g.TermHash, err)
		}
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("writing postings for term %s: %w", g.TermHash, err)
		}
		dict = append(dict, DictEntry{
			TermHash:   g.TermHash,
			PostOffset: offset - postingsStart,
			PostLen:    len(data),
			DocFreq:    len(g.Postings),
		})
		offset += int64(len(data))
		for _, p := range g.Postings {
			docIDs[p.DocID] = struct{}{}
		}
	}
	postingsSize := offset - postingsStart

	dictStart := offset
	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}
	dictSize := int64(len(dictData))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(docIDs)))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(dictStart))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(dictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(postingsSize))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}

	binary.LittleEndian.PutUint32(headerBytes[12:16], uint32(len(docIDs)))
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(dictStart))
	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(dictSize))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(postingsStart))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(postingsSize))
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return name, nil
}
