package object

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"brig/shared/utils"
)

const (
	blobPrefix   = "blob:"
	treePrefix   = "tree:"
	commitPrefix = "commit:"

	flagRaw  byte = 0
	flagZstd byte = 1
)

// BadgerOptions configures the badger-backed store.
type BadgerOptions struct {
	BlobCacheSize int // number of blobs kept in the lru cache
	TreeCacheSize int // number of decoded trees kept in the lru cache
	CompressMin   int // blobs at or above this size are zstd-compressed
	CompressLevel int // zstd level (1=fastest, 3=best)
}

func DefaultBadgerOptions() BadgerOptions {
	return BadgerOptions{
		BlobCacheSize: 1024,
		TreeCacheSize: 4096,
		CompressMin:   1024,
		CompressLevel: 2,
	}
}

// BadgerStore keeps blobs, trees and commits in a badger database, keyed
// by sha256 content addresses. Trees and commits are JSON values; blobs
// above the threshold are zstd-compressed.
type BadgerStore struct {
	db        *badger.DB
	opts      BadgerOptions
	blobCache *lru.Cache[string, []byte]
	treeCache *lru.Cache[string, []TreeEntry]
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	logger    *zap.Logger
}

func NewBadgerStore(db *badger.DB, opts BadgerOptions, logger *zap.Logger) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BlobCacheSize == 0 {
		opts.BlobCacheSize = DefaultBadgerOptions().BlobCacheSize
	}
	if opts.TreeCacheSize == 0 {
		opts.TreeCacheSize = DefaultBadgerOptions().TreeCacheSize
	}
	if opts.CompressMin == 0 {
		opts.CompressMin = DefaultBadgerOptions().CompressMin
	}
	if opts.CompressLevel == 0 {
		opts.CompressLevel = DefaultBadgerOptions().CompressLevel
	}

	blobCache, err := lru.New[string, []byte](opts.BlobCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating blob cache: %w", err)
	}
	treeCache, err := lru.New[string, []TreeEntry](opts.TreeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating tree cache: %w", err)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressLevel)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &BadgerStore{
		db:        db,
		opts:      opts,
		blobCache: blobCache,
		treeCache: treeCache,
		enc:       enc,
		dec:       dec,
		logger:    logger,
	}, nil
}

func (s *BadgerStore) get(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrObjectNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	return data, err
}

func (s *BadgerStore) put(key string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		// Content-addressed: an existing key already holds this value.
		if _, err := txn.Get([]byte(key)); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set([]byte(key), data)
	})
}

func (s *BadgerStore) has(key string) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	return err == nil
}

// GetBlob returns the raw bytes for a blob hash.
func (s *BadgerStore) GetBlob(hash string) ([]byte, error) {
	if content, ok := s.blobCache.Get(hash); ok {
		return content, nil
	}
	data, err := s.get(blobPrefix + hash)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty blob record for %s", hash)
	}
	content := data[1:]
	if data[0] == flagZstd {
		content, err = s.dec.DecodeAll(content, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing blob %s: %w", hash, err)
		}
	}
	if utils.HashContent(content) != hash {
		return nil, fmt.Errorf("content hash mismatch for %s", hash)
	}
	s.blobCache.Add(hash, content)
	return content, nil
}

func (s *BadgerStore) AddBlob(data []byte) (string, error) {
	if data == nil {
		data = []byte{}
	}
	hash := utils.HashContent(data)
	if s.blobCache.Contains(hash) {
		return hash, nil
	}

	record := make([]byte, 1, len(data)+1)
	record[0] = flagRaw
	if len(data) >= s.opts.CompressMin {
		compressed := s.enc.EncodeAll(data, nil)
		if len(compressed) < len(data) {
			record[0] = flagZstd
			record = append(record, compressed...)
		}
	}
	if record[0] == flagRaw {
		record = append(record, data...)
	}

	if err := s.put(blobPrefix+hash, record); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}
	s.blobCache.Add(hash, data)
	return hash, nil
}

// GetTree returns the decoded children of a tree, sorted by name.
func (s *BadgerStore) GetTree(hash string) ([]TreeEntry, error) {
	if entries, ok := s.treeCache.Get(hash); ok {
		return entries, nil
	}
	data, err := s.get(treePrefix + hash)
	if err != nil {
		return nil, err
	}
	var entries []TreeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding tree %s: %w", hash, err)
	}
	s.treeCache.Add(hash, entries)
	return entries, nil
}

func (s *BadgerStore) AddTree(entries []TreeEntry) (string, error) {
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return "", fmt.Errorf("duplicate tree entry name %q", sorted[i].Name)
		}
	}
	data, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("encoding tree: %w", err)
	}
	hash := utils.HashContent(append([]byte("tree\x00"), data...))
	if err := s.put(treePrefix+hash, data); err != nil {
		return "", fmt.Errorf("writing tree: %w", err)
	}
	s.treeCache.Add(hash, sorted)
	return hash, nil
}

func (s *BadgerStore) GetCommit(hash string) (*Commit, error) {
	data, err := s.get(commitPrefix + hash)
	if err != nil {
		return nil, err
	}
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding commit %s: %w", hash, err)
	}
	return &c, nil
}

func (s *BadgerStore) AddCommit(c *Commit) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding commit: %w", err)
	}
	hash := utils.HashContent(append([]byte("commit\x00"), data...))
	if err := s.put(commitPrefix+hash, data); err != nil {
		return "", fmt.Errorf("writing commit: %w", err)
	}
	return hash, nil
}

func (s *BadgerStore) Contains(hash string) bool {
	if hash == "" {
		return false
	}
	if s.blobCache.Contains(hash) || s.treeCache.Contains(hash) {
		return true
	}
	return s.has(blobPrefix+hash) || s.has(treePrefix+hash) || s.has(commitPrefix+hash)
}

func (s *BadgerStore) TreeChanges(oldTree, newTree string, wantUnchanged, includeTrees bool) *ChangeIter {
	return newTreeChanges(s, oldTree, newTree, wantUnchanged, includeTrees)
}

// EmptyTree writes (if needed) and returns the hash of the empty tree.
func (s *BadgerStore) EmptyTree() (string, error) {
	return s.AddTree(nil)
}

var _ Store = (*BadgerStore)(nil)
