// Package repo wires the bridge together: it owns the object store, the
// per-repository identity salt and the working directory, and hands out
// snapshots, index trees and comparisons.
package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"brig/internal/compare"
	"brig/internal/config"
	"brig/internal/identity"
	"brig/internal/index"
	"brig/internal/object"
	"brig/internal/snapshot"
	"brig/internal/workspace"
)

// ControlDirName is the repository metadata directory inside a working
// copy.
const ControlDirName = ".brig"

const (
	saltFileName = "salt"
	dbDirName    = "db"

	indexKey = "meta:index"
	headKey  = "meta:head"
)

// IsSpecial hides repository-metadata paths from every tree view.
func IsSpecial(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if part == ControlDirName || part == ".git" {
			return true
		}
	}
	return false
}

// Repository is an opened brig repository.
type Repository struct {
	Root   string
	Store  object.Store
	Salt   []byte
	Logger *zap.Logger

	db  *badger.DB
	gen *identity.SaltedGenerator
	dir *workspace.Dir
}

// Init creates the control directory, database and identity salt for a
// new repository rooted at dir.
func Init(dir string) error {
	control := filepath.Join(dir, ControlDirName)
	if _, err := os.Stat(control); err == nil {
		return fmt.Errorf("repository already exists in %s", dir)
	}
	if err := os.MkdirAll(filepath.Join(control, dbDirName), 0755); err != nil {
		return fmt.Errorf("creating control directory: %w", err)
	}
	salt := []byte(uuid.New().String())
	if err := os.WriteFile(filepath.Join(control, saltFileName), salt, 0644); err != nil {
		return fmt.Errorf("writing identity salt: %w", err)
	}
	return nil
}

// FindRoot searches upward from startDir for the control directory.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ControlDirName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s repository found above %s", ControlDirName, startDir)
		}
		dir = parent
	}
}

// Open opens the repository rooted at dir.
func Open(dir string, cfg *config.Config, logger *zap.Logger) (*Repository, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	control := filepath.Join(dir, ControlDirName)
	salt, err := os.ReadFile(filepath.Join(control, saltFileName))
	if err != nil {
		return nil, fmt.Errorf("reading identity salt: %w", err)
	}

	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = filepath.Join(control, dbDirName)
	}
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening object database: %w", err)
	}

	store, err := object.NewBadgerStore(db, object.BadgerOptions{
		BlobCacheSize: cfg.Store.BlobCacheSize,
		TreeCacheSize: cfg.Store.TreeCacheSize,
		CompressMin:   cfg.Store.CompressMin,
		CompressLevel: cfg.Store.CompressLevel,
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{
		Root:   dir,
		Store:  store,
		Salt:   salt,
		Logger: logger,
		db:     db,
		gen:    identity.NewSaltedGenerator(salt),
		dir:    workspace.NewDir(dir),
	}, nil
}

// NewInMemory builds a repository over an already-open store, for embedding
// and tests. The working directory may be "".
func NewInMemory(store object.Store, salt []byte, workDir string, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{
		Root:   workDir,
		Store:  store,
		Salt:   salt,
		Logger: logger,
		gen:    identity.NewSaltedGenerator(salt),
	}
	if workDir != "" {
		r.dir = workspace.NewDir(workDir)
	}
	return r
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Generator returns the repository's deterministic id generator.
func (r *Repository) Generator() identity.Generator { return r.gen }

// WorkDir returns the working-directory accessor, nil for bare use.
func (r *Repository) WorkDir() *workspace.Dir { return r.dir }

// OpenSnapshot opens the read-only tree for one commit. Donors, when
// given, seed identity continuity from other trees.
func (r *Repository) OpenSnapshot(commitID string, donors ...identity.Lookup) (*snapshot.Tree, error) {
	return snapshot.New(r.Store, commitID, r.gen, snapshot.Options{
		Special: IsSpecial,
		Scanner: r.FindLastChange,
		Donors:  donors,
		Logger:  r.Logger,
	})
}

// AttachIndex builds the mutable working-copy tree over existing index
// state.
func (r *Repository) AttachIndex(rows []index.Row, donors ...identity.Lookup) *index.Tree {
	var fs index.Filesystem
	if r.dir != nil {
		fs = r.dir
	}
	return index.Attach(r.Store, fs, r.gen, rows, index.Options{
		Special: IsSpecial,
		Donors:  donors,
		Logger:  r.Logger,
	})
}

// Compare classifies the differences between two snapshots.
func (r *Repository) Compare(old, new *snapshot.Tree, opts compare.Options) (*compare.Delta, error) {
	c := compare.NewComparator(r.gen, IsSpecial, r.Logger)
	stream := compare.Stream(r.Store, old.RootTree(), new.RootTree(), opts.WantUnchanged)
	return c.Compare(stream, opts)
}

// IterChanges is the streaming variant of Compare.
func (r *Repository) IterChanges(old, new *snapshot.Tree, opts compare.Options) *compare.RecordIter {
	c := compare.NewComparator(r.gen, IsSpecial, r.Logger)
	stream := compare.Stream(r.Store, old.RootTree(), new.RootTree(), opts.WantUnchanged)
	return c.IterChanges(stream, opts)
}

// FindLastChange walks the first-parent chain from startCommit and returns
// the most recent commit that altered the content at path.
func (r *Repository) FindLastChange(path, startCommit string) (string, string, error) {
	commitID := startCommit
	for commitID != "" {
		commit, err := r.Store.GetCommit(commitID)
		if err != nil {
			return "", "", err
		}
		here, hereOK, err := r.resolve(commit.Tree, path)
		if err != nil {
			return "", "", err
		}
		if len(commit.Parents) == 0 {
			if hereOK {
				return path, commitID, nil
			}
			break
		}
		parent, err := r.Store.GetCommit(commit.Parents[0])
		if err != nil {
			return "", "", err
		}
		there, thereOK, err := r.resolve(parent.Tree, path)
		if err != nil {
			return "", "", err
		}
		if hereOK && (!thereOK || here != there) {
			return path, commitID, nil
		}
		commitID = commit.Parents[0]
	}
	return "", "", fmt.Errorf("no change found for %s from %s", path, startCommit)
}

// resolve walks one tree down to path and returns the object hash there.
func (r *Repository) resolve(treeHash, path string) (string, bool, error) {
	hash := treeHash
	if path == "" {
		return hash, true, nil
	}
	for _, part := range strings.Split(path, "/") {
		entries, err := r.Store.GetTree(hash)
		if err != nil {
			return "", false, err
		}
		found := false
		for _, e := range entries {
			if e.Name == part {
				hash = e.Hash
				found = true
				break
			}
		}
		if !found {
			return "", false, nil
		}
	}
	return hash, true, nil
}

// Index persistence. The index tree itself owns only the logical model;
// the repository stores its rows.

// SaveIndex persists the index rows to the repository database.
func (r *Repository) SaveIndex(rows []index.Row) error {
	if r.db == nil {
		return fmt.Errorf("repository has no database")
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(indexKey), data)
	})
}

// LoadIndex reads the persisted index rows, nil when none were saved yet.
func (r *Repository) LoadIndex() ([]index.Row, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository has no database")
	}
	var rows []index.Row
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rows)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	return rows, nil
}

// SetHead records the current head commit id.
func (r *Repository) SetHead(commitID string) error {
	if r.db == nil {
		return fmt.Errorf("repository has no database")
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(headKey), []byte(commitID))
	})
}

// Head returns the current head commit id, "" for an empty repository.
func (r *Repository) Head() (string, error) {
	if r.db == nil {
		return "", fmt.Errorf("repository has no database")
	}
	var head string
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(headKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			head = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return head, nil
}
