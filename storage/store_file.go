package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goforj/geostate/geoerr"
)

// Seams for failure tests.
var (
	createTempFile = os.CreateTemp
	renameFile     = os.Rename
)

// A record file is: magic | expiry (int64 BE) | key length (uint16 BE) | key | payload.
// The key is kept so the directory can be listed without a side index.
var fileMagic = []byte("GSF2")

const (
	fileFixedHeader = 4 + 8 + 2
	fileExt         = ".json"
	fileTempPrefix  = "tmp-"
)

var errBadRecord = errors.New("unrecognized record file")

type fileRecord struct {
	key     string
	expires deadline
	payload []byte
}

func (r fileRecord) encode() []byte {
	var buf bytes.Buffer
	buf.Grow(fileFixedHeader + len(r.key) + len(r.payload))
	buf.Write(fileMagic)
	_ = binary.Write(&buf, binary.BigEndian, int64(r.expires))
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(r.key)))
	buf.WriteString(r.key)
	buf.Write(r.payload)
	return buf.Bytes()
}

func decodeFileRecord(data []byte) (fileRecord, error) {
	if len(data) < fileFixedHeader || !bytes.HasPrefix(data, fileMagic) {
		return fileRecord{}, errBadRecord
	}
	expires := int64(binary.BigEndian.Uint64(data[4:12]))
	keyLen := int(binary.BigEndian.Uint16(data[12:fileFixedHeader]))
	rest := data[fileFixedHeader:]
	if len(rest) < keyLen {
		return fileRecord{}, errBadRecord
	}
	return fileRecord{
		key:     string(rest[:keyLen]),
		expires: deadline(expires),
		payload: cloneBytes(rest[keyLen:]),
	}, nil
}

// fileStore keeps one record file per key. It is the default driver for
// the CLI, and FileWatcher observes the same directory for changes.
type fileStore struct {
	dir      string
	lifetime time.Duration
}

func newFileStore(dir string, lifetime time.Duration) (*fileStore, error) {
	if dir == "" {
		dir = defaultFileDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, geoerr.Wrapf(geoerr.Storage, opName(DriverFile, "open"), err, "create %q", dir)
	}
	return &fileStore{dir: dir, lifetime: lifetime}, nil
}

func (s *fileStore) Driver() Driver { return DriverFile }

func (s *fileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := checkKeys(DriverFile, "get", key); err != nil {
		return nil, false, err
	}
	rec, ok, err := s.read(filePath(s.dir, key))
	if err != nil || !ok {
		return nil, false, backendErr(DriverFile, "get", err)
	}
	return rec.payload, true, nil
}

// read loads the record at path. Corrupt and lapsed records are removed
// and reported as absent.
func (s *fileStore) read(path string) (fileRecord, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fileRecord{}, false, nil
	}
	if err != nil {
		return fileRecord{}, false, err
	}
	rec, err := decodeFileRecord(data)
	if err != nil || rec.expires.passed() {
		_ = os.Remove(path)
		return fileRecord{}, false, nil
	}
	return rec, true, nil
}

// Set writes through a temp file and renames it into place so readers and
// watchers in other processes never observe a partial record.
func (s *fileStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKeys(DriverFile, "set", key); err != nil {
		return err
	}
	if len(key) > math.MaxUint16 {
		return geoerr.Newf(geoerr.Validation, opName(DriverFile, "set"), "key longer than %d bytes", math.MaxUint16)
	}
	rec := fileRecord{key: key, expires: deadlineFor(ttl, s.lifetime), payload: value}
	return backendErr(DriverFile, "set", s.replace(filePath(s.dir, key), rec.encode()))
}

func (s *fileStore) replace(path string, body []byte) error {
	tmp, err := createTempFile(s.dir, fileTempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_, err = tmp.Write(body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = renameFile(tmpPath, path)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
	}
	return err
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, key)
}

func (s *fileStore) DeleteMany(_ context.Context, keys ...string) error {
	if err := checkKeys(DriverFile, "delete", keys...); err != nil {
		return err
	}
	for _, key := range keys {
		if err := os.Remove(filePath(s.dir, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return backendErr(DriverFile, "delete", err)
		}
	}
	return nil
}

// Flush removes record files only; anything else in the directory stays.
func (s *fileStore) Flush(_ context.Context) error {
	paths, err := s.recordPaths()
	if err != nil {
		return backendErr(DriverFile, "flush", err)
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return backendErr(DriverFile, "flush", err)
		}
	}
	return nil
}

// Keys implements Lister.
func (s *fileStore) Keys(context.Context) ([]string, error) {
	paths, err := s.recordPaths()
	if err != nil {
		return nil, backendErr(DriverFile, "keys", err)
	}
	keys := make([]string, 0, len(paths))
	for _, path := range paths {
		rec, ok, err := s.read(path)
		if err != nil {
			return nil, backendErr(DriverFile, "keys", err)
		}
		if ok {
			keys = append(keys, rec.key)
		}
	}
	return sortedKeys(keys), nil
}

func (s *fileStore) recordPaths() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, fileTempPrefix) || filepath.Ext(name) != fileExt {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, name))
	}
	return paths, nil
}

// filePath maps a key to its record file. Keys are hashed so any string is
// a safe file name; FileWatcher relies on the same mapping.
func filePath(dir, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(dir, hex.EncodeToString(sum[:16])+fileExt)
}
