// Package cabcache keeps built cabinets between binds so an unchanged
// cabinet can be reused instead of rebuilt.
//
// The cache is a directory holding the cabinets plus a bbolt index that
// records, per cabinet, the identity of every file that went into it.
package cabcache

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/cabinet"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

const (
	dbName     = "cabcache.db"
	bucketName = "cabinets"
)

type fileStamp struct {
	Token   string `msgpack:"token"`
	Size    int64  `msgpack:"size"`
	ModTime int64  `msgpack:"mtime"`
}

type volume struct {
	Name  string `msgpack:"name"`
	Token string `msgpack:"token"`
}

type record struct {
	Files   []fileStamp `msgpack:"files"`
	Volumes []volume    `msgpack:"volumes"`
}

type Cache struct {
	dir    string
	db     *bbolt.DB
	logger log.Logger
}

type Opt func(*Cache)

func WithLogger(logger log.Logger) Opt {
	return func(c *Cache) {
		c.logger = logger
	}
}

// Open opens or creates the cache rooted at dir.
func Open(dir string, opts ...Opt) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating cabinet cache %s", dir)
	}

	db, err := bbolt.Open(filepath.Join(dir, dbName), 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "opening cabinet cache index")
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating cabinet cache bucket")
	}

	c := &Cache{
		dir:    dir,
		db:     db,
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Dir() string {
	return c.dir
}

// ResolveCabinet places every cabinet in the cache. A cabinet is reused
// when it exists and was built from the same files, in the same order,
// with the same sizes and modification times; otherwise it is rebuilt
// into the cache and copied to the layout. A reused cabinet that spanned
// volumes also needs every volume in the cache, and reports them.
func (c *Cache) ResolveCabinet(cabinetPath string, files []cabinet.File) (*cabinet.ResolvedCabinet, error) {
	name := filepath.Base(cabinetPath)
	cached := filepath.Join(c.dir, name)

	rebuild := &cabinet.ResolvedCabinet{Path: cached, BuildOption: cabinet.BuildAndCopy}

	if _, err := os.Stat(cached); err != nil {
		return rebuild, nil
	}

	stored, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return rebuild, nil
	}

	current, err := stamps(files)
	if err != nil {
		level.Debug(c.logger).Log("msg", "cannot stat cabinet file, rebuilding", "cabinet", name, "err", err)
		return rebuild, nil
	}

	if !sameStamps(stored.Files, current) {
		return rebuild, nil
	}

	var volumes []cabinet.Volume
	for _, v := range stored.Volumes {
		if _, err := os.Stat(filepath.Join(c.dir, v.Name)); err != nil {
			level.Debug(c.logger).Log("msg", "cabinet volume missing, rebuilding", "cabinet", name, "volume", v.Name)
			return rebuild, nil
		}
		volumes = append(volumes, cabinet.Volume{Name: v.Name, Token: v.Token})
	}

	return &cabinet.ResolvedCabinet{Path: cached, BuildOption: cabinet.Copy, Volumes: volumes}, nil
}

// Record stores the identity of the files in a freshly built cabinet. It
// is safe to call from concurrent builders.
func (c *Cache) Record(item cabinet.WorkItem) error {
	current, err := stamps(item.Files)
	if err != nil {
		return errors.Wrapf(err, "recording cabinet %s", item.Name())
	}

	r := record{Files: current}
	for _, v := range item.Volumes {
		r.Volumes = append(r.Volumes, volume{Name: v.Name, Token: v.Token})
	}

	raw, err := msgpack.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encoding cache record")
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errors.Errorf("%s bucket does not exist", bucketName)
		}
		return b.Put(key(item.Name()), raw)
	})
}

func (c *Cache) lookup(name string) (*record, error) {
	var raw []byte
	if err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errors.Errorf("%s bucket does not exist", bucketName)
		}
		if v := b.Get(key(name)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "reading cabinet cache index")
	}

	if raw == nil {
		return nil, nil
	}

	var r record
	if err := msgpack.Unmarshal(raw, &r); err != nil {
		return nil, errors.Wrapf(err, "decoding cache record for %s", name)
	}
	return &r, nil
}

func key(name string) []byte {
	return []byte(strings.ToLower(name))
}

func stamps(files []cabinet.File) ([]fileStamp, error) {
	out := make([]fileStamp, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, fileStamp{
			Token:   f.Token,
			Size:    info.Size(),
			ModTime: info.ModTime().UnixNano(),
		})
	}
	return out, nil
}

func sameStamps(a, b []fileStamp) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
