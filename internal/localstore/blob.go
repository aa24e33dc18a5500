package localstore

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/metrics"
)

const blobChunkSize = 4 << 20

// BlobMeta describes a cached media blob.
type BlobMeta struct {
	MediaID     string    `json:"media_id"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Fingerprint string    `json:"fingerprint"`
	Size        int64     `json:"size"`
	Chunks      int       `json:"chunks"`
	Generation  string    `json:"generation"`
	StoredAt    time.Time `json:"stored_at"`
}

func chunkPrefix(mediaID, gen string) string {
	return mediaID + "/" + gen + "/"
}

func chunkKey(mediaID, gen string, n int) []byte {
	return key(RegionBlobs, fmt.Sprintf("%s%06d", chunkPrefix(mediaID, gen), n))
}

// metadata lives under <media id>/<generation>, one record per stored version
func metaKey(mediaID, gen string) string {
	return mediaID + "/" + gen
}

// PutBlob streams r into the store as a new version of the media. Versions
// with other fingerprints stay readable until they are deleted, so a manifest
// that still references them keeps playing from local bytes. A previous
// version with the same fingerprint is replaced.
func (s *Store) PutBlob(meta BlobMeta, r io.Reader) (BlobMeta, error) {
	if s.closed.Load() {
		return BlobMeta{}, ErrClosed
	}
	if meta.MediaID == "" {
		return BlobMeta{}, errors.New("blob media id is required")
	}

	versions, err := s.BlobVersions(meta.MediaID)
	if err != nil {
		return BlobMeta{}, err
	}

	meta.Generation = fmt.Sprintf("%016x%06x", uint64(s.now().UnixNano()), s.genSeq.Add(1)&0xffffff)
	meta.Size = 0
	meta.Chunks = 0

	buf := make([]byte, blobChunkSize)
	var written int64
	defer func() { s.inflight.Add(-written) }()

	fail := func(err error) (BlobMeta, error) {
		s.dropChunks(meta.MediaID, meta.Generation)
		metrics.LocalStoreErrors.WithLabelValues(string(RegionBlobs), "put").Inc()
		return BlobMeta{}, err
	}

	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if s.quota > 0 && s.blobUsed.Load()+s.inflight.Load()+int64(n) > s.quota {
				return fail(fmt.Errorf("blob %s: %w", meta.MediaID, ErrQuotaExceeded))
			}
			ck := chunkKey(meta.MediaID, meta.Generation, meta.Chunks)
			chunk := buf[:n]
			if err := s.db.Update(func(txn *badger.Txn) error {
				return txn.Set(ck, append([]byte(nil), chunk...))
			}); err != nil {
				return fail(fmt.Errorf("blob %s chunk %d: %w", meta.MediaID, meta.Chunks, storageErr(err)))
			}
			meta.Chunks++
			meta.Size += int64(n)
			written += int64(n)
			s.inflight.Add(int64(n))
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return fail(fmt.Errorf("read blob %s: %w", meta.MediaID, rerr))
		}
	}

	meta.StoredAt = s.now()
	data, err := json.Marshal(meta)
	if err != nil {
		return fail(fmt.Errorf("marshal blob meta: %w", err))
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(regionBlobMeta, metaKey(meta.MediaID, meta.Generation)), data)
	}); err != nil {
		return fail(fmt.Errorf("blob %s meta: %w", meta.MediaID, storageErr(err)))
	}
	s.blobUsed.Add(meta.Size)

	for _, prev := range versions {
		if prev.Fingerprint != meta.Fingerprint {
			continue
		}
		if err := s.DeleteBlobVersion(prev); err != nil {
			log.Warn().Err(err).Str("media_id", prev.MediaID).Str("generation", prev.Generation).
				Msg("failed to drop replaced blob version")
		}
	}
	metrics.BlobCacheBytes.Set(float64(s.blobUsed.Load()))
	return meta, nil
}

// BlobVersions lists every stored version of a media, oldest first.
func (s *Store) BlobVersions(mediaID string) ([]BlobMeta, error) {
	records, err := s.scan(regionBlobMeta, mediaID+"/")
	if err != nil {
		return nil, err
	}
	out := decodeMetas(records)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StoredAt.Equal(out[j].StoredAt) {
			return out[i].StoredAt.Before(out[j].StoredAt)
		}
		return out[i].Generation < out[j].Generation
	})
	return out, nil
}

// BlobMeta returns the newest cached version of a media or ErrNotFound.
func (s *Store) BlobMeta(mediaID string) (BlobMeta, error) {
	versions, err := s.BlobVersions(mediaID)
	if err != nil {
		return BlobMeta{}, err
	}
	if len(versions) == 0 {
		return BlobMeta{}, ErrNotFound
	}
	return versions[len(versions)-1], nil
}

// BlobGeneration returns one specific version or ErrNotFound.
func (s *Store) BlobGeneration(mediaID, gen string) (BlobMeta, error) {
	var meta BlobMeta
	err := s.GetJSON(regionBlobMeta, metaKey(mediaID, gen), &meta)
	return meta, err
}

// BlobVersion returns the newest version stored for fingerprint.
func (s *Store) BlobVersion(mediaID, fingerprint string) (BlobMeta, error) {
	versions, err := s.BlobVersions(mediaID)
	if err != nil {
		return BlobMeta{}, err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Fingerprint == fingerprint {
			return versions[i], nil
		}
	}
	return BlobMeta{}, ErrNotFound
}

// HasBlob reports whether a blob with the given fingerprint is cached.
func (s *Store) HasBlob(mediaID, fingerprint string) bool {
	_, err := s.BlobVersion(mediaID, fingerprint)
	return err == nil
}

// CachedGeneration is HasBlob that also names the version to load.
func (s *Store) CachedGeneration(mediaID, fingerprint string) (string, bool) {
	meta, err := s.BlobVersion(mediaID, fingerprint)
	if err != nil {
		return "", false
	}
	return meta.Generation, true
}

// ReadBlob streams the newest version of a media to w.
func (s *Store) ReadBlob(mediaID string, w io.Writer) (BlobMeta, error) {
	meta, err := s.BlobMeta(mediaID)
	if err != nil {
		return BlobMeta{}, err
	}
	return meta, s.ReadBlobVersion(meta, w)
}

// ReadBlobVersion streams one version from a single snapshot. Every chunk is
// looked up before the first byte reaches w, so a version deleted underneath
// the reader yields ErrNotFound and an untouched w rather than a short body.
func (s *Store) ReadBlobVersion(meta BlobMeta, w io.Writer) error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.View(func(txn *badger.Txn) error {
		items := make([]*badger.Item, meta.Chunks)
		for i := range items {
			item, err := txn.Get(chunkKey(meta.MediaID, meta.Generation, i))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("blob %s: missing chunk %d: %w", meta.MediaID, i, ErrNotFound)
			}
			if err != nil {
				return err
			}
			items[i] = item
		}
		for _, item := range items {
			if err := item.Value(func(val []byte) error {
				_, err := w.Write(val)
				return err
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("read blob %s: %w", meta.MediaID, err)
	}
	return err
}

// GetBlob reads the newest version of a blob into memory.
func (s *Store) GetBlob(mediaID string) ([]byte, BlobMeta, error) {
	var buf bytesWriter
	meta, err := s.ReadBlob(mediaID, &buf)
	if err != nil {
		return nil, BlobMeta{}, err
	}
	return buf, meta, nil
}

type bytesWriter []byte

func (b *bytesWriter) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// ListBlobMeta returns every stored version of every blob.
func (s *Store) ListBlobMeta() ([]BlobMeta, error) {
	records, err := s.ListPending(regionBlobMeta)
	if err != nil {
		return nil, err
	}
	return decodeMetas(records), nil
}

func decodeMetas(records []Record) []BlobMeta {
	out := make([]BlobMeta, 0, len(records))
	for _, r := range records {
		var m BlobMeta
		if err := json.Unmarshal(r.Value, &m); err != nil {
			log.Warn().Err(err).Str("key", r.Key).Msg("skipping corrupt blob metadata")
			continue
		}
		out = append(out, m)
	}
	return out
}

// DeleteBlob removes every version of a media. Missing blobs are ignored.
func (s *Store) DeleteBlob(mediaID string) error {
	versions, err := s.BlobVersions(mediaID)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := s.DeleteBlobVersion(v); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBlobVersion removes one stored version and its chunks.
func (s *Store) DeleteBlobVersion(meta BlobMeta) error {
	k := metaKey(meta.MediaID, meta.Generation)
	if _, err := s.Get(regionBlobMeta, k); errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if err := s.Delete(regionBlobMeta, k); err != nil {
		return err
	}
	s.blobUsed.Add(-meta.Size)
	metrics.BlobCacheBytes.Set(float64(s.blobUsed.Load()))
	s.dropChunks(meta.MediaID, meta.Generation)
	return nil
}

// BlobBytes is the total size of cached blobs.
func (s *Store) BlobBytes() int64 {
	return s.blobUsed.Load()
}

func (s *Store) dropChunks(mediaID, gen string) {
	p := key(RegionBlobs, chunkPrefix(mediaID, gen))
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("media_id", mediaID).Msg("failed to list blob chunks")
		return
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			log.Warn().Err(err).Str("media_id", mediaID).Msg("failed to delete blob chunk")
			return
		}
	}
	if err := wb.Flush(); err != nil {
		log.Warn().Err(err).Str("media_id", mediaID).Msg("failed to delete blob chunks")
	}
}
