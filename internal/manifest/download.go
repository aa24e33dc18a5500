package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/localstore"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/metrics"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

// diff returns media whose blob is missing or stale.
func (e *Engine) diff(m *model.Manifest) []model.Media {
	var out []model.Media
	for _, md := range m.Media {
		if e.store.HasBlob(md.ID, md.Fingerprint()) {
			continue
		}
		out = append(out, md)
	}
	return out
}

// download fetches every pending blob with bounded concurrency. Blobs that
// succeed are kept even when others fail, so the next pass only retries the rest.
func (e *Engine) download(ctx context.Context, m *model.Manifest, pending []model.Media) (done, failed int) {
	total := len(pending)
	e.update(func(s *model.DeviceState) {
		s.Progress = model.Progress{Total: total}
	})
	if total == 0 {
		return 0, 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for _, md := range pending {
		md := md
		g.Go(func() error {
			err := e.fetchOne(gctx, md)
			e.update(func(s *model.DeviceState) {
				if err == nil {
					s.Progress.Downloaded++
				}
				s.Progress.CurrentFile = md.FileName()
			})
			if err != nil {
				metrics.BlobDownloads.WithLabelValues("failed").Inc()
				ev := log.Warn().Err(err).Str("media_id", md.ID)
				if errors.Is(err, localstore.ErrQuotaExceeded) {
					ev = ev.Bool("quota_exceeded", true)
				}
				ev.Msg("blob download failed")
				return nil
			}
			metrics.BlobDownloads.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	p := e.Progress()
	return p.Downloaded, total - p.Downloaded
}

func (e *Engine) fetchOne(ctx context.Context, md model.Media) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.DownloadTimeout)
	defer cancel()

	obj, err := e.fetcher.Fetch(ctx, md.URL)
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	meta, err := e.store.PutBlob(localstore.BlobMeta{
		MediaID:     md.ID,
		URL:         md.URL,
		ContentType: obj.ContentType,
		Fingerprint: md.Fingerprint(),
	}, obj.Body)
	if err != nil {
		return err
	}
	if obj.Size > 0 && meta.Size != obj.Size {
		_ = e.store.DeleteBlobVersion(meta)
		return fmt.Errorf("blob %s truncated: got %d of %d bytes", md.ID, meta.Size, obj.Size)
	}
	metrics.BlobDownloadBytes.Add(float64(meta.Size))
	return nil
}

// swap writes the manifest and the new device state in one transaction.
// It reports whether the manifest document changed.
func (e *Engine) swap(m *model.Manifest) (bool, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("encode manifest: %w", err)
	}
	prev, err := e.store.Get(localstore.RegionManifest, m.DeviceCode)
	if err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return false, err
	}
	changed := !bytes.Equal(prev, data)

	now := e.opts.Now()
	next := e.State()
	next.DeviceCode = m.DeviceCode
	next.Status = model.StatusOK
	next.StatusMessage = ""
	next.Online = true
	next.SyncError = ""
	next.LastSync = &now
	stateDoc, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("encode device state: %w", err)
	}

	writes := []localstore.Write{
		{Region: localstore.RegionState, Key: stateKey(m.DeviceCode), Value: stateDoc},
	}
	if changed {
		writes = append(writes, localstore.Write{Region: localstore.RegionManifest, Key: m.DeviceCode, Value: data})
	}
	if err := e.store.Batch(writes...); err != nil {
		return false, fmt.Errorf("swap manifest: %w", err)
	}

	e.update(func(s *model.DeviceState) {
		progress := s.Progress
		*s = next
		s.Progress = progress
	})
	if changed {
		log.Info().Str("device_code", m.DeviceCode).Str("playlist_id", m.PlaylistID).
			Int("channels", len(m.Channels)).Int("media", len(m.Media)).Msg("manifest updated")
	}
	return changed, nil
}

// prune deletes blob versions the active manifest no longer references,
// including superseded versions of media that are still in use.
func (e *Engine) prune(m *model.Manifest) int {
	keep := make(map[string]string, len(m.Media))
	for _, md := range m.Media {
		keep[md.ID] = md.Fingerprint()
	}
	metas, err := e.store.ListBlobMeta()
	if err != nil {
		log.Warn().Err(err).Msg("failed to list blobs for pruning")
		return 0
	}
	n := 0
	for _, meta := range metas {
		if fp, ok := keep[meta.MediaID]; ok && fp == meta.Fingerprint {
			continue
		}
		if err := e.store.DeleteBlobVersion(meta); err != nil {
			log.Warn().Err(err).Str("media_id", meta.MediaID).Msg("failed to prune blob")
			continue
		}
		n++
	}
	return n
}
