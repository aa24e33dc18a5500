package endpoints

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/config"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/device"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/http/api"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/http/api/tv/packets"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/localstore"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/syncqueue"
)

// SetupURL is where the pages send an operator when the device needs setup.
func SetupURL(deviceCode string) string {
	if deviceCode == "" {
		return "/setup"
	}
	return "/setup?device_code=" + url.QueryEscape(deviceCode)
}

type PlayerController struct {
	session  *device.Session
	playback config.PlaybackConfig
}

// PlayerModule mounts the endpoints the renderer polls and reports to.
func PlayerModule(session *device.Session, playback config.PlaybackConfig) api.Module {
	ctl := &PlayerController{session: session, playback: playback}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/state", ctl.state)
		c.GET("/now", ctl.now)
		c.GET("/config", ctl.configuration)
		c.Raw(http.MethodGet, "/blobs/:media_id", ctl.blob)

		c.POST("/sync", ctl.triggerSync)
		c.POST("/drain", ctl.triggerDrain)
		c.POST("/events", ctl.recordEvent)
		c.POST("/media-ended", ctl.mediaEnded)
	})
}

// GET /api/tv/state
func (p *PlayerController) state(ctx *gin.Context) (any, *api.Error) {
	return p.session.Snapshot(ctx.Request.Context()), nil
}

// GET /api/tv/now
func (p *PlayerController) now(ctx *gin.Context) (any, *api.Error) {
	st := p.session.Sync.State()
	snap := p.session.Player.Snapshot()

	out := packets.NowResponse{
		Status:        st.Status,
		StatusMessage: st.StatusMessage,
		State:         snap.State,
		Reason:        snap.Reason,
		ContentScale:  snap.ContentScale,
		Item:          snap.Current,
		Next:          snap.Next,
		Online:        p.session.Monitor.Online(),
		SyncError:     st.SyncError,
	}
	if snap.Current != nil {
		out.StartedAt = &snap.StartedAt
	}
	if st.Status == model.StatusSetup || model.IsFatalStatus(st.Status) {
		out.SetupURL = SetupURL(st.DeviceCode)
	}
	return out, nil
}

// GET /api/tv/config
func (p *PlayerController) configuration(ctx *gin.Context) (any, *api.Error) {
	return packets.ConfigResponse{
		SyncIntervalMs:          p.playback.SyncIntervalMs(),
		MaxRetries:              p.playback.MaxRetries,
		DefaultImageDurationSec: p.playback.DefaultImageDurationSec,
		DefaultVideoDurationSec: p.playback.DefaultVideoDurationSec,
		TimeSnapMinutes:         p.playback.TimeSnapMinutes,
	}, nil
}

// GET /api/tv/blobs/:media_id?g=<generation>
// Without g the newest cached version is served.
func (p *PlayerController) blob(ctx *gin.Context) {
	id := ctx.Param("media_id")
	var (
		meta localstore.BlobMeta
		err  error
	)
	if gen := ctx.Query("g"); gen != "" {
		meta, err = p.session.Store.BlobGeneration(id, gen)
	} else {
		meta, err = p.session.Store.BlobMeta(id)
	}
	if errors.Is(err, localstore.ErrNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "media not cached"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("media_id", id).Msg("failed to read blob metadata")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}

	etag := `"` + meta.Generation + `"`
	if ctx.GetHeader("If-None-Match") == etag {
		ctx.Status(http.StatusNotModified)
		return
	}
	ctx.Header("Content-Type", meta.ContentType)
	ctx.Header("Content-Length", strconv.FormatInt(meta.Size, 10))
	ctx.Header("ETag", etag)
	ctx.Header("Cache-Control", "no-cache")
	ctx.Status(http.StatusOK)

	err = p.session.Store.ReadBlobVersion(meta, ctx.Writer)
	if err == nil {
		return
	}
	if ctx.Writer.Written() {
		log.Warn().Err(err).Str("media_id", id).Msg("blob stream interrupted")
		return
	}
	// nothing was sent yet, so the headers can still be replaced
	h := ctx.Writer.Header()
	h.Del("Content-Length")
	h.Del("ETag")
	h.Del("Cache-Control")
	if errors.Is(err, localstore.ErrNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "media not cached"})
		return
	}
	log.Error().Err(err).Str("media_id", id).Msg("failed to read blob")
	ctx.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
}

// POST /api/tv/sync
func (p *PlayerController) triggerSync(ctx *gin.Context) (any, *api.Error) {
	p.session.TriggerSync()
	return api.Accepted(packets.AcceptedResponse{Accepted: true}), nil
}

// POST /api/tv/drain
func (p *PlayerController) triggerDrain(ctx *gin.Context) (any, *api.Error) {
	p.session.TriggerDrain()
	return api.Accepted(packets.AcceptedResponse{Accepted: true}), nil
}

// POST /api/tv/events
func (p *PlayerController) recordEvent(ctx *gin.Context) (any, *api.Error) {
	var req packets.EventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		return nil, api.BadRequest(err.Error())
	}

	var (
		item model.SyncQueueItem
		err  error
	)
	if req.Op == "" || req.Op == model.OpInsert {
		item, err = p.session.RecordEvent(ctx.Request.Context(), req.Table, req.Record)
	} else {
		item, err = p.session.Queue.Enqueue(ctx.Request.Context(), model.Mutation{Table: req.Table, Op: req.Op, Record: req.Record})
	}
	if errors.Is(err, syncqueue.ErrInvalidMutation) {
		return nil, api.BadRequest(err.Error())
	}
	if err != nil {
		return nil, api.Internal("could not queue event")
	}
	return api.Accepted(packets.AcceptedResponse{Accepted: true, ID: item.ID}), nil
}

// POST /api/tv/media-ended
func (p *PlayerController) mediaEnded(ctx *gin.Context) (any, *api.Error) {
	var req packets.MediaEndedRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		return nil, api.BadRequest(err.Error())
	}
	return packets.MediaEndedResponse{Advanced: p.session.Player.MediaEnded(req.ItemID)}, nil
}
