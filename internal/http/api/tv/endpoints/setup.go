package endpoints

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/config"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/device"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/http/api"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/http/api/tv/packets"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/http/middleware"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/provisioning"
)

type SetupController struct {
	session *device.Session
	setup   *provisioning.Service
	auth    config.AuthConfig
}

// SetupModule mounts pairing, provisioning and the device reset.
func SetupModule(session *device.Session, setup *provisioning.Service, auth config.AuthConfig) api.Module {
	ctl := &SetupController{session: session, setup: setup, auth: auth}
	return api.ModuleFunc(func(c *api.Controller) {
		c.POST("/setup/pairing", ctl.requestPairing)
		c.POSTWithAuth(auth.JWTSecret, "/setup/provision", ctl.provision)
		c.POST("/reset", ctl.reset)
	})
}

// POST /api/tv/setup/pairing
func (s *SetupController) requestPairing(ctx *gin.Context) (any, *api.Error) {
	if code := s.session.Sync.DeviceCode(); code != "" {
		return nil, &api.Error{Code: http.StatusConflict, Message: "device already provisioned"}
	}
	p, err := s.setup.RequestPairing(ctx.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("pairing request failed")
		return nil, api.Internal("could not issue pairing code")
	}
	return p, nil
}

// POST /api/tv/setup/provision
func (s *SetupController) provision(ctx *gin.Context, operator string) (any, *api.Error) {
	var req provisioning.Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		return nil, api.BadRequest(err.Error())
	}
	d, err := s.setup.Provision(ctx.Request.Context(), req)
	if errors.Is(err, provisioning.ErrUnknownPairingCode) {
		return nil, api.NotFound(err.Error())
	}
	if err != nil {
		log.Error().Err(err).Str("operator", operator).Msg("provisioning failed")
		return nil, api.Internal("could not provision device")
	}
	log.Info().Str("operator", operator).Str("device_code", d.Code).Msg("device provisioned by operator")
	return api.Response{Code: http.StatusCreated, Body: d}, nil
}

// POST /api/tv/reset
func (s *SetupController) reset(ctx *gin.Context) (any, *api.Error) {
	var req packets.ResetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		return nil, api.BadRequest(err.Error())
	}
	if s.auth.ResetPINHash == "" {
		return nil, &api.Error{Code: http.StatusForbidden, Message: "reset is disabled"}
	}
	if err := middleware.CheckPIN(s.auth.ResetPINHash, req.PIN); err != nil {
		return nil, api.Unauthorized(err.Error())
	}

	code := s.session.Sync.DeviceCode()
	if err := s.session.Reset(ctx.Request.Context()); err != nil {
		e := api.Internal("reset failed: " + err.Error())
		e.Extra = gin.H{"setup_url": SetupURL(code)}
		return nil, e
	}
	return packets.ResetResponse{Status: "setup", SetupURL: SetupURL("")}, nil
}
