// Package provisioning walks an unconfigured player through setup: the screen
// shows a pairing code, an operator claims it with store and group details,
// and the resulting Device record is queued for the remote store.
package provisioning

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/localstore"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

var (
	ErrUnknownPairingCode = errors.New("provisioning: unknown or expired pairing code")
	ErrCodeSpaceExhausted = errors.New("provisioning: could not allocate a pairing code")
)

const (
	pairingCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	pairingLength  = 6
	identityKey    = "identity"
	devicesTable   = "devices"
)

// CodeStore keeps pairing codes for a limited time.
type CodeStore interface {
	Put(ctx context.Context, code, deviceCode string, ttl time.Duration) (bool, error)
	Take(ctx context.Context, code string) (string, bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, m model.Mutation) (model.SyncQueueItem, error)
}

type Pairing struct {
	Code       string    `json:"code"`
	DeviceCode string    `json:"device_code"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Request struct {
	PairingCode   string  `json:"pairing_code" binding:"required,len=6"`
	Name          string  `json:"name" binding:"required"`
	StoreID       *string `json:"store_id"`
	GroupID       *string `json:"group_id"`
	CameraEnabled bool    `json:"camera_enabled"`
}

type identity struct {
	DeviceCode    string    `json:"device_code"`
	ProvisionedAt time.Time `json:"provisioned_at"`
}

type Service struct {
	codes CodeStore
	queue Enqueuer
	store *localstore.Store
	ttl   time.Duration
	now   func() time.Time

	// OnProvisioned runs after the identity is persisted.
	OnProvisioned func(deviceCode string)
}

func NewService(codes CodeStore, queue Enqueuer, store *localstore.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{codes: codes, queue: queue, store: store, ttl: ttl, now: time.Now}
}

// RequestPairing reserves a fresh device code behind a short pairing code.
func (s *Service) RequestPairing(ctx context.Context) (Pairing, error) {
	deviceCode := NewDeviceCode()
	for attempt := 0; attempt < 5; attempt++ {
		code, err := newPairingCode()
		if err != nil {
			return Pairing{}, err
		}
		ok, err := s.codes.Put(ctx, code, deviceCode, s.ttl)
		if err != nil {
			return Pairing{}, fmt.Errorf("store pairing code: %w", err)
		}
		if !ok {
			continue
		}
		log.Info().Str("device_code", deviceCode).Msg("pairing code issued")
		return Pairing{Code: code, DeviceCode: deviceCode, ExpiresAt: s.now().Add(s.ttl)}, nil
	}
	return Pairing{}, ErrCodeSpaceExhausted
}

// Provision claims a pairing code, queues the Device insert and stores the
// identity locally. The insert is delivered by the mutation queue.
func (s *Service) Provision(ctx context.Context, req Request) (model.Device, error) {
	code := strings.ToUpper(strings.TrimSpace(req.PairingCode))
	deviceCode, ok, err := s.codes.Take(ctx, code)
	if err != nil {
		return model.Device{}, fmt.Errorf("resolve pairing code: %w", err)
	}
	if !ok {
		return model.Device{}, ErrUnknownPairingCode
	}

	d := model.Device{
		ID:            uuid.NewString(),
		Code:          deviceCode,
		Name:          req.Name,
		StoreID:       req.StoreID,
		GroupID:       req.GroupID,
		CameraEnabled: req.CameraEnabled,
	}
	record := map[string]any{
		"id":             d.ID,
		"device_code":    d.Code,
		"name":           d.Name,
		"camera_enabled": d.CameraEnabled,
		"is_blocked":     false,
	}
	if d.StoreID != nil {
		record["store_id"] = *d.StoreID
	}
	if d.GroupID != nil {
		record["group_id"] = *d.GroupID
	}
	if _, err := s.queue.Enqueue(ctx, model.Mutation{Table: devicesTable, Op: model.OpInsert, Record: record}); err != nil {
		return model.Device{}, fmt.Errorf("queue device insert: %w", err)
	}

	if err := s.store.PutJSON(localstore.RegionState, identityKey, identity{DeviceCode: d.Code, ProvisionedAt: s.now()}); err != nil {
		return model.Device{}, fmt.Errorf("persist identity: %w", err)
	}
	log.Info().Str("device_code", d.Code).Str("name", d.Name).Msg("device provisioned")

	if s.OnProvisioned != nil {
		s.OnProvisioned(d.Code)
	}
	return d, nil
}

// Identity returns the persisted device code, or "" when the player was never
// provisioned.
func (s *Service) Identity(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var id identity
	err := s.store.GetJSON(localstore.RegionState, identityKey, &id)
	if errors.Is(err, localstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id.DeviceCode, nil
}

// NewDeviceCode derives an 8 character code from the random part of a ULID.
func NewDeviceCode() string {
	return ulid.Make().String()[18:]
}

func newPairingCode() (string, error) {
	b := make([]byte, pairingLength)
	size := big.NewInt(int64(len(pairingCharset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b[i] = pairingCharset[n.Int64()]
	}
	return string(b), nil
}
