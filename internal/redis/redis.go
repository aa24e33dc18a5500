package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const pairingPrefix = "pairing:"

func NewClient(address, username, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     address,
		Username: username,
		Password: password,
		DB:       0,
	})
}

// PairingCodes maps short-lived pairing codes to the device code they reserve.
type PairingCodes struct {
	rdb redis.Cmdable
}

func NewPairingCodes(rdb redis.Cmdable) *PairingCodes {
	return &PairingCodes{rdb: rdb}
}

// Put stores code unless it is already taken. It reports false on a collision.
func (p *PairingCodes) Put(ctx context.Context, code, deviceCode string, ttl time.Duration) (bool, error) {
	ok, err := p.rdb.SetNX(ctx, pairingPrefix+code, deviceCode, ttl).Result()
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to store pairing code")
		return false, err
	}
	return ok, nil
}

// Take returns the device code for code and deletes it, so a code works once.
func (p *PairingCodes) Take(ctx context.Context, code string) (string, bool, error) {
	v, err := p.rdb.GetDel(ctx, pairingPrefix+code).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to read pairing code")
		return "", false, err
	}
	return v, true, nil
}
