// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit implements token-bucket bandwidth limiting and a
// small set of composable admission gates (bandwidth, disk queue depth)
// that a transfer must clear before it's allowed to proceed.
package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter's egress/ingress token buckets.
type Config struct {
	EgressBitsPerSec  uint64 `yaml:"egress_bits_per_sec"`
	IngressBitsPerSec uint64 `yaml:"ingress_bits_per_sec"`

	// TokenSize is the number of bits represented by a single token in the
	// underlying rate limiter. Smaller values give finer-grained limiting
	// at the cost of more bookkeeping.
	TokenSize uint64 `yaml:"token_size"`

	// Enable toggles whether limiting is actually enforced. When false,
	// Reserve calls are no-ops.
	Enable bool `yaml:"enable"`
}

func (c Config) applyDefaults() Config {
	if c.TokenSize == 0 {
		c.TokenSize = 8 * 1024 // 1 KiB of bits.
	}
	return c
}

// Limiter enforces independent egress and ingress bandwidth caps using
// token-bucket rate limiting.
type Limiter struct {
	config  Config
	egress  *rate.Limiter
	ingress *rate.Limiter
}

// NewLimiter creates a Limiter from config. If config.Enable is false, the
// returned Limiter admits all reservations unconditionally.
func NewLimiter(config Config) (*Limiter, error) {
	config = config.applyDefaults()

	if !config.Enable {
		return &Limiter{config: config}, nil
	}
	if config.EgressBitsPerSec == 0 {
		return nil, errors.New("ratelimit: egress_bits_per_sec must be non-zero")
	}
	if config.IngressBitsPerSec == 0 {
		return nil, errors.New("ratelimit: ingress_bits_per_sec must be non-zero")
	}

	egressTokens := float64(config.EgressBitsPerSec) / float64(config.TokenSize)
	ingressTokens := float64(config.IngressBitsPerSec) / float64(config.TokenSize)

	burst := int(egressTokens)
	if int(ingressTokens) > burst {
		burst = int(ingressTokens)
	}
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		config:  config,
		egress:  rate.NewLimiter(rate.Limit(egressTokens), burst),
		ingress: rate.NewLimiter(rate.Limit(ingressTokens), burst),
	}, nil
}

func (l *Limiter) reserve(lim *rate.Limiter, nbytes int64) error {
	if lim == nil {
		return nil
	}
	tokens := int(bitsOf(nbytes) / int64(l.config.TokenSize))
	if tokens == 0 {
		tokens = 1
	}
	r := lim.ReserveN(time.Now(), tokens)
	if !r.OK() {
		return fmt.Errorf("ratelimit: reservation of %d bytes exceeds bucket burst", nbytes)
	}
	delay := r.Delay()
	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

// ReserveEgress blocks until nbytes worth of egress bandwidth has been
// reserved.
func (l *Limiter) ReserveEgress(nbytes int64) error {
	return l.reserve(l.egress, nbytes)
}

// ReserveIngress blocks until nbytes worth of ingress bandwidth has been
// reserved.
func (l *Limiter) ReserveIngress(nbytes int64) error {
	return l.reserve(l.ingress, nbytes)
}

// EgressLimit returns the current egress bytes-per-second limit, or 0 if
// disabled.
func (l *Limiter) EgressLimit() int64 {
	if l.egress == nil {
		return 0
	}
	return int64(float64(l.egress.Limit()) * float64(l.config.TokenSize) / 8)
}

// IngressLimit returns the current ingress bytes-per-second limit, or 0 if
// disabled.
func (l *Limiter) IngressLimit() int64 {
	if l.ingress == nil {
		return 0
	}
	return int64(float64(l.ingress.Limit()) * float64(l.config.TokenSize) / 8)
}

// Adjust divides both limits by denom, used to fairly split a shared cap
// across denom concurrent transfers.
func (l *Limiter) Adjust(denom int) error {
	if denom <= 0 {
		return fmt.Errorf("ratelimit: denom must be positive, got %d", denom)
	}
	if l.egress != nil {
		l.egress.SetLimit(l.egress.Limit() / rate.Limit(denom))
	}
	if l.ingress != nil {
		l.ingress.SetLimit(l.ingress.Limit() / rate.Limit(denom))
	}
	return nil
}

func bitsOf(nbytes int64) int64 {
	return nbytes * 8
}
