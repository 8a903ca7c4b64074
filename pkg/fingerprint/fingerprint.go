// Package fingerprint derives a stable device identifier from environment
// signals, scores how trustworthy the device looks, and remembers the
// fingerprint a session was established on so later checks can spot a
// changed device.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/kv"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultStorageKey is kept apart from the token keys.
	DefaultStorageKey = "device_fingerprint"

	// DefaultMaxAge after which a stored fingerprint is considered stale.
	DefaultMaxAge = 30 * 24 * time.Hour
)

// Hasher digests the canonical signal string.
type Hasher interface {
	Digest(data []byte) []byte
}

// SHA256 is the default Hasher.
type SHA256 struct{}

func (SHA256) Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Fingerprint is a hashed device identity plus the signals behind it.
type Fingerprint struct {
	Hash       string     `json:"fingerprint"`
	DeviceInfo DeviceInfo `json:"device_info"`
	Timestamp  time.Time  `json:"timestamp"`
	Confidence Confidence `json:"confidence"`
}

type Config struct {
	Source SignalSource
	Store  kv.Store

	Hasher     Hasher          // default SHA256
	Clock      clockwork.Clock // default real clock
	Logger     *slog.Logger    // default slog.Default()
	MaxAge     time.Duration   // default DefaultMaxAge
	StorageKey string          // default DefaultStorageKey
}

// Service generates, stores and checks device fingerprints.
type Service struct {
	source SignalSource
	store  kv.Store
	hasher Hasher
	clock  clockwork.Clock
	logger *slog.Logger
	maxAge time.Duration
	key    string
}

func New(cfg Config) *Service {
	s := &Service{
		source: cfg.Source,
		store:  cfg.Store,
		hasher: cfg.Hasher,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		maxAge: cfg.MaxAge,
		key:    cfg.StorageKey,
	}

	if s.hasher == nil {
		s.hasher = SHA256{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAge
	}
	if s.key == "" {
		s.key = DefaultStorageKey
	}
	s.logger = s.logger.With("component", "fingerprint")

	return s
}

// Generate collects the current signals and hashes them. It never fails.
func (s *Service) Generate(ctx context.Context) Fingerprint {
	info := s.source.Collect(ctx)

	return Fingerprint{
		Hash:       hex.EncodeToString(s.hasher.Digest([]byte(info.Canonical()))),
		DeviceInfo: info,
		Timestamp:  s.clock.Now(),
		Confidence: CalculateConfidence(info),
	}
}

// StoreFingerprint persists fp as the reference for later comparisons.
func (s *Service) StoreFingerprint(ctx context.Context, fp Fingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint: %w", err)
	}

	if err := s.store.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("failed to store fingerprint: %w", err)
	}
	return nil
}

// StoredFingerprint returns the stored reference, or nil when there is none.
// An unreadable record is dropped and reported as absent.
func (s *Service) StoredFingerprint(ctx context.Context) (*Fingerprint, error) {
	data, err := s.store.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprint: %w", err)
	}

	var fp Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		s.logger.Warn("discarding corrupt stored fingerprint", "error", err)
		if err := s.store.Delete(ctx, s.key); err != nil {
			s.logger.Error("failed to delete corrupt fingerprint", "error", err)
		}
		return nil, nil
	}

	return &fp, nil
}

// IsStoredFingerprintExpired is true when there is no stored fingerprint or
// it is older than the configured max age.
func (s *Service) IsStoredFingerprintExpired(ctx context.Context) bool {
	fp, err := s.StoredFingerprint(ctx)
	if err != nil || fp == nil {
		return true
	}
	return s.clock.Since(fp.Timestamp) > s.maxAge
}

func (s *Service) ClearStoredFingerprint(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear fingerprint: %w", err)
	}
	return nil
}

// SecurityCheck is the combined device gate used before trusting a session.
type SecurityCheck struct {
	Current    Fingerprint    `json:"current"`
	Validation Validation     `json:"validation"`
	Assessment RiskAssessment `json:"assessment"`
	Risk       RiskLevel      `json:"risk"`

	// FirstSeen is set when no usable reference existed and Current was
	// stored as the new one.
	FirstSeen bool `json:"first_seen"`
}

// CheckSession compares the current device with the stored reference and
// folds in the rule based assessment. With no reference (or a stale one) the
// current fingerprint is adopted, so the first check on a device passes the
// similarity part by definition.
func (s *Service) CheckSession(ctx context.Context) SecurityCheck {
	current := s.Generate(ctx)
	check := SecurityCheck{
		Current:    current,
		Assessment: AssessDeviceRisk(current.DeviceInfo),
	}

	stored, err := s.StoredFingerprint(ctx)
	if err != nil {
		s.logger.Warn("fingerprint lookup failed, treating device as new", "error", err)
	}

	if stored == nil || s.clock.Since(stored.Timestamp) > s.maxAge {
		check.FirstSeen = true
		check.Validation = Validation{IsValid: true, Similarity: 1, RiskLevel: RiskLow}
		if err := s.StoreFingerprint(ctx, current); err != nil {
			s.logger.Warn("failed to store fingerprint", "error", err)
		}
	} else {
		check.Validation = ValidateFingerprint(current.Hash, stored.Hash)
	}

	switch {
	case check.Validation.RiskLevel == RiskHigh || check.Assessment.Recommendation == RecommendBlock:
		check.Risk = RiskHigh
	case check.Validation.RiskLevel == RiskMedium || check.Assessment.Recommendation == RecommendChallenge:
		check.Risk = RiskMedium
	default:
		check.Risk = RiskLow
	}

	if check.Risk != RiskLow {
		s.logger.Info("device risk elevated",
			"risk", check.Risk,
			"similarity", check.Validation.Similarity,
			"score", check.Assessment.Score,
			"factors", check.Assessment.Factors,
			"fingerprint", slogx.Short(current.Hash),
		)
	}

	return check
}
