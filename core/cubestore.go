package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// CubeMeta is the lightweight, re-derivable-from-the-binary metadata
// CubeStore tracks per key (spec.md §4.D).
type CubeMeta struct {
	Key            [CubeKeySize]byte
	Date           time.Time
	ChallengeLevel int
	CubeType       CubeType
}

// RetentionPolicy bounds the accepted date window for incoming cubes.
// Disabled (Enabled=false) by default, matching spec.md's "optional
// retention policy may drop entries outside a date window".
type RetentionPolicy struct {
	Enabled bool
	Past    time.Duration
	Future  time.Duration
}

// CubeStore is the deduplicated, content-addressed record store of
// spec.md §4.D. The backing Backend is an external collaborator
// (spec.md §1); CubeStore itself only owns metadata, the contest rule,
// retention, and the cube_added notification.
type CubeStore struct {
	mu sync.Mutex // serializes the whole add-cube critical section: single writer across all keys at once, satisfying the "single-writer per key at minimum" requirement of spec.md §5 with the simplest correct implementation.

	backend    Backend
	difficulty int
	retention  RetentionPolicy
	now        func() time.Time

	metaMu sync.RWMutex
	meta   map[[CubeKeySize]byte]CubeMeta

	added *eventBus[CubeMeta]

	log   *logrus.Logger
	audit *zap.Logger
}

// NewCubeStore creates an empty CubeStore over backend, validating
// incoming frozen cubes at requiredDifficulty.
func NewCubeStore(backend Backend, requiredDifficulty int) *CubeStore {
	audit, _ := zap.NewDevelopment()
	if audit == nil {
		audit = zap.NewNop()
	}
	return &CubeStore{
		backend:    backend,
		difficulty: requiredDifficulty,
		now:        time.Now,
		meta:       make(map[[CubeKeySize]byte]CubeMeta),
		added:      newEventBus[CubeMeta](),
		log:        logrus.StandardLogger(),
		audit:      audit,
	}
}

// WithRetention enables the retention window check.
func (s *CubeStore) WithRetention(past, future time.Duration) *CubeStore {
	s.retention = RetentionPolicy{Enabled: true, Past: past, Future: future}
	return s
}

// SubscribeCubeAdded registers fn to be called whenever a cube is newly
// stored or wins a contest. Unsubscribe with the returned id when done.
func (s *CubeStore) SubscribeCubeAdded(fn func(CubeMeta)) listenerID {
	return s.added.Subscribe(fn)
}

// UnsubscribeCubeAdded removes a handler registered with
// SubscribeCubeAdded.
func (s *CubeStore) UnsubscribeCubeAdded(id listenerID) {
	s.added.Unsubscribe(id)
}

// AddCube runs the acceptance pipeline of spec.md §4.D over raw (either
// a CubeSize-byte binary or an already-sealed *Cube). It returns
// (meta, nil) when the cube is newly stored or wins a contest,
// (nil, nil) when the input was valid but not stored (duplicate, lost
// the contest, or dated outside an enabled retention window), and
// (nil, err) when the input was rejected
// outright. Per spec.md §7, callers processing untrusted network input
// should log err and move on rather than treat it as fatal.
func (s *CubeStore) AddCube(raw any) (*CubeMeta, error) {
	bin, err := cubeBytes(raw)
	if err != nil {
		return nil, err
	}
	if len(bin) != CubeSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBinaryLength, len(bin), CubeSize)
	}

	cube, err := decodeCube(bin)
	if err != nil {
		s.log.WithError(err).Debug("cubestore: rejecting malformed cube")
		return nil, err
	}
	if err := cube.Validate(s.difficulty); err != nil {
		s.log.WithError(err).Debug("cubestore: rejecting cube that failed authenticity check")
		return nil, err
	}

	date := cube.Date()
	if s.retention.Enabled {
		now := s.now()
		if date.Before(now.Add(-s.retention.Past)) || date.After(now.Add(s.retention.Future)) {
			s.log.WithField("date", date).Debug("cubestore: rejecting cube outside retention window")
			return nil, nil
		}
	}

	key, err := cube.Key()
	if err != nil {
		return nil, err
	}
	challenge, err := cube.ChallengeLevel()
	if err != nil {
		return nil, err
	}
	newMeta := CubeMeta{Key: key, Date: date, ChallengeLevel: challenge, CubeType: cube.cubeType}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.metaMu.RLock()
	existing, known := s.meta[key]
	s.metaMu.RUnlock()

	if !known {
		if err := s.store(key, bin, newMeta); err != nil {
			return nil, err
		}
		return &newMeta, nil
	}

	if existing.CubeType != CubeTypeMUC {
		// Content-addressed duplicate: identical content would hash to
		// the same key, so this is never a legitimate update.
		return nil, nil
	}

	oldBin, ok, err := s.backend.Get(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		// Metadata says we have it but the backend disagrees; treat the
		// incoming cube as authoritative.
		if err := s.store(key, bin, newMeta); err != nil {
			return nil, err
		}
		return &newMeta, nil
	}
	oldHash := ContentHash(oldBin)
	newHash := ContentHash(bin)

	if !cubeContestWins(existing.Date, newMeta.Date, existing.ChallengeLevel, newMeta.ChallengeLevel, oldHash, newHash) {
		s.audit.Debug("cube contest: incumbent retained",
			zap.String("key", fmt.Sprintf("%x", key)),
			zap.Time("incumbent_date", existing.Date),
			zap.Time("challenger_date", newMeta.Date))
		return nil, nil
	}

	s.audit.Info("cube contest: challenger wins",
		zap.String("key", fmt.Sprintf("%x", key)),
		zap.Int("old_challenge_level", existing.ChallengeLevel),
		zap.Int("new_challenge_level", newMeta.ChallengeLevel))
	if err := s.store(key, bin, newMeta); err != nil {
		return nil, err
	}
	return &newMeta, nil
}

func (s *CubeStore) store(key [CubeKeySize]byte, bin []byte, meta CubeMeta) error {
	if err := s.backend.Put(key, bin); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.metaMu.Lock()
	s.meta[key] = meta
	s.metaMu.Unlock()
	s.added.Publish(meta)
	return nil
}

// cubeContestWins implements spec.md §4.D's total order: newer date
// wins; tie broken by higher challenge level; tie broken by larger
// hash, byte-wise lexicographic.
func cubeContestWins(oldDate, newDate time.Time, oldChallenge, newChallenge int, oldHash, newHash [HashSize]byte) bool {
	if !newDate.Equal(oldDate) {
		return newDate.After(oldDate)
	}
	if newChallenge != oldChallenge {
		return newChallenge > oldChallenge
	}
	for i := range oldHash {
		if newHash[i] != oldHash[i] {
			return newHash[i] > oldHash[i]
		}
	}
	return false
}

func cubeBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case *Cube:
		return v.Binary()
	default:
		return nil, fmt.Errorf("%w: AddCube expects []byte or *Cube, got %T", ErrAPIMisuse, raw)
	}
}

// HasCube reports whether key is currently stored.
func (s *CubeStore) HasCube(key [CubeKeySize]byte) bool {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	_, ok := s.meta[key]
	return ok
}

// GetCube returns the decoded cube stored under key, if any.
func (s *CubeStore) GetCube(key [CubeKeySize]byte) (*Cube, bool, error) {
	bin, ok, err := s.backend.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	c, err := decodeCube(bin)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// GetCubeInfo returns the stored CubeMeta for key, if any.
func (s *CubeStore) GetCubeInfo(key [CubeKeySize]byte) (CubeMeta, bool) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	m, ok := s.meta[key]
	return m, ok
}

// AllKeys returns every key currently stored, in unspecified order.
func (s *CubeStore) AllKeys() [][CubeKeySize]byte {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	out := make([][CubeKeySize]byte, 0, len(s.meta))
	for k := range s.meta {
		out = append(out, k)
	}
	return out
}

// AllMeta returns every stored CubeMeta, in unspecified order.
func (s *CubeStore) AllMeta() []CubeMeta {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	out := make([]CubeMeta, 0, len(s.meta))
	for _, m := range s.meta {
		out = append(out, m)
	}
	return out
}
