package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"flowmap-stream-go/internal/codec"
)

// ImageClass names an independent stream of images with its own slot pair.
type ImageClass int

const (
	FlowMap ImageClass = iota + 1
	Frame
	TransformedFrame
)

var classNames = map[ImageClass]string{
	FlowMap:          "flowmap",
	Frame:            "frame",
	TransformedFrame: "transformed_frame",
}

func (c ImageClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ParseClass accepts the names produced by String.
func ParseClass(name string) (ImageClass, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for class, n := range classNames {
		if n == name {
			return class, nil
		}
	}
	return 0, fmt.Errorf("unknown image class %q", name)
}

// AllClasses lists every known class in a stable order.
func AllClasses() []ImageClass {
	return []ImageClass{FlowMap, Frame, TransformedFrame}
}

var ErrUntrackedClass = errors.New("store: image class not tracked")

// Snapshot is a consistent read of one slot pair. Next is nil while
// IsFirstImage is true; Current is nil before the first deposit.
type Snapshot struct {
	Class         ImageClass
	Current       *codec.Image
	Next          *codec.Image
	IsFirstImage  bool
	BlendProgress float64
	Sequence      uint64
	UpdatedAt     time.Time
}

type slotPair struct {
	current      *codec.Image
	next         *codec.Image
	isFirstImage bool
	blend        float64
	sequence     uint64
	updatedAt    time.Time
}

// Store holds one slot pair per tracked class. A single mutex covers the
// swap-and-load in Deposit and the copy in Snapshot so readers never observe
// a half-swapped pair.
type Store struct {
	mu    sync.Mutex
	slots map[ImageClass]*slotPair
	now   func() time.Time
}

// New tracks the given classes; with none it tracks all of them.
func New(classes ...ImageClass) *Store {
	if len(classes) == 0 {
		classes = AllClasses()
	}
	s := &Store{
		slots: make(map[ImageClass]*slotPair, len(classes)),
		now:   time.Now,
	}
	for _, class := range classes {
		s.slots[class] = &slotPair{isFirstImage: true}
	}
	return s
}

// Tracks reports whether class has a slot pair.
func (s *Store) Tracks(class ImageClass) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[class]
	return ok
}

// Deposit loads img into the slot pair for class. The first image becomes
// current; from the second on, the previous newest image moves to current,
// img becomes next and blend progress restarts at zero.
func (s *Store) Deposit(class ImageClass, img *codec.Image) (uint64, error) {
	if img == nil {
		return 0, errors.New("store: nil image")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[class]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUntrackedClass, class)
	}

	switch {
	case slot.current == nil:
		slot.current = img
	case slot.isFirstImage:
		slot.next = img
		slot.isFirstImage = false
	default:
		slot.current = slot.next
		slot.next = img
	}
	slot.blend = 0
	slot.sequence++
	slot.updatedAt = s.now()
	return slot.sequence, nil
}

// AdvanceBlend moves blend progress forward by dt/interval, clamped to [0,1].
// It returns the new progress. While only one image is present the progress
// stays at zero.
func (s *Store) AdvanceBlend(class ImageClass, dt, interval time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[class]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUntrackedClass, class)
	}
	if slot.isFirstImage {
		return slot.blend, nil
	}
	if interval <= 0 {
		slot.blend = 1
		return slot.blend, nil
	}
	slot.blend += float64(dt) / float64(interval)
	if slot.blend < 0 {
		slot.blend = 0
	}
	if slot.blend > 1 {
		slot.blend = 1
	}
	return slot.blend, nil
}

func (s *Store) Snapshot(class ImageClass) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[class]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUntrackedClass, class)
	}
	return Snapshot{
		Class:         class,
		Current:       slot.current,
		Next:          slot.next,
		IsFirstImage:  slot.isFirstImage,
		BlendProgress: slot.blend,
		Sequence:      slot.sequence,
		UpdatedAt:     slot.updatedAt,
	}, nil
}

// Latest returns the newest image for class, or nil.
func (s *Store) Latest(class ImageClass) *codec.Image {
	snap, err := s.Snapshot(class)
	if err != nil {
		return nil
	}
	if snap.Next != nil {
		return snap.Next
	}
	return snap.Current
}

// Reset empties the slot pair for class. The next deposit is treated as
// the first image again.
func (s *Store) Reset(class ImageClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[class]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUntrackedClass, class)
	}
	*slot = slotPair{isFirstImage: true}
	return nil
}

// ClassStats is the per-class view used by status reporting.
type ClassStats struct {
	Deposits      uint64    `json:"deposits"`
	IsFirstImage  bool      `json:"is_first_image"`
	BlendProgress float64   `json:"blend_progress"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

func (s *Store) Stats() map[string]ClassStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ClassStats, len(s.slots))
	for class, slot := range s.slots {
		stats := ClassStats{
			Deposits:      slot.sequence,
			IsFirstImage:  slot.isFirstImage,
			BlendProgress: slot.blend,
			UpdatedAt:     slot.updatedAt,
		}
		latest := slot.next
		if latest == nil {
			latest = slot.current
		}
		if latest != nil {
			stats.Width = latest.Width
			stats.Height = latest.Height
		}
		out[class.String()] = stats
	}
	return out
}
