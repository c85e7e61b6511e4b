package auction

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"

	"github.com/hammerlane/gavel/gavel/database/models"
	lru "github.com/hashicorp/golang-lru"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	lotCodeLength      = 4
	lotCodeMaxAttempts = 5
	defaultHistorySize = 512
)

// Registry owns the authoritative in-memory lot records and each lot's
// serialization point. Every read or write of a registered lot's mutable
// fields happens under WithLot, snapshots included; the registry's own mutex
// guards only the maps and the single live slot.
type Registry struct {
	mu       sync.RWMutex
	lots     map[int64]*models.Lot
	byCode   map[string]int64
	liveLot  int64
	nextID   int64
	history  *lru.Cache
	locks    *xsync.MapOf[int64, *sync.Mutex]
	usedCode sync.Map
}

func NewRegistry(historySize int) *Registry {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	history, err := lru.New(historySize)
	if err != nil {
		panic(fmt.Sprintf("invalid history size: %v", err))
	}
	return &Registry{
		lots:    make(map[int64]*models.Lot),
		byCode:  make(map[string]int64),
		history: history,
		locks:   xsync.NewMapOf[int64, *sync.Mutex](),
	}
}

// Add registers a lot. A zero ID gets the next internal ID and a missing
// lot code gets a generated one, the way new lots arrive from ingestion.
func (r *Registry) Add(lot *models.Lot) error {
	if lot.Phase == "" {
		lot.Phase = models.PhasePending
	}
	if lot.LotCode == "" {
		code, err := r.generateLotCode()
		if err != nil {
			return err
		}
		lot.LotCode = code
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if lot.ID == 0 {
		r.nextID++
		lot.ID = r.nextID
	} else if lot.ID > r.nextID {
		r.nextID = lot.ID
	}
	if _, exists := r.lots[lot.ID]; exists {
		return fmt.Errorf("lot %d already registered", lot.ID)
	}

	r.lots[lot.ID] = lot
	r.byCode[lot.LotCode] = lot.ID
	if lot.Phase.Live() {
		r.liveLot = lot.ID
	}
	return nil
}

// WithLot runs fn while holding the lot's serialization point: one writer at
// a time per lot, unrestricted parallelism across distinct lots. Never
// acquire a second lot's point inside fn.
func (r *Registry) WithLot(id int64, fn func() error) error {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func (r *Registry) lockFor(id int64) *sync.Mutex {
	mu, _ := r.locks.LoadOrCompute(id, func() *sync.Mutex { return new(sync.Mutex) })
	return mu
}

// get returns the mutable record. Callers must hold the lot's serialization
// point before touching any field.
func (r *Registry) get(id int64) *models.Lot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lots[id]
}

// Snapshot returns a copy of the lot taken under its serialization point,
// falling back to terminal history. History entries are immutable, so they
// clone without the lock.
func (r *Registry) Snapshot(id int64) (*models.Lot, error) {
	var clone *models.Lot
	r.WithLot(id, func() error {
		if lot := r.get(id); lot != nil {
			clone = lot.Clone()
		}
		return nil
	})
	if clone != nil {
		return clone, nil
	}
	if v, ok := r.history.Get(id); ok {
		return v.(*models.Lot).Clone(), nil
	}
	return nil, ErrLotNotFound
}

// SnapshotByCode resolves a public lot code.
func (r *Registry) SnapshotByCode(code string) (*models.Lot, error) {
	r.mu.RLock()
	id, ok := r.byCode[code]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrLotNotFound
	}
	return r.Snapshot(id)
}

// LiveLot returns the ID of the lot occupying the live slot, or 0.
func (r *Registry) LiveLot() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveLot
}

// setQueuePosition mirrors a queue position onto the lot record. A nil pos
// clears it.
func (r *Registry) setQueuePosition(id int64, pos *int) {
	r.WithLot(id, func() error {
		if lot := r.get(id); lot != nil {
			lot.QueuePosition = pos
		}
		return nil
	})
}

// claimLive reserves the single live slot for the given lot.
func (r *Registry) claimLive(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.liveLot != 0 && r.liveLot != id {
		return ErrAnotherLotLive
	}
	if _, ok := r.lots[id]; !ok {
		return ErrLotNotFound
	}
	r.liveLot = id
	return nil
}

func (r *Registry) releaseLive(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.liveLot == id {
		r.liveLot = 0
	}
}

// retire moves a terminal lot out of the active map into read-only history.
// The caller holds the lot's serialization point, so the stored clone is the
// final state.
func (r *Registry) retire(lot *models.Lot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lots, lot.ID)
	delete(r.byCode, lot.LotCode)
	if r.liveLot == lot.ID {
		r.liveLot = 0
	}
	r.history.Add(lot.ID, lot.Clone())
}

// Pending returns snapshots of every lot still awaiting promotion.
func (r *Registry) Pending() []*models.Lot {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.lots))
	for id := range r.lots {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var out []*models.Lot
	for _, id := range ids {
		lot, err := r.Snapshot(id)
		if err == nil && lot.Phase == models.PhasePending {
			out = append(out, lot)
		}
	}
	return out
}

func (r *Registry) generateLotCode() (string, error) {
	for i := 0; i < lotCodeMaxAttempts; i++ {
		bytes := make([]byte, 3)
		if _, err := rand.Read(bytes); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}

		encoded := base32.StdEncoding.EncodeToString(bytes)
		code := strings.ToUpper(encoded[:lotCodeLength])

		if _, exists := r.usedCode.LoadOrStore(code, true); !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique lot code after %d attempts", lotCodeMaxAttempts)
}
