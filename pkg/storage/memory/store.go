// Package memory implements the storage interfaces in process memory. It backs
// local runs and engine tests; values are copied in and out so callers never
// share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/chris/tax-credit-settlement/pkg/storage"
	"github.com/puzpuzpuz/xsync/v3"
)

// Store implements storage.Storage.
type Store struct {
	instruments   *xsync.MapOf[string, *models.CreditInstrument]
	auctions      *xsync.MapOf[string, *models.Auction]
	offers        *xsync.MapOf[string, *models.Offer]
	compensations *xsync.MapOf[string, *models.CompensationRequest]
	profiles      *xsync.MapOf[string, *models.ReputationProfile]

	// instrumentMu serializes instrument writes so multi-instrument updates and
	// instrument-guarded auction writes see a stable set of versions.
	instrumentMu sync.Mutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		instruments:   xsync.NewMapOf[string, *models.CreditInstrument](),
		auctions:      xsync.NewMapOf[string, *models.Auction](),
		offers:        xsync.NewMapOf[string, *models.Offer](),
		compensations: xsync.NewMapOf[string, *models.CompensationRequest](),
		profiles:      xsync.NewMapOf[string, *models.ReputationProfile](),
	}
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)

// create inserts v under key at version 1 unless the key is taken.
func create[V any](m *xsync.MapOf[string, V], key string, v V, setVersion func(int64)) error {
	var err error
	m.Compute(key, func(old V, loaded bool) (V, bool) {
		if loaded {
			err = storage.ErrAlreadyExists
			return old, false
		}
		setVersion(1)
		return v, false
	})
	return err
}

// update replaces the value under key when its stored version equals expected.
func update[V any](m *xsync.MapOf[string, V], key string, v V, version func(V) int64, bump func()) error {
	var err error
	m.Compute(key, func(old V, loaded bool) (V, bool) {
		if !loaded {
			err = storage.ErrNotFound
			var zero V
			return zero, true
		}
		if version(old) != version(v) {
			err = storage.ErrVersionConflict
			return old, false
		}
		bump()
		return v, false
	})
	return err
}

// GetInstrument retrieves an instrument by its ID.
func (s *Store) GetInstrument(ctx context.Context, id string) (*models.CreditInstrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inst, ok := s.instruments.Load(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return inst.Clone(), nil
}

// CreateInstrument stores a new instrument at version 1.
func (s *Store) CreateInstrument(ctx context.Context, inst *models.CreditInstrument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := inst.Clone()
	if err := create(s.instruments, inst.Id, cp, func(v int64) { cp.Version = v }); err != nil {
		return err
	}
	inst.Version = cp.Version
	return nil
}

// UpdateInstrument performs a versioned write.
func (s *Store) UpdateInstrument(ctx context.Context, inst *models.CreditInstrument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.instrumentMu.Lock()
	defer s.instrumentMu.Unlock()
	return s.updateInstrument(inst)
}

func (s *Store) updateInstrument(inst *models.CreditInstrument) error {
	cp := inst.Clone()
	err := update(s.instruments, inst.Id, cp,
		func(v *models.CreditInstrument) int64 { return v.Version },
		func() { cp.Version++ })
	if err != nil {
		return err
	}
	inst.Version = cp.Version
	return nil
}

// checkInstrument reports whether id is stored at version. Callers hold instrumentMu.
func (s *Store) checkInstrument(id string, version int64) error {
	stored, ok := s.instruments.Load(id)
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Version != version {
		return storage.ErrVersionConflict
	}
	return nil
}

// UpdateInstruments checks every version and writes every instrument while
// holding the instrument write lock, so either all writes land or none does.
func (s *Store) UpdateInstruments(ctx context.Context, insts ...*models.CreditInstrument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.instrumentMu.Lock()
	defer s.instrumentMu.Unlock()

	seen := make(map[string]bool, len(insts))
	for _, inst := range insts {
		if seen[inst.Id] {
			return storage.ErrVersionConflict
		}
		seen[inst.Id] = true
		if err := s.checkInstrument(inst.Id, inst.Version); err != nil {
			return err
		}
	}
	for _, inst := range insts {
		if err := s.updateInstrument(inst); err != nil {
			// Unreachable: versions were checked under the same lock.
			return err
		}
	}
	return nil
}

// GetAuction retrieves an auction by its ID.
func (s *Store) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := s.auctions.Load(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

// ListDueAuctions retrieves open auctions ending at or before cutoff, earliest first.
func (s *Store) ListDueAuctions(ctx context.Context, cutoff time.Time) ([]models.Auction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var due []models.Auction
	s.auctions.Range(func(_ string, a *models.Auction) bool {
		if a.Status == models.AuctionOpen && !a.EndTime.After(cutoff) {
			due = append(due, *a.Clone())
		}
		return true
	})
	sort.Slice(due, func(i, j int) bool {
		if due[i].EndTime.Equal(due[j].EndTime) {
			return due[i].Id < due[j].Id
		}
		return due[i].EndTime.Before(due[j].EndTime)
	})
	return due, nil
}

// CreateAuction stores a new auction at version 1.
func (s *Store) CreateAuction(ctx context.Context, auction *models.Auction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := auction.Clone()
	if err := create(s.auctions, auction.Id, cp, func(v int64) { cp.Version = v }); err != nil {
		return err
	}
	auction.Version = cp.Version
	return nil
}

// UpdateAuction performs a versioned write.
func (s *Store) UpdateAuction(ctx context.Context, auction *models.Auction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := auction.Clone()
	err := update(s.auctions, auction.Id, cp,
		func(v *models.Auction) int64 { return v.Version },
		func() { cp.Version++ })
	if err != nil {
		return err
	}
	auction.Version = cp.Version
	return nil
}

// UpdateAuctionIfInstrument performs the versioned auction write while the
// instrument is held at instrumentVersion.
func (s *Store) UpdateAuctionIfInstrument(ctx context.Context, auction *models.Auction, instrumentID string, instrumentVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.instrumentMu.Lock()
	defer s.instrumentMu.Unlock()

	if err := s.checkInstrument(instrumentID, instrumentVersion); err != nil {
		return err
	}
	return s.UpdateAuction(ctx, auction)
}

// GetOffer retrieves an offer by its ID.
func (s *Store) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o, ok := s.offers.Load(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return o.Clone(), nil
}

// ListOffersByInstrument retrieves every offer on an instrument, oldest first.
func (s *Store) ListOffersByInstrument(ctx context.Context, instrumentID string) ([]models.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Offer
	s.offers.Range(func(_ string, o *models.Offer) bool {
		if o.InstrumentId == instrumentID {
			out = append(out, *o.Clone())
		}
		return true
	})
	sortOffers(out)
	return out, nil
}

// ListExpiringOffers retrieves pending offers whose expiry is at or before cutoff.
func (s *Store) ListExpiringOffers(ctx context.Context, cutoff time.Time) ([]models.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Offer
	s.offers.Range(func(_ string, o *models.Offer) bool {
		if o.Status == models.OfferPending && !o.Expiry.After(cutoff) {
			out = append(out, *o.Clone())
		}
		return true
	})
	sortOffers(out)
	return out, nil
}

func sortOffers(offers []models.Offer) {
	sort.Slice(offers, func(i, j int) bool {
		if offers[i].CreatedAt.Equal(offers[j].CreatedAt) {
			return offers[i].Id < offers[j].Id
		}
		return offers[i].CreatedAt.Before(offers[j].CreatedAt)
	})
}

// CreateOffer stores a new offer at version 1.
func (s *Store) CreateOffer(ctx context.Context, offer *models.Offer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := offer.Clone()
	if err := create(s.offers, offer.Id, cp, func(v int64) { cp.Version = v }); err != nil {
		return err
	}
	offer.Version = cp.Version
	return nil
}

// UpdateOffer performs a versioned write.
func (s *Store) UpdateOffer(ctx context.Context, offer *models.Offer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := offer.Clone()
	err := update(s.offers, offer.Id, cp,
		func(v *models.Offer) int64 { return v.Version },
		func() { cp.Version++ })
	if err != nil {
		return err
	}
	offer.Version = cp.Version
	return nil
}

// GetCompensation retrieves a compensation request by its ID.
func (s *Store) GetCompensation(ctx context.Context, id string) (*models.CompensationRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := s.compensations.Load(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

// CreateCompensation stores a new request at version 1.
func (s *Store) CreateCompensation(ctx context.Context, req *models.CompensationRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := req.Clone()
	if err := create(s.compensations, req.Id, cp, func(v int64) { cp.Version = v }); err != nil {
		return err
	}
	req.Version = cp.Version
	return nil
}

// UpdateCompensation performs a versioned write.
func (s *Store) UpdateCompensation(ctx context.Context, req *models.CompensationRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := req.Clone()
	err := update(s.compensations, req.Id, cp,
		func(v *models.CompensationRequest) int64 { return v.Version },
		func() { cp.Version++ })
	if err != nil {
		return err
	}
	req.Version = cp.Version
	return nil
}

// GetProfile retrieves a user's reputation profile.
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.ReputationProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := s.profiles.Load(userID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// SaveProfile creates the profile at version 0, otherwise performs a versioned write.
func (s *Store) SaveProfile(ctx context.Context, profile *models.ReputationProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := profile.Clone()
	var err error
	if profile.Version == 0 {
		err = create(s.profiles, profile.UserId, cp, func(v int64) { cp.Version = v })
		if err == storage.ErrAlreadyExists {
			err = storage.ErrVersionConflict
		}
	} else {
		err = update(s.profiles, profile.UserId, cp,
			func(v *models.ReputationProfile) int64 { return v.Version },
			func() { cp.Version++ })
	}
	if err != nil {
		return err
	}
	profile.Version = cp.Version
	return nil
}
