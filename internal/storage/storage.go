package storage

import (
	"sort"
	"sync"

	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/parser"
)

// ListingStore accumulates listings for a single crawl run, keyed by link.
// The first listing seen for a link is kept; later sightings are ignored.
type ListingStore struct {
	mu       sync.RWMutex
	parser   parser.Parser
	listings map[string]*models.Listing
	order    []string

	totalRevenue int64
	totalSold    int64
}

func NewListingStore(p parser.Parser) *ListingStore {
	if p == nil {
		p = parser.NewCatalogParser()
	}
	return &ListingStore{
		parser:   p,
		listings: make(map[string]*models.Listing),
	}
}

// UpsertIfAbsent normalizes raw and inserts it unless its link was already
// seen in this run. It reports whether an insertion happened.
func (s *ListingStore) UpsertIfAbsent(raw models.RawListing, page int) bool {
	if raw.Link == "" {
		return false
	}

	s.mu.RLock()
	_, exists := s.listings[raw.Link]
	s.mu.RUnlock()
	if exists {
		return false
	}

	listing := s.parser.ParseListing(raw, page)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[raw.Link]; exists {
		return false
	}

	s.listings[raw.Link] = listing
	s.order = append(s.order, raw.Link)
	s.totalRevenue = models.AddAmount(s.totalRevenue, listing.Revenue)
	s.totalSold = models.AddAmount(s.totalSold, listing.SoldCount)

	return true
}

func (s *ListingStore) Get(link string) (models.Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listing, exists := s.listings[link]
	if !exists {
		return models.Listing{}, false
	}
	return *listing, true
}

// Snapshot returns a copy of all listings sorted by revenue, highest first.
// Listings with equal revenue keep their insertion order.
func (s *ListingStore) Snapshot() []models.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]models.Listing, 0, len(s.order))
	for _, link := range s.order {
		snapshot = append(snapshot, *s.listings[link])
	}

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Revenue > snapshot[j].Revenue
	})

	return snapshot
}

// Top returns at most n listings with the highest revenue.
func (s *ListingStore) Top(n int) []models.Listing {
	snapshot := s.Snapshot()
	if n >= 0 && len(snapshot) > n {
		snapshot = snapshot[:n]
	}
	return snapshot
}

func (s *ListingStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *ListingStore) AggregateRevenue() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalRevenue
}

func (s *ListingStore) AggregateSoldCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSold
}

// GetStats mirrors the aggregates in a form suitable for logging.
func (s *ListingStore) GetStats() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]int64{
		"total":   int64(len(s.order)),
		"revenue": s.totalRevenue,
		"sold":    s.totalSold,
	}
}
