package models

import (
	"math"
	"time"
)

// UnknownSeller is used when a listing's display text carries no seller line.
const UnknownSeller = "Unknown"

// RawListing is one record as extracted from the rendered catalog page.
// It is discarded once folded into a Listing.
type RawListing struct {
	DisplayText string `json:"display_text"`
	Link        string `json:"link"`
}

type Listing struct {
	Link        string    `json:"link"`
	Name        string    `json:"name"`
	PriceRaw    string    `json:"price_raw"`
	Price       int64     `json:"price"`
	SellerName  string    `json:"seller_name"`
	SoldRaw     string    `json:"sold_raw"`
	SoldCount   int64     `json:"sold_count"`
	Revenue     int64     `json:"revenue"`
	Page        int       `json:"page"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

func NewListing(link string, page int) *Listing {
	return &Listing{
		Link:        link,
		SellerName:  UnknownSeller,
		Page:        page,
		FirstSeenAt: time.Now(),
	}
}

// SetPrice updates the price and keeps the revenue estimate consistent.
func (l *Listing) SetPrice(raw string, price int64) {
	l.PriceRaw = raw
	l.Price = price
	l.recompute()
}

// SetSold updates the sale count and keeps the revenue estimate consistent.
func (l *Listing) SetSold(raw string, sold int64) {
	l.SoldRaw = raw
	l.SoldCount = sold
	l.recompute()
}

func (l *Listing) recompute() {
	l.Revenue = MulAmount(l.Price, l.SoldCount)
}

// MulAmount multiplies two non-negative amounts, clamping at math.MaxInt64
// instead of wrapping.
func MulAmount(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

// AddAmount adds a non-negative amount to a running total, clamping at
// math.MaxInt64.
func AddAmount(total, amount int64) int64 {
	if amount > 0 && total > math.MaxInt64-amount {
		return math.MaxInt64
	}
	return total + amount
}

func (r RawListing) IsValid() bool {
	return r.Link != "" && r.DisplayText != ""
}
