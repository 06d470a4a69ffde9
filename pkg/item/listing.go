package item

import (
	"fmt"
	"strings"
)

// Listing selects one of the ranked id lists.
type Listing string

const (
	ListingTop  Listing = "top"
	ListingNew  Listing = "new"
	ListingBest Listing = "best"
	ListingAsk  Listing = "ask"
	ListingShow Listing = "show"
	ListingJob  Listing = "job"
)

// Listings lists every known Listing.
var Listings = []Listing{ListingTop, ListingNew, ListingBest, ListingAsk, ListingShow, ListingJob}

// ParseListing converts a name such as "top" or "TopStories" to a Listing.
func ParseListing(s string) (Listing, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "stories")
	for _, l := range Listings {
		if string(l) == name {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown listing %q", s)
}

// Path returns the API path of the listing, e.g. "/v0/topstories.json".
func (l Listing) Path() string {
	return fmt.Sprintf("/v0/%sstories.json", l)
}
