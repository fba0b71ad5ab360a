package ranking

import (
	"strings"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/provider"
)

// Target identifies the tracked business in a result list. Any populated
// field may produce a match.
type Target struct {
	Name    string
	Domain  string
	PlaceID string
	CID     string
}

// TargetFromCampaign builds the match target of a campaign.
func TargetFromCampaign(c *domain.Campaign) Target {
	return Target{Name: c.BusinessName, Domain: c.Domain, PlaceID: c.PlaceID, CID: c.CID}
}

// Matches reports whether e is the target: by external id, then by domain
// ignoring case and a leading "www.", then by case-insensitive name substring.
func (t Target) Matches(e domain.RankedEntity) bool {
	if e.ExternalID != "" && (e.ExternalID == t.PlaceID || e.ExternalID == t.CID) {
		return true
	}
	if d := NormalizeDomain(t.Domain); d != "" && d == NormalizeDomain(e.Domain) {
		return true
	}
	if name := NormalizeName(t.Name); name != "" && strings.Contains(NormalizeName(e.Name), name) {
		return true
	}
	return false
}

// NormalizeDomain lowercases a host and strips scheme, "www." and any path.
func NormalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, ".")
}

// NormalizeName lowercases and collapses whitespace.
func NormalizeName(n string) string {
	return strings.Join(strings.Fields(strings.ToLower(n)), " ")
}

// Identity is the grouping key of an entity across points: external id when
// known, else domain, else normalized name.
func Identity(e domain.RankedEntity) string {
	if e.ExternalID != "" {
		return "id:" + e.ExternalID
	}
	if d := NormalizeDomain(e.Domain); d != "" {
		return "domain:" + d
	}
	return "name:" + NormalizeName(e.Name)
}

// expectedTypes lists the item variants ranked for a search type.
func expectedTypes(t domain.SearchType) map[provider.ItemType]bool {
	if t == domain.SearchTypeOrganic {
		return map[provider.ItemType]bool{provider.ItemOrganic: true, provider.ItemLocalPack: true}
	}
	return map[provider.ItemType]bool{provider.ItemMaps: true}
}

// normalize filters items to the expected variants and assigns 1-based ranks
// in list order, keeping at most depth entries. The result does not depend on
// the target so it can be cached and shared between campaigns.
func normalize(items []provider.Item, searchType domain.SearchType, depth int) []domain.RankedEntity {
	want := expectedTypes(searchType)
	out := make([]domain.RankedEntity, 0, min(len(items), depth))
	for _, item := range items {
		if len(out) >= depth {
			break
		}
		if !want[item.Type()] {
			continue
		}

		var e domain.RankedEntity
		switch v := item.(type) {
		case provider.MapsItem:
			e = domain.RankedEntity{Name: v.Title, Domain: v.Domain, ExternalID: firstNonEmpty(v.PlaceID, v.CID)}
			applyRating(&e, v.Rating)
		case provider.LocalPackItem:
			e = domain.RankedEntity{Name: v.Title, Domain: v.Domain, ExternalID: v.CID}
			applyRating(&e, v.Rating)
		case provider.OrganicItem:
			e = domain.RankedEntity{Name: v.Title, Domain: v.Domain}
		default:
			continue
		}
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out
}

func applyRating(e *domain.RankedEntity, r *provider.Rating) {
	if r == nil {
		return
	}
	e.Rating = r.Value
	e.ReviewCount = r.VotesCount
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
