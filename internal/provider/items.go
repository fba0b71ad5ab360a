package provider

import "encoding/json"

// ItemType is the discriminator carried by every result item.
type ItemType string

const (
	ItemOrganic   ItemType = "organic"
	ItemMaps      ItemType = "maps_search"
	ItemLocalPack ItemType = "local_pack"
)

// Item is one typed entry of a result list. Concrete types are OrganicItem,
// MapsItem and LocalPackItem; any other type tag is dropped while decoding.
type Item interface {
	Type() ItemType
}

// Rating is the review summary attached to business results.
type Rating struct {
	Value      *float64 `json:"value"`
	VotesCount int      `json:"votes_count"`
}

type OrganicItem struct {
	RankGroup    int    `json:"rank_group"`
	RankAbsolute int    `json:"rank_absolute"`
	Domain       string `json:"domain"`
	Title        string `json:"title"`
	URL          string `json:"url"`
}

func (OrganicItem) Type() ItemType { return ItemOrganic }

type MapsItem struct {
	RankGroup    int     `json:"rank_group"`
	RankAbsolute int     `json:"rank_absolute"`
	Title        string  `json:"title"`
	Domain       string  `json:"domain"`
	PlaceID      string  `json:"place_id"`
	CID          string  `json:"cid"`
	Rating       *Rating `json:"rating"`
}

func (MapsItem) Type() ItemType { return ItemMaps }

type LocalPackItem struct {
	RankGroup    int     `json:"rank_group"`
	RankAbsolute int     `json:"rank_absolute"`
	Title        string  `json:"title"`
	Domain       string  `json:"domain"`
	CID          string  `json:"cid"`
	Rating       *Rating `json:"rating"`
}

func (LocalPackItem) Type() ItemType { return ItemLocalPack }

// decodeItems turns raw items into typed variants. Unknown types and items
// that fail to decode are skipped.
func decodeItems(raw []json.RawMessage) []Item {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		var tag struct {
			Type ItemType `json:"type"`
		}
		if err := json.Unmarshal(r, &tag); err != nil {
			continue
		}

		var (
			item Item
			err  error
		)
		switch tag.Type {
		case ItemOrganic:
			var v OrganicItem
			err = json.Unmarshal(r, &v)
			item = v
		case ItemMaps:
			var v MapsItem
			err = json.Unmarshal(r, &v)
			item = v
		case ItemLocalPack:
			var v LocalPackItem
			err = json.Unmarshal(r, &v)
			item = v
		default:
			continue
		}
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	return items
}
