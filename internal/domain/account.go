package domain

import "strings"

// ============================================================
// Categories
// ============================================================

// Category is the storefront-facing account category.
type Category string

const (
	CategorySteam     Category = "Steam"
	CategoryFortnite  Category = "Fortnite"
	CategoryRiot      Category = "Riot"
	CategoryDiscord   Category = "Discord"
	CategoryInstagram Category = "Instagram"
	CategoryTelegram  Category = "Telegram"
	CategoryOther     Category = "Other"
)

// Categories lists the categories with a dedicated upstream listing.
var Categories = []Category{
	CategorySteam,
	CategoryFortnite,
	CategoryRiot,
	CategoryDiscord,
	CategoryInstagram,
	CategoryTelegram,
}

// ParseCategory maps a tag such as "steam", "Steam" or "valorant" to a
// Category. Unknown tags return CategoryOther and false.
func ParseCategory(tag string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "steam":
		return CategorySteam, true
	case "fortnite":
		return CategoryFortnite, true
	case "riot", "valorant", "lol":
		return CategoryRiot, true
	case "discord":
		return CategoryDiscord, true
	case "instagram":
		return CategoryInstagram, true
	case "telegram":
		return CategoryTelegram, true
	}
	return CategoryOther, false
}

// Slug is the lower-case path segment used by the upstream API.
func (c Category) Slug() string {
	return strings.ToLower(string(c))
}

// ============================================================
// Origins
// ============================================================

// Origin is the enumerated provenance tag of an account.
type Origin string

const (
	OriginBrute    Origin = "brute"
	OriginPhishing Origin = "phishing"
	OriginStealer  Origin = "stealer"
	OriginAutoreg  Origin = "autoreg"
	OriginPersonal Origin = "personal"
	OriginResale   Origin = "resale"
	OriginDummy    Origin = "dummy"
	OriginUnknown  Origin = "unknown"
)

// ParseOrigin returns OriginUnknown for anything outside the fixed set.
func ParseOrigin(s string) Origin {
	switch o := Origin(strings.ToLower(strings.TrimSpace(s))); o {
	case OriginBrute, OriginPhishing, OriginStealer, OriginAutoreg,
		OriginPersonal, OriginResale, OriginDummy:
		return o
	}
	return OriginUnknown
}

// ============================================================
// Normalized accounts
// ============================================================

// UnknownValue is the display default for missing text fields.
const UnknownValue = "Unknown"

// NormalizedAccount is the single UI-facing shape produced from the
// heterogeneous upstream payloads. ID, Price and Category are always set.
// Category-specific detail blocks are embedded so their fields flatten
// into the JSON object; only the block matching Category is non-nil.
type NormalizedAccount struct {
	ID            int64    `json:"id"`
	Title         string   `json:"title"`
	Price         float64  `json:"price"`
	Currency      string   `json:"currency"`
	DisplayPrice  string   `json:"displayPrice"`
	Category      Category `json:"category"`
	LastActivity  string   `json:"lastActivity"`
	Origin        Origin   `json:"origin"`
	WarrantyHours int      `json:"warrantyHours"`
	Warranty      string   `json:"warranty,omitempty"`
	Seller        string   `json:"seller"`
	Views         int      `json:"views"`

	*SteamDetails
	*FortniteDetails
	*RiotDetails
	*DiscordDetails
	*InstagramDetails
	*TelegramDetails
}

// SteamGame is one entry of a Steam game library.
type SteamGame struct {
	Title         string  `json:"title"`
	PlaytimeHours float64 `json:"playtimeHours"`
}

// SteamDetails holds Steam-only fields.
type SteamDetails struct {
	SteamLevel     int                  `json:"steamLevel"`
	SteamCountry   string               `json:"steamCountry"`
	SteamGameCount int                  `json:"steamGameCount"`
	SteamGames     map[string]SteamGame `json:"steamGames"`
}

// FortniteDetails holds Fortnite-only fields.
type FortniteDetails struct {
	FortniteLevel    int      `json:"fortniteLevel"`
	FortniteVbucks   int      `json:"fortniteVbucks"`
	FortniteSkins    []string `json:"fortniteSkins"`
	FortnitePickaxes []string `json:"fortnitePickaxes"`
	FortniteEmotes   []string `json:"fortniteEmotes"`
}

// RiotDetails holds Riot (Valorant / LoL) fields.
type RiotDetails struct {
	RiotValorantLevel int    `json:"riotValorantLevel"`
	RiotValorantRank  string `json:"riotValorantRank"`
	RiotRegion        string `json:"riotRegion"`
}

// DiscordDetails holds Discord-only fields.
type DiscordDetails struct {
	DiscordNitro     bool   `json:"discordNitro"`
	DiscordCreatedAt string `json:"discordCreatedAt"`
}

// InstagramDetails holds Instagram-only fields.
type InstagramDetails struct {
	InstagramFollowers int `json:"instagramFollowers"`
	InstagramPosts     int `json:"instagramPosts"`
}

// TelegramDetails holds Telegram-only fields.
type TelegramDetails struct {
	TelegramPremium bool   `json:"telegramPremium"`
	TelegramCountry string `json:"telegramCountry"`
}

// AccountPage is one page of normalized listings.
// TotalItems is only meaningful when TotalKnown is true.
type AccountPage struct {
	Items      []NormalizedAccount `json:"items"`
	Category   Category            `json:"category,omitempty"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"perPage"`
	TotalItems int                 `json:"totalItems,omitempty"`
	TotalKnown bool                `json:"totalKnown"`
	HasMore    bool                `json:"hasMore"`
}

// CategoryInfo is upstream category metadata from /category.
type CategoryInfo struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Overview is the storefront home page: the first page of each category.
type Overview struct {
	Sections    []AccountPage `json:"sections"`
	GeneratedAt string        `json:"generatedAt"`
}
