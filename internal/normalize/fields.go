package normalize

import "github.com/accmarket/market-bfa-go/internal/domain"

// The upstream returns different field names depending on endpoint and
// category. Every target field below lists its candidate source paths in
// priority order; the first present, convertible value wins, otherwise the
// default applies.

type textField struct {
	paths []string
	def   string
	set   func(*domain.NormalizedAccount, string)
}

type intField struct {
	paths []string
	set   func(*domain.NormalizedAccount, int)
}

// Candidate paths shared by every category.
var (
	idPaths           = []string{"item_id", "id", "itemId"}
	pricePaths        = []string{"price", "priceWithSellerFee", "rub_price"}
	currencyPaths     = []string{"price_currency", "currency"}
	categoryPaths     = []string{"category_name", "category.category_name", "category.name", "category"}
	lastActivityPaths = []string{"steam_last_activity", "account_last_activity", "lastSeen"}
	originPaths       = []string{"item_origin", "origin"}
	warrantyPaths     = []string{"warranty", "guarantee", "guarantee.duration"}
)

const defaultCurrency = "rub"

var commonText = []textField{
	{
		paths: []string{"title", "title_en", "name"},
		def:   domain.UnknownValue,
		set:   func(a *domain.NormalizedAccount, v string) { a.Title = v },
	},
	{
		paths: []string{"seller.username", "seller_name", "user.username"},
		def:   domain.UnknownValue,
		set:   func(a *domain.NormalizedAccount, v string) { a.Seller = v },
	},
}

var commonInt = []intField{
	{
		paths: []string{"view_count", "views"},
		set:   func(a *domain.NormalizedAccount, v int) { a.Views = v },
	},
}

// ============================================================
// Category-specific tables
// ============================================================

var steamPaths = struct {
	level, country, gameCount, games []string
}{
	level:     []string{"steam_level", "steam.level", "steamLevel"},
	country:   []string{"steam_country", "steam.country"},
	gameCount: []string{"steam_full_games.total", "steam_game_count", "steam.game_count"},
	games:     []string{"steam_full_games.list", "steam_games", "steam.games"},
}

var fortnitePaths = struct {
	level, vbucks, skins, pickaxes, emotes []string
}{
	level:    []string{"fortnite_level", "fortnite.level"},
	vbucks:   []string{"fortnite_balance", "fortnite_vbucks", "fortnite.vbucks"},
	skins:    []string{"fortniteSkins", "fortnite_skins", "fortnite_outfits", "fortnite.skins"},
	pickaxes: []string{"fortnitePickaxe", "fortnite_pickaxes", "fortnite.pickaxes"},
	emotes:   []string{"fortniteDance", "fortnite_emotes", "fortnite.emotes"},
}

var riotPaths = struct {
	level, rank, region []string
}{
	level:  []string{"riot_valorant_level", "valorant_level", "riot.valorant_level"},
	rank:   []string{"riot_valorant_rank", "valorant_rank", "riot.valorant_rank"},
	region: []string{"riot_valorant_region", "riot_region", "riot.region"},
}

var discordPaths = struct {
	nitro, created []string
}{
	nitro:   []string{"discord_nitro", "discord.nitro"},
	created: []string{"discord_created_at", "discord_register_date", "discord.created_at"},
}

var instagramPaths = struct {
	followers, posts []string
}{
	followers: []string{"instagram_follower_count", "instagram_followers", "instagram.followers"},
	posts:     []string{"instagram_post_count", "instagram_posts", "instagram.posts"},
}

var telegramPaths = struct {
	premium, country []string
}{
	premium: []string{"telegram_premium", "telegram.premium"},
	country: []string{"telegram_country", "telegram.country"},
}
