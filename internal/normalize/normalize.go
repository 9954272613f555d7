// Package normalize maps heterogeneous marketplace records onto
// domain.NormalizedAccount. Every function here is pure and never fails:
// missing or malformed fields resolve to documented defaults.
package normalize

import (
	"strings"

	"github.com/accmarket/market-bfa-go/internal/domain"
)

// Account normalizes one raw record. category is the tag the record was
// listed under; pass "" (or CategoryOther) to infer it from the record.
func Account(raw Raw, category domain.Category) domain.NormalizedAccount {
	var acc domain.NormalizedAccount

	acc.ID, _ = firstOf(raw, idPaths, asInt64)
	acc.Price, _ = firstOf(raw, pricePaths, asFloat)

	currency, ok := firstOf(raw, currencyPaths, asString)
	if !ok {
		currency = defaultCurrency
	}
	acc.Currency = strings.ToLower(currency)
	acc.DisplayPrice = formatPrice(acc.Price, acc.Currency)

	acc.Category = resolveCategory(raw, category)
	acc.LastActivity = displayTime(raw, lastActivityPaths)

	origin, _ := firstOf(raw, originPaths, asString)
	acc.Origin = domain.ParseOrigin(origin)

	acc.WarrantyHours, _ = firstOf(raw, warrantyPaths, asWarrantyHours)
	acc.Warranty = formatWarranty(acc.WarrantyHours)

	for _, f := range commonText {
		v, ok := firstOf(raw, f.paths, asString)
		if !ok {
			v = f.def
		}
		f.set(&acc, v)
	}
	for _, f := range commonInt {
		v, _ := firstOf(raw, f.paths, asInt)
		f.set(&acc, v)
	}

	switch acc.Category {
	case domain.CategorySteam:
		acc.SteamDetails = steamDetails(raw)
	case domain.CategoryFortnite:
		acc.FortniteDetails = fortniteDetails(raw)
	case domain.CategoryRiot:
		acc.RiotDetails = riotDetails(raw)
	case domain.CategoryDiscord:
		acc.DiscordDetails = discordDetails(raw)
	case domain.CategoryInstagram:
		acc.InstagramDetails = instagramDetails(raw)
	case domain.CategoryTelegram:
		acc.TelegramDetails = telegramDetails(raw)
	}

	return acc
}

// Accounts maps raw records element-wise. The result is never nil.
func Accounts(raws []Raw, category domain.Category) []domain.NormalizedAccount {
	out := make([]domain.NormalizedAccount, 0, len(raws))
	for _, r := range raws {
		out = append(out, Account(r, category))
	}
	return out
}

func resolveCategory(raw Raw, tag domain.Category) domain.Category {
	if tag != "" && tag != domain.CategoryOther {
		return tag
	}
	if name, ok := firstOf(raw, categoryPaths, asString); ok {
		if c, known := domain.ParseCategory(name); known {
			return c
		}
	}
	return domain.CategoryOther
}

func steamDetails(raw Raw) *domain.SteamDetails {
	d := &domain.SteamDetails{
		SteamCountry: domain.UnknownValue,
		SteamGames:   map[string]domain.SteamGame{},
	}
	d.SteamLevel, _ = firstOf(raw, steamPaths.level, asInt)
	if c, ok := firstOf(raw, steamPaths.country, asString); ok {
		d.SteamCountry = c
	}
	if games, ok := firstOf(raw, steamPaths.games, asSteamGames); ok {
		d.SteamGames = games
	}
	if n, ok := firstOf(raw, steamPaths.gameCount, asInt); ok {
		d.SteamGameCount = n
	} else {
		d.SteamGameCount = len(d.SteamGames)
	}
	return d
}

// asSteamGames reads either {appid: {title, playtime_forever}} or a list of
// {appid, title, playtime_forever}. Playtime is upstream minutes.
func asSteamGames(v any) (map[string]domain.SteamGame, bool) {
	out := map[string]domain.SteamGame{}
	add := func(id string, obj map[string]any) {
		title, ok := firstOf(obj, []string{"title", "name"}, asString)
		if !ok {
			title = domain.UnknownValue
		}
		minutes, _ := firstOf(obj, []string{"playtime_forever", "playtime"}, asFloat)
		out[id] = domain.SteamGame{Title: title, PlaytimeHours: minutes / 60}
	}

	switch x := v.(type) {
	case map[string]any:
		for id, e := range x {
			if obj, ok := e.(map[string]any); ok {
				add(id, obj)
			}
		}
	case []any:
		for _, e := range x {
			obj, ok := e.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := firstOf(obj, []string{"appid", "app_id", "id"}, asString); ok {
				add(id, obj)
			}
		}
	default:
		return nil, false
	}
	return out, true
}

func fortniteDetails(raw Raw) *domain.FortniteDetails {
	d := &domain.FortniteDetails{}
	d.FortniteLevel, _ = firstOf(raw, fortnitePaths.level, asInt)
	d.FortniteVbucks, _ = firstOf(raw, fortnitePaths.vbucks, asInt)
	d.FortniteSkins = namesOrEmpty(raw, fortnitePaths.skins)
	d.FortnitePickaxes = namesOrEmpty(raw, fortnitePaths.pickaxes)
	d.FortniteEmotes = namesOrEmpty(raw, fortnitePaths.emotes)
	return d
}

func namesOrEmpty(raw Raw, paths []string) []string {
	if names, ok := firstOf(raw, paths, asNames); ok {
		return names
	}
	return []string{}
}

func riotDetails(raw Raw) *domain.RiotDetails {
	d := &domain.RiotDetails{
		RiotValorantRank: domain.UnknownValue,
		RiotRegion:       domain.UnknownValue,
	}
	d.RiotValorantLevel, _ = firstOf(raw, riotPaths.level, asInt)
	if r, ok := firstOf(raw, riotPaths.rank, asString); ok {
		d.RiotValorantRank = r
	}
	if r, ok := firstOf(raw, riotPaths.region, asString); ok {
		d.RiotRegion = strings.ToUpper(r)
	}
	return d
}

func discordDetails(raw Raw) *domain.DiscordDetails {
	d := &domain.DiscordDetails{}
	d.DiscordNitro, _ = firstOf(raw, discordPaths.nitro, asBool)
	d.DiscordCreatedAt = displayTime(raw, discordPaths.created)
	return d
}

func instagramDetails(raw Raw) *domain.InstagramDetails {
	d := &domain.InstagramDetails{}
	d.InstagramFollowers, _ = firstOf(raw, instagramPaths.followers, asInt)
	d.InstagramPosts, _ = firstOf(raw, instagramPaths.posts, asInt)
	return d
}

func telegramDetails(raw Raw) *domain.TelegramDetails {
	d := &domain.TelegramDetails{TelegramCountry: domain.UnknownValue}
	d.TelegramPremium, _ = firstOf(raw, telegramPaths.premium, asBool)
	if c, ok := firstOf(raw, telegramPaths.country, asString); ok {
		d.TelegramCountry = strings.ToUpper(c)
	}
	return d
}
