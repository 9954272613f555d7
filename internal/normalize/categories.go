package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/accmarket/market-bfa-go/internal/domain"
)

var (
	categoryIDPaths    = []string{"category_id", "id"}
	categoryNamePaths  = []string{"category_name", "name"}
	categoryTitlePaths = []string{"category_title", "title"}
)

// Categories decodes the /category response, either a bare list or a
// {"categories": [...]} wrapper. Entries without a name are dropped.
func Categories(body []byte) ([]domain.CategoryInfo, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}

	if obj, ok := raw.(map[string]any); ok {
		raw = obj["categories"]
	}

	out := []domain.CategoryInfo{}
	for _, r := range records(raw) {
		name, ok := firstOf(r, categoryNamePaths, asString)
		if !ok {
			continue
		}
		info := domain.CategoryInfo{Name: name, Title: name}
		info.ID, _ = firstOf(r, categoryIDPaths, asInt)
		if title, ok := firstOf(r, categoryTitlePaths, asString); ok {
			info.Title = title
		}
		out = append(out, info)
	}
	return out, nil
}
