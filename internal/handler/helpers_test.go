package handler

import (
	"net/url"
	"testing"
	"time"

	"github.com/accmarket/market-bfa-go/internal/domain"
)

func TestFiltersFromQuery(t *testing.T) {
	q, _ := url.ParseQuery("page=2&game[]=730&game[]=570&mm_ban[3]=x&mm_ban[1]=y&country=DE&weird[key]=1")

	got := filtersFromQuery(q)

	want := domain.Filters{
		"page":       "2",
		"game":       []string{"730", "570"},
		"mm_ban":     []string{"y", "x"},
		"country":    "DE",
		"weird[key]": "1",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d filters, got %v", len(want), got)
	}
	for k, w := range want {
		switch wv := w.(type) {
		case string:
			if got[k] != wv {
				t.Errorf("%s: expected %q, got %v", k, wv, got[k])
			}
		case []string:
			gv, ok := got[k].([]string)
			if !ok || len(gv) != len(wv) {
				t.Fatalf("%s: expected %v, got %v", k, wv, got[k])
			}
			for i := range wv {
				if gv[i] != wv[i] {
					t.Errorf("%s[%d]: expected %q, got %q", k, i, wv[i], gv[i])
				}
			}
		}
	}
}

func TestIPLimiter_BudgetPerWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	l := newIPLimiter(2, 2*time.Second)
	l.now = func() time.Time { return now }

	if !l.allow("10.0.0.1").allowed || !l.allow("10.0.0.1").allowed {
		t.Fatal("expected the first two requests to pass")
	}
	q := l.allow("10.0.0.1")
	if q.allowed || q.remaining != 0 {
		t.Fatalf("expected the third request to be limited, got %+v", q)
	}
	if q.reset != 2*time.Second {
		t.Errorf("expected the window to reset in 2s, got %s", q.reset)
	}
	if !l.allow("10.0.0.2").allowed {
		t.Fatal("expected another IP to have its own budget")
	}

	now = now.Add(time.Second)
	if l.allow("10.0.0.1").allowed {
		t.Fatal("expected no refill before the window closes")
	}

	now = now.Add(time.Second)
	if q := l.allow("10.0.0.1"); !q.allowed || q.remaining != 1 {
		t.Fatalf("expected a fresh budget in the next window, got %+v", q)
	}
}

func TestIPLimiter_SteadyClientNeverExceedsBudget(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l := newIPLimiter(100, 15*time.Minute)
	l.now = func() time.Time { return now }

	// One request per second for two full windows.
	admitted := map[int]int{}
	for s := 0; s < 2*15*60; s++ {
		now = start.Add(time.Duration(s) * time.Second)
		if l.allow("10.0.0.1").allowed {
			admitted[s/(15*60)]++
		}
	}

	for w, n := range admitted {
		if n != 100 {
			t.Errorf("window %d: expected exactly 100 admissions, got %d", w, n)
		}
	}
	if len(admitted) != 2 {
		t.Errorf("expected admissions in both windows, got %v", admitted)
	}
}

func TestIPLimiter_EvictsIdleVisitors(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	l := newIPLimiter(5, time.Minute)
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	now = now.Add(2 * time.Minute)
	l.allow("10.0.0.2")

	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Error("expected idle visitor to be evicted")
	}
}
