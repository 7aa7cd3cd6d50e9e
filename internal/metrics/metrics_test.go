package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeConns struct {
	conns  int64
	pixels uint64
}

func (f fakeConns) Connections() int64  { return f.conns }
func (f fakeConns) PixelWrites() uint64 { return f.pixels }

type fakeImages map[uint8]int

func (f fakeImages) Count(id uint8) int { return f[id] }

type fakeStats int

func (f fakeStats) Count() int { return int(f) }

func TestHandlerRendersAllGauges(t *testing.T) {
	images := fakeImages{0: 2, 1: 0}
	c := NewCollector(fakeConns{conns: 5, pixels: 1000}, images, fakeStats(3), []uint8{1, 0})

	rec := httptest.NewRecorder()
	c.Handler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"flutserver_connections 5",
		"flutserver_pixel_writes_total 1000",
		"flutserver_stats_subscribers 3",
		`flutserver_image_subscribers{canvas="0"} 2`,
		`flutserver_image_subscribers{canvas="1"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q; got:\n%s", want, body)
		}
	}
}

func TestHandlerCanvasIDsSorted(t *testing.T) {
	images := fakeImages{5: 1, 2: 1, 9: 1}
	c := NewCollector(fakeConns{}, images, fakeStats(0), []uint8{9, 2, 5})

	rec := httptest.NewRecorder()
	c.Handler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	i2 := strings.Index(body, `canvas="2"`)
	i5 := strings.Index(body, `canvas="5"`)
	i9 := strings.Index(body, `canvas="9"`)
	if !(i2 < i5 && i5 < i9) {
		t.Fatalf("expected canvas lines in ascending id order, got:\n%s", body)
	}
}
