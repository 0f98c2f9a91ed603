package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
	"github.com/jonboulle/clockwork"
)

const (
	stampLayout  = "20060102150405"
	latestLayout = "2006/01/02 15:04:05"

	mapWidth  = 352
	mapHeight = 400

	// Rough bounds of the feed's map projection.
	mapWest, mapEast   = 128.0, 146.0
	mapNorth, mapSouth = 46.0, 30.0

	kmPerPixel = 5.0
	sWaveKmPS  = 4.0
	pWaveKmPS  = 7.0
)

// scriptedReport is one update of the replayed episode.
type scriptedReport struct {
	AtSeconds int    `json:"at_seconds"`
	Magnitude string `json:"magnitude"`
	Intensity string `json:"intensity"`
	Alert     string `json:"alert"`
	Final     bool   `json:"final"`
	Cancel    bool   `json:"cancel"`
	Training  bool   `json:"training"`
}

// episode describes one earthquake and the reports published about it.
type episode struct {
	Region      string           `json:"region_name"`
	Latitude    float64          `json:"latitude"`
	Longitude   float64          `json:"longitude"`
	Depth       string           `json:"depth"`
	OriginLead  int              `json:"origin_lead_seconds"`
	HoldSeconds int              `json:"hold_seconds"`
	Reports     []scriptedReport `json:"reports"`
}

func defaultEpisode() episode {
	return episode{
		Region:      "東海道南方沖",
		Latitude:    33.6,
		Longitude:   138.5,
		Depth:       "10km",
		OriginLead:  8,
		HoldSeconds: 20,
		Reports: []scriptedReport{
			{AtSeconds: 0, Magnitude: "3.7", Intensity: "1", Alert: "予報"},
			{AtSeconds: 3, Magnitude: "4.5", Intensity: "3", Alert: "予報"},
			{AtSeconds: 7, Magnitude: "5.8", Intensity: "5弱", Alert: "警報"},
			{AtSeconds: 15, Magnitude: "5.9", Intensity: "5弱", Alert: "警報", Final: true},
		},
	}
}

func (e episode) validate(window time.Duration) error {
	if len(e.Reports) == 0 {
		return errors.New("episode has no reports")
	}
	prev := -1
	for i, r := range e.Reports {
		if r.AtSeconds <= prev {
			return fmt.Errorf("report %d: at_seconds must increase", i+1)
		}
		prev = r.AtSeconds
	}
	if d := time.Duration(prev+e.HoldSeconds) * time.Second; d >= window {
		return fmt.Errorf("episode lasts %s, longer than the %s cycle window", d, window)
	}
	return nil
}

// feed answers feed requests from a scripted episode replayed every period.
type feed struct {
	ep     episode
	clock  clockwork.Clock
	period time.Duration
	lead   time.Duration
}

func newFeed(ep episode, clock clockwork.Clock, period, lead time.Duration) *feed {
	return &feed{ep: ep, clock: clock, period: period, lead: lead}
}

func (f *feed) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webservice/server/pros/latest.json", f.handleLatest)
	mux.HandleFunc("GET /webservice/hypo/eew/{file}", f.handleReport)
	mux.HandleFunc("GET /data/map_img/CommonImg/base_map_w.gif", f.handleBaseMap)
	mux.HandleFunc("GET /data/map_img/{kind}/{sub}/{day}/{file}", f.handleLayer)
	return mux
}

// latest is the newest instant the feed has published: one second behind now.
func (f *feed) latest() time.Time {
	return f.clock.Now().Add(-time.Second).Truncate(time.Second).In(domain.FeedLocation)
}

func (f *feed) handleLatest(w http.ResponseWriter, _ *http.Request) {
	now := f.clock.Now().In(domain.FeedLocation)
	writeJSON(w, map[string]any{
		"latest_time":  f.latest().Format(latestLayout),
		"request_time": now.Format(latestLayout),
		"result":       map[string]any{"status": "success", "message": ""},
	})
}

func (f *feed) handleReport(w http.ResponseWriter, r *http.Request) {
	t, ok := f.instant(w, strings.TrimSuffix(r.PathValue("file"), ".json"))
	if !ok {
		return
	}
	writeJSON(w, f.reportAt(t))
}

func (f *feed) handleBaseMap(w http.ResponseWriter, _ *http.Request) {
	img := image.NewPaletted(image.Rect(0, 0, mapWidth, mapHeight), color.Palette{
		color.RGBA{R: 0xf4, G: 0xf4, B: 0xf4, A: 0xff},
		color.RGBA{R: 0xb0, G: 0xb0, B: 0xb0, A: 0xff},
	})
	// A coarse graticule so overlays have something to sit on.
	for y := 0; y < mapHeight; y += 25 {
		for x := range mapWidth {
			img.SetColorIndex(x, y, 1)
		}
	}
	for x := 0; x < mapWidth; x += 22 {
		for y := range mapHeight {
			img.SetColorIndex(x, y, 1)
		}
	}
	writeGIF(w, img)
}

func (f *feed) handleLayer(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	stamp, _, _ := strings.Cut(file, ".")
	t, ok := f.instant(w, stamp)
	if !ok {
		return
	}

	img := transparentLayer()
	idx, origin := f.activeAt(t)
	active := idx >= 0
	switch r.PathValue("kind") {
	case "RealTimeImg":
		drawStations(img, active)
	case "EstShindoImg":
		if active {
			drawDisk(img, f.epicenterPixel(), 30, 2)
		}
	case "PSWaveImg":
		if active {
			elapsed := t.Sub(origin).Seconds()
			drawRing(img, f.epicenterPixel(), elapsed*pWaveKmPS/kmPerPixel, 3)
			drawRing(img, f.epicenterPixel(), elapsed*sWaveKmPS/kmPerPixel, 2)
		}
	default:
		http.NotFound(w, r)
		return
	}
	writeGIF(w, img)
}

// instant parses a path stamp and rejects instants the feed has not
// published yet, the way the real feed answers 404 for them.
func (f *feed) instant(w http.ResponseWriter, stamp string) (time.Time, bool) {
	t, err := time.ParseInLocation(stampLayout, stamp, domain.FeedLocation)
	if err != nil {
		http.Error(w, "bad stamp", http.StatusBadRequest)
		return time.Time{}, false
	}
	if t.After(f.latest()) {
		http.Error(w, "not published", http.StatusNotFound)
		return time.Time{}, false
	}
	return t, true
}

// activeAt returns the index of the scripted report in force at t and the
// origin time of its episode. The index is -1 outside the episode.
func (f *feed) activeAt(t time.Time) (int, time.Time) {
	start := f.episodeStart(t)
	origin := start.Add(-time.Duration(f.ep.OriginLead) * time.Second)
	offset := int(t.Sub(start) / time.Second)
	last := f.ep.Reports[len(f.ep.Reports)-1]
	if offset < 0 || offset >= last.AtSeconds+f.ep.HoldSeconds {
		return -1, origin
	}
	active := -1
	for i, r := range f.ep.Reports {
		if r.AtSeconds <= offset {
			active = i
		}
	}
	return active, origin
}

func (f *feed) episodeStart(t time.Time) time.Time {
	return t.Truncate(f.period).Add(f.lead).In(domain.FeedLocation)
}

func (f *feed) reportAt(t time.Time) map[string]any {
	doc := map[string]any{
		"result":            map[string]any{"status": "success", "message": "", "is_auth": true},
		"request_time":      t.Format(stampLayout),
		"request_hypo_type": "eew",
		"region_code":       "",
	}
	idx, origin := f.activeAt(t)
	if idx < 0 {
		for _, k := range []string{"report_time", "region_name", "longitude", "is_cancel", "depth",
			"calcintensity", "is_final", "is_training", "latitude", "origin_time", "magunitude",
			"report_num", "report_id"} {
			doc[k] = ""
		}
		return doc
	}

	active := f.ep.Reports[idx]
	start := f.episodeStart(t)
	doc["report_time"] = start.Add(time.Duration(active.AtSeconds) * time.Second).Format(latestLayout)
	doc["region_name"] = f.ep.Region
	doc["latitude"] = fmt.Sprintf("%.1f", f.ep.Latitude)
	doc["longitude"] = fmt.Sprintf("%.1f", f.ep.Longitude)
	doc["depth"] = f.ep.Depth
	doc["calcintensity"] = active.Intensity
	doc["magunitude"] = active.Magnitude
	doc["origin_time"] = origin.Format(stampLayout)
	doc["report_num"] = strconv.Itoa(idx + 1)
	doc["report_id"] = origin.Format(stampLayout)
	doc["is_final"] = active.Final
	doc["is_cancel"] = active.Cancel
	doc["is_training"] = active.Training
	doc["alertflg"] = active.Alert
	return doc
}

func (f *feed) epicenterPixel() image.Point {
	x := (f.ep.Longitude - mapWest) / (mapEast - mapWest) * mapWidth
	y := (mapNorth - f.ep.Latitude) / (mapNorth - mapSouth) * mapHeight
	return image.Pt(int(x), int(y))
}

var layerPalette = color.Palette{
	color.RGBA{},
	color.RGBA{R: 0x30, G: 0xa0, B: 0xff, A: 0xff},
	color.RGBA{R: 0xff, G: 0x40, B: 0x20, A: 0xff},
	color.RGBA{R: 0x20, G: 0x20, B: 0xff, A: 0xff},
	color.RGBA{R: 0xff, G: 0xd0, B: 0x00, A: 0xff},
}

func transparentLayer() *image.Paletted {
	return image.NewPaletted(image.Rect(0, 0, mapWidth, mapHeight), layerPalette)
}

func drawStations(img *image.Paletted, shaking bool) {
	idx := uint8(1)
	if shaking {
		idx = 4
	}
	for y := 40; y < mapHeight-40; y += 37 {
		for x := 30; x < mapWidth-30; x += 41 {
			drawDisk(img, image.Pt(x, y), 2, idx)
		}
	}
}

func drawDisk(img *image.Paletted, c image.Point, radius float64, idx uint8) {
	r := int(math.Ceil(radius))
	for y := c.Y - r; y <= c.Y+r; y++ {
		for x := c.X - r; x <= c.X+r; x++ {
			if math.Hypot(float64(x-c.X), float64(y-c.Y)) <= radius {
				img.SetColorIndex(x, y, idx)
			}
		}
	}
}

func drawRing(img *image.Paletted, c image.Point, radius float64, idx uint8) {
	if radius <= 0 {
		return
	}
	for deg := 0.0; deg < 360; deg += 0.5 {
		rad := deg * math.Pi / 180
		img.SetColorIndex(c.X+int(radius*math.Cos(rad)), c.Y+int(radius*math.Sin(rad)), idx)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeGIF(w http.ResponseWriter, img image.Image) {
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/gif")
	_, _ = w.Write(buf.Bytes())
}
