package notify

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"text/template"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
)

// Unknown is printed for any field the report does not carry.
const Unknown = "不明"

// DefaultTemplate is the alert text sent to every channel.
const DefaultTemplate = `{{if .Emergency}}>>>揺れる可能性あり<<<
{{end}}概要:M-{{.Magnitude}} Max-{{.MaxIntensity}} time-{{.ArrivalSpan}} dis-{{.Distance}}
緊急地震速報({{.AlertLabel}}) 第{{.ReportNumber}}報 {{if .Final}}(最終報){{end}}{{if .Cancel}}(取消){{end}}{{if .Training}}(訓練){{end}}
更新時刻: {{.ReportTime}}

発生時刻: {{.OriginTime}}
震源: {{.Region}}
最大震度: {{.MaxIntensity}}
マグニチュード: {{.Magnitude}}
深さ: {{.Depth}}

震源からの距離: {{.Distance}} km
>>>到達まで: {{.ArrivalSpan}} 秒後<<<

震源座標: {{.Epicenter}}
到達予想時刻: {{.ArrivalTime}}{{if .SiteURL}}
URL: {{.SiteURL}}{{end}}`

const clockLayout = "15時04分05秒"

// TemplateData provides the printable fields of a report.
type TemplateData struct {
	Emergency    bool
	Final        bool
	Cancel       bool
	Training     bool
	AlertLabel   string
	ReportNumber string
	ReportTime   string
	OriginTime   string
	ArrivalTime  string
	Region       string
	MaxIntensity string
	Magnitude    string
	Depth        string
	Distance     string
	ArrivalSpan  string
	Epicenter    string
	SiteURL      string
}

// NewTemplateData formats r for display. Missing values print as Unknown.
func NewTemplateData(r domain.WarningReport, emergency bool, siteURL string) TemplateData {
	data := TemplateData{
		Emergency:    emergency,
		Final:        r.IsFinal,
		Cancel:       r.IsCancel,
		Training:     r.IsTraining,
		AlertLabel:   orUnknown(r.AlertState.Label()),
		ReportNumber: Unknown,
		ReportTime:   clock(r.ReportTime),
		OriginTime:   clock(r.OriginTime),
		ArrivalTime:  clock(r.ArrivalTime),
		Region:       orUnknown(r.RegionName),
		MaxIntensity: orUnknown(r.MaxIntensityRaw),
		Magnitude:    orUnknown(r.MagnitudeRaw),
		Depth:        orUnknown(r.DepthRaw),
		Distance:     Unknown,
		ArrivalSpan:  Unknown,
		Epicenter:    Unknown,
		SiteURL:      siteURL,
	}
	if r.ReportNumber != nil {
		data.ReportNumber = strconv.Itoa(*r.ReportNumber)
	}
	if r.DistanceKm != nil {
		data.Distance = strconv.Itoa(int(*r.DistanceKm))
	}
	if r.ArrivalSpanSeconds != nil {
		data.ArrivalSpan = strconv.Itoa(*r.ArrivalSpanSeconds)
	}
	if r.Epicenter != nil {
		data.Epicenter = fmt.Sprintf("%s, %s",
			strconv.FormatFloat(r.Epicenter.Lat, 'f', -1, 64),
			strconv.FormatFloat(r.Epicenter.Lon, 'f', -1, 64))
	}
	return data
}

// Template renders alert text.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("eew-alert").Parse(tpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

// Chunks splits text into pieces of at most size runes each.
func Chunks(text string, size int) []string {
	runes := []rune(text)
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

func clock(t *time.Time) string {
	if t == nil {
		return Unknown
	}
	return t.In(domain.FeedLocation).Format(clockLayout)
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
