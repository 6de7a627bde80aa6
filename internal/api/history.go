package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/history"
)

// trendSeries is one tank's hot-tier series for the history endpoint.
type trendSeries struct {
	DeviceUID string             `json:"device"`
	Tank      int                `json:"tank"`
	Label     string             `json:"label,omitempty"`
	Points    []history.Snapshot `json:"points"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	trends := s.history.Trends()

	labels := make(map[fleet.Key]string)
	for _, rec := range s.fleet.Snapshot() {
		labels[fleet.Key{DeviceUID: rec.DeviceUID, Tank: rec.Tank}] = rec.Label
	}

	series := make([]trendSeries, 0, len(trends))
	for key, points := range trends {
		series = append(series, trendSeries{
			DeviceUID: key.DeviceUID,
			Tank:      key.Tank,
			Label:     labels[key],
			Points:    points,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"trends":      series,
		"alarms":      s.history.Alarms(50),
		"generatedAt": s.clock.Now(),
	})
}

func validMonth(m string) bool {
	if len(m) != 6 {
		return false
	}
	_, err := time.Parse("200601", m)
	return err == nil
}

func (s *Server) handleHistoryCompare(w http.ResponseWriter, r *http.Request) {
	current, _ := QueryString(r, "current")
	previous, _ := QueryString(r, "previous")
	if !validMonth(current) || !validMonth(previous) {
		WriteError(w, http.StatusBadRequest, "current and previous must be YYYYMM")
		return
	}

	resp := map[string]any{
		"current":  s.history.BuildMonthlySummary(current),
		"previous": s.history.BuildMonthlySummary(previous),
	}
	if hint := s.history.ArchiveKeyHint(previous); hint != "" {
		resp["previousArchiveKey"] = hint
		if doc, err := s.history.FetchArchivedMonth(r.Context(), previous); err == nil {
			resp["previousArchived"] = doc
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// parseTankParam splits "<uid>:<n>". Device UIDs may themselves contain
// colons, so the tank number is taken from the last segment.
func parseTankParam(v string) (fleet.Key, error) {
	i := strings.LastIndex(v, ":")
	if i <= 0 || i == len(v)-1 {
		return fleet.Key{}, fmt.Errorf("tank must be <uid>:<n>, got %q", v)
	}
	n, err := strconv.Atoi(v[i+1:])
	if err != nil {
		return fleet.Key{}, fmt.Errorf("tank number in %q: %w", v, err)
	}
	return fleet.Key{DeviceUID: v[:i], Tank: n}, nil
}

// yoyMonth is one year's slice of the year-over-year comparison.
type yoyMonth struct {
	Month    string                  `json:"month"`
	Source   string                  `json:"source"`
	Stats    *history.TankMonthStats `json:"stats,omitempty"`
	Archived bool                    `json:"archived"`
}

func (s *Server) handleHistoryYoy(w http.ResponseWriter, r *http.Request) {
	tankParam, ok := QueryString(r, "tank")
	if !ok {
		WriteError(w, http.StatusBadRequest, "tank parameter required")
		return
	}
	key, err := parseTankParam(tankParam)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	years, ok := QueryInt(r, "years")
	if !ok || years < 1 {
		years = 3
	}
	if years > 10 {
		years = 10
	}

	now := s.clock.Now()
	if now == 0 {
		now = float64(time.Now().Unix())
	}
	base := time.Unix(int64(now), 0).UTC()

	out := make([]yoyMonth, 0, years)
	for i := 0; i < years; i++ {
		month := base.AddDate(-i, 0, 0).Format("200601")
		entry := yoyMonth{Month: month}
		if i == 0 {
			if st, ok := s.history.MonthStats(key, month); ok {
				entry.Source = "hot"
				entry.Stats = &st
			}
		} else if doc, err := s.history.FetchArchivedMonth(r.Context(), month); err == nil && doc != nil {
			entry.Archived = true
			entry.Source = "archive"
			for j := range doc.Tanks {
				if doc.Tanks[j].DeviceUID == key.DeviceUID && doc.Tanks[j].Tank == key.Tank {
					entry.Stats = &doc.Tanks[j]
					break
				}
			}
		}
		out = append(out, entry)
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"device": key.DeviceUID,
		"tank":   key.Tank,
		"years":  out,
	})
}
