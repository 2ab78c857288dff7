package luxmeter

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/tsl2561-meter/internal/tools"
)

const (
	ServiceName = "TSL2561 Lux Meter"
	// Default range for the graph and the conditions summary.
	DefaultRangeWindow = 24 * time.Hour
)

// Server is the read-only HTTP surface over the store and the loop status.
type Server struct {
	Store    *Store
	Status   *Status
	DBPath   string
	Location *time.Location
	Log      logrus.FieldLogger
}

type Conditions struct {
	SessionID             string  `json:"sessionID"`
	Lux                   float32 `json:"lux"`
	Channel0              uint16  `json:"channel0"`
	Channel1              uint16  `json:"channel1"`
	FullSpectrum          float64 `json:"fullSpectrum"`
	Visible               float64 `json:"visible"`
	Infrared              float64 `json:"infrared"`
	RecordedAt            string  `json:"recordedAt"`
	DateRange             string  `json:"dateRange"`
	ReadingsInRange       int     `json:"readingsInRange"`
	RecordedHoursInRange  float64 `json:"recordedHoursInRange"`
	AverageLuxInRange     float64 `json:"averageLuxInRange"`
	MaxLuxInRange         float64 `json:"maxLuxInRange"`
	LightConditionInRange string  `json:"lightConditionInRange"`
}

// Routes mounts the API, the graph and the service id on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/id", s.ServeID())
	r.Route("/luxmeter", func(r chi.Router) {
		r.Get("/graph", s.ServeResultsGraph())
		r.Post("/graph", s.ServeResultsGraph())
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.ServeStatus())
		r.Get("/current-conditions", s.CurrentConditions())
		r.With(tools.CheckInNetwork).Get("/export", s.ServeResultsDB())
	})
}

func (s *Server) ServeID() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			ServiceName string `json:"service_name"`
		}{
			ServiceName: ServiceName,
		}
		writeJSON(w, http.StatusOK, response)
	}
}

func (s *Server) ServeStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Status.Snapshot())
	}
}

// CurrentConditions serves the latest reading and a summary of the requested range.
func (s *Server) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest, err := s.Store.Latest(r.Context())
		if errors.Is(err, ErrNoReadings) {
			ServeResponse(w, r, "No readings recorded yet", http.StatusNotFound)
			return
		} else if err != nil {
			s.Log.WithError(err).Error("Failed to load latest reading")
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}

		startDate, endDate := tools.ParseStartAndEndDate(r, s.Location, DefaultRangeWindow)
		summary, err := s.Store.Summary(r.Context(), startDate, endDate)
		if err != nil {
			s.Log.WithError(err).Error("Failed to summarize readings")
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}

		conditions := Conditions{
			SessionID:             latest.SessionID,
			Lux:                   latest.Lux,
			Channel0:              latest.Channel0,
			Channel1:              latest.Channel1,
			FullSpectrum:          latest.FullSpectrum,
			Visible:               latest.Visible,
			Infrared:              latest.Infrared,
			RecordedAt:            latest.Time.UTC().Format(tools.LayoutDB),
			DateRange:             fmt.Sprintf("%s - %s UTC", startDate, endDate),
			ReadingsInRange:       summary.Count,
			AverageLuxInRange:     summary.AvgLux,
			MaxLuxInRange:         summary.MaxLux,
			LightConditionInRange: LightCondition(summary),
		}
		if summary.Count > 0 {
			conditions.RecordedHoursInRange = summary.LastTime.Sub(summary.FirstTime).Hours()
		}
		writeJSON(w, http.StatusOK, conditions)
	}
}

// LightCondition classifies the average lux of a range.
func LightCondition(sum Summary) string {
	switch {
	case sum.Count == 0:
		return "No Data in Range"
	case sum.AvgLux >= 25000:
		return "Full Sun"
	case sum.AvgLux >= 10000:
		return "Partial Sun"
	case sum.AvgLux >= 1000:
		return "Partial Shade"
	default:
		return "Shade"
	}
}

// Serve the sqlite db for download
func (s *Server) ServeResultsDB() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", "attachment; filename=luxmeter.db")
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, s.DBPath)
	}
}

// Serve the lux graph for the requested range
func (s *Server) ServeResultsGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startDate, endDate := tools.ParseStartAndEndDate(r, s.Location, DefaultRangeWindow)
		readings, err := s.Store.Range(r.Context(), startDate, endDate)
		if err != nil {
			s.Log.WithError(err).Error("Failed to load readings")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var luxValues []opts.LineData
		var timeValues []string
		maxLux := 500
		for _, reading := range readings {
			lux := float64(reading.Lux)
			if lux > float64(maxLux) {
				// Round up to the nearest 500
				maxLux = int(math.Ceil(lux/500) * 500)
			}
			luxValues = append(luxValues, opts.LineData{Value: lux})
			timeValues = append(timeValues, reading.Time.UTC().Format(tools.LayoutDB))
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{
				Theme:     types.ThemeChalk,
				PageTitle: ServiceName,
			}),
			charts.WithXAxisOpts(opts.XAxis{
				Name: "Time",
			}),
			charts.WithYAxisOpts(opts.YAxis{
				Name: "Lux",
				Min:  "0",
				Max:  fmt.Sprintf("%d", maxLux),
			}),
			charts.WithTooltipOpts(opts.Tooltip{
				Show:      true,
				Trigger:   "axis",
				TriggerOn: "mousemove",
			}),
			charts.WithToolboxOpts(opts.Toolbox{
				Show: true,
				Feature: &opts.ToolBoxFeature{
					SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{
						Show:  true,
						Title: "Save as Image",
						Name:  "luxmeter",
					},
				},
			}),
		)
		line.SetXAxis(timeValues).AddSeries("Lux", luxValues)

		page := components.NewPage()
		page.AddCharts(line)

		w.Header().Set("Content-Type", "text/html")
		if err := page.Render(w); err != nil {
			s.Log.WithError(err).Error("Failed to render graph")
		}
	}
}

// ServeResponse replies with a JSON message on the API routes and plain text elsewhere.
func ServeResponse(w http.ResponseWriter, r *http.Request, message string, status int) {
	if strings.Contains(r.URL.Path, "/api/v1/") {
		writeJSON(w, status, map[string]string{"message": message})
		return
	}
	http.Error(w, message, status)
}

// HandleServerPanic recovers a handler panic into a 500 response.
func HandleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				ServeResponse(w, r, fmt.Sprintf("%v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
