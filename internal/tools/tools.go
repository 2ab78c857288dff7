package tools

import (
	"net"
	"net/http"
	"time"
)

const (
	layoutInput = "2006-01-02T15:04"
	LayoutDB    = "2006-01-02 15:04:05"
)

// Prevent out-of-network requests to the export and control endpoints
func CheckInNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		parsedIP := net.ParseIP(ip)
		if parsedIP == nil {
			http.Error(w, "Invalid IP address", http.StatusBadRequest)
			return
		}
		if !isLocalAddress(parsedIP) {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalAddress(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// ParseStartAndEndDate reads the start/end form values (local time in loc)
// and returns them as UTC strings comparable with the DB timestamps. A
// missing or malformed bound falls back to the trailing window ending now.
func ParseStartAndEndDate(r *http.Request, loc *time.Location, window time.Duration) (string, string) {
	r.ParseForm()
	now := time.Now().UTC()
	start := now.Add(-window)
	end := now
	if t, ok := parseLocal(r.FormValue("start"), loc); ok {
		start = t
	}
	if t, ok := parseLocal(r.FormValue("end"), loc); ok {
		end = t
	}
	return start.Format(LayoutDB), end.Format(LayoutDB)
}

func parseLocal(value string, loc *time.Location) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(layoutInput, value, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
